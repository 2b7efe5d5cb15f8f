package face

import (
	"context"
	"testing"
)

func TestDeterministic_Detect(t *testing.T) {
	d := NewDeterministic()
	ctx := context.Background()
	testCases := []struct {
		name    string
		image   []byte
		faces   int
		hasDesc bool
		wantErr bool
	}{
		{"empty image", nil, 0, false, false},
		{"plain payload is one face", []byte("frame"), 1, true, false},
		{"declared two faces", Image(2, "frame"), 2, false, false},
		{"declared zero faces", Image(0, "frame"), 0, false, false},
		{"declared one face", Image(1, "frame"), 1, true, false},
		{"malformed header", []byte("faces:x\nframe"), 0, false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			det, err := d.Detect(ctx, tc.image)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if det.FaceCount != tc.faces || (det.Descriptor != nil) != tc.hasDesc {
				t.Errorf("detection = %+v", det)
			}
			if det.HasFace() != (tc.faces > 0) || det.MultipleFaces() != (tc.faces > 1) {
				t.Errorf("helpers disagree with face count %d", tc.faces)
			}
		})
	}
}

func TestDeterministic_Compare(t *testing.T) {
	d := NewDeterministic()
	ctx := context.Background()

	same, err := d.Compare(ctx, DescriptorOf([]byte("alice")), DescriptorOf([]byte("alice")))
	if err != nil {
		t.Fatal(err)
	}
	if same.Confidence != 1 || !same.Match {
		t.Errorf("self comparison = %+v", same)
	}

	other, err := d.Compare(ctx, DescriptorOf([]byte("alice")), DescriptorOf([]byte("mallory")))
	if err != nil {
		t.Fatal(err)
	}
	if other.Match || other.Confidence < 0 || other.Confidence >= 1 {
		t.Errorf("different faces comparison = %+v", other)
	}

	det, _ := d.Detect(ctx, Image(1, "alice"))
	viaDetect, _ := d.Compare(ctx, DescriptorOf([]byte("alice")), det.Descriptor)
	if !viaDetect.Match {
		t.Error("descriptor from Detect should match DescriptorOf the same payload")
	}

	if _, err := d.Compare(ctx, Descriptor{1}, Descriptor{1, 2}); err == nil {
		t.Error("length mismatch should error")
	}
}

func TestMemoryReferences(t *testing.T) {
	refs := NewMemoryReferences()
	ctx := context.Background()
	if _, ok, _ := refs.Reference(ctx, "s1"); ok {
		t.Error("unknown student should have no reference")
	}
	refs.Enroll("s1", Descriptor{0.5})
	d, ok, err := refs.Reference(ctx, "s1")
	if err != nil || !ok || d[0] != 0.5 {
		t.Errorf("Reference = %v, %v, %v", d, ok, err)
	}
	d[0] = 0
	again, _, _ := refs.Reference(ctx, "s1")
	if again[0] != 0.5 {
		t.Error("Reference should return a copy")
	}
}
