package evidence

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMemoryStore_ContentAddressed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ref1, err := s.Put(ctx, []byte("frame-1"), "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	ref2, _ := s.Put(ctx, []byte("frame-1"), "image/jpeg")
	ref3, _ := s.Put(ctx, []byte("frame-2"), "image/jpeg")

	if ref1 != ref2 {
		t.Error("same payload should yield same ref")
	}
	if ref1 == ref3 {
		t.Error("different payloads should yield different refs")
	}
	if !strings.HasPrefix(ref1, "sha256:") {
		t.Errorf("ref = %q", ref1)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	data, ct, ok := s.Get(ref1)
	if !ok || string(data) != "frame-1" || ct != "image/jpeg" {
		t.Errorf("Get = %q, %q, %v", data, ct, ok)
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Put(context.Background(), nil, ""); !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, []byte("x"), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if _, _, ok := s.Get("sha256:missing"); ok {
		t.Error("missing ref should not be found")
	}
}
