package exam

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"proctoring-engine/internal/platform/errs"
)

func TestStaticDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewStaticDirectory()
	d.Put(Exam{
		ID:       "exam-1",
		Status:   StatusOngoing,
		Settings: Settings{FaceVerificationRequired: true, TabSwitchLimit: 3},
		Roster:   []Student{{IdentityRef: "s1", FullName: "Alice B"}},
	})

	status, err := d.Status(ctx, "exam-1")
	if err != nil || status != StatusOngoing {
		t.Fatalf("Status = %s, %v", status, err)
	}
	if ok, _ := d.IsEnrolled(ctx, "exam-1", "s1"); !ok {
		t.Error("s1 should be enrolled")
	}
	if ok, _ := d.IsEnrolled(ctx, "exam-1", "s2"); ok {
		t.Error("s2 should not be enrolled")
	}
	settings, _ := d.Settings(ctx, "exam-1")
	if !settings.FaceVerificationRequired || settings.TabSwitchLimit != 3 {
		t.Errorf("settings = %+v", settings)
	}

	roster, _ := d.Roster(ctx, "exam-1")
	roster[0].FullName = "mutated"
	again, _ := d.Roster(ctx, "exam-1")
	if again[0].FullName != "Alice B" {
		t.Error("Roster should return a copy")
	}

	if err := d.SetStatus("exam-1", StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if status, _ := d.Status(ctx, "exam-1"); !status.Ended() {
		t.Errorf("status %s should be ended", status)
	}

	testCases := []struct {
		name string
		call func() error
	}{
		{"status", func() error { _, err := d.Status(ctx, "nope"); return err }},
		{"enrolled", func() error { _, err := d.IsEnrolled(ctx, "nope", "s1"); return err }},
		{"settings", func() error { _, err := d.Settings(ctx, "nope"); return err }},
		{"roster", func() error { _, err := d.Roster(ctx, "nope"); return err }},
		{"set status", func() error { return d.SetStatus("nope", StatusOngoing) }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, errs.ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestLoadStaticDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exams.yaml")
	doc := `exams:
  - id: exam-1
    status: ongoing
    settings: {face_verification_required: true, tab_switch_limit: 2}
    roster:
      - {id: s1, name: Alice B, photo: photos/s1.jpg}
      - {id: s2, name: Carol D}
  - id: exam-2
active_students:
  - {id: s1, name: Alice B}
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := LoadStaticDirectory(path)
	if err != nil {
		t.Fatalf("LoadStaticDirectory: %v", err)
	}
	ctx := context.Background()
	roster, _ := d.Roster(ctx, "exam-1")
	if len(roster) != 2 || roster[0].PhotoRef != "photos/s1.jpg" || roster[1].FullName != "Carol D" || roster[1].PhotoRef != "" {
		t.Errorf("roster = %+v", roster)
	}
	if s, _ := d.Status(ctx, "exam-2"); s != StatusScheduled {
		t.Errorf("default status = %s", s)
	}
	active, _ := d.ActiveStudents(ctx)
	if len(active) != 1 {
		t.Errorf("active = %+v", active)
	}
}

func TestSessionKey(t *testing.T) {
	k, ok := ParseSessionKey(" midterm / CS101 ")
	if !ok || k.ExamType != "midterm" || k.Course != "CS101" || k.String() != "midterm/CS101" {
		t.Errorf("ParseSessionKey = %+v, %v", k, ok)
	}
	for _, bad := range []string{"", "midterm", "midterm/", "/CS101"} {
		if _, ok := ParseSessionKey(bad); ok {
			t.Errorf("ParseSessionKey(%q) should fail", bad)
		}
	}
}
