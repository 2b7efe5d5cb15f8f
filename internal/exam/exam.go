// Package exam is the engine's view of the exam and enrollment subsystem: exam status, per-exam
// proctoring settings, rosters and the active student list. The engine only reads these facts.
package exam

import (
	"context"
	"strings"
)

// Status is the exam lifecycle state owned by the scheduling subsystem.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Ended reports whether live sessions of the exam should be closed.
func (s Status) Ended() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Settings are the per-exam proctoring switches.
type Settings struct {
	FaceVerificationRequired bool `yaml:"face_verification_required"`
	// TabSwitchLimit terminates a session once its tab_switch violations exceed it. Zero disables the limit.
	TabSwitchLimit int `yaml:"tab_switch_limit"`
}

// Student is one roster member. PhotoRef points at the student's reference photo, if any.
type Student struct {
	IdentityRef string `yaml:"id"`
	FullName    string `yaml:"name"`
	PhotoRef    string `yaml:"photo"`
}

// Directory answers questions about exams and enrollment. Unknown exams return errs.ErrNotFound.
type Directory interface {
	Status(ctx context.Context, examID string) (Status, error)
	IsEnrolled(ctx context.Context, examID, studentID string) (bool, error)
	Settings(ctx context.Context, examID string) (Settings, error)
	Roster(ctx context.Context, examID string) ([]Student, error)
	ActiveStudents(ctx context.Context) ([]Student, error)
}

// SessionKey groups attendance records: an exam type plus a course, e.g. "midterm/CS101".
type SessionKey struct {
	ExamType string
	Course   string
}

// String renders the key as "type/course".
func (k SessionKey) String() string {
	return k.ExamType + "/" + k.Course
}

// Valid reports whether both parts are present.
func (k SessionKey) Valid() bool {
	return strings.TrimSpace(k.ExamType) != "" && strings.TrimSpace(k.Course) != ""
}

// ParseSessionKey parses "type/course".
func ParseSessionKey(s string) (SessionKey, bool) {
	examType, course, ok := strings.Cut(s, "/")
	k := SessionKey{ExamType: strings.TrimSpace(examType), Course: strings.TrimSpace(course)}
	return k, ok && k.Valid()
}
