// Package events is the in-process publish/subscribe bus for session lifecycle and ledger events.
package events

import (
	"time"

	"github.com/google/uuid"

	"proctoring-engine/internal/session/domain"
)

// Type identifies an event kind.
type Type string

const (
	TypeSessionStarted       Type = "session.started"
	TypeSessionEnded         Type = "session.ended"
	TypeSessionStatusChanged Type = "session.status_changed"
	TypeViolationReported    Type = "violation.reported"
	TypeVerificationRecorded Type = "verification.recorded"
)

// Event is a notification about a session. Only the payload fields relevant to Type are set.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ExamID     string    `json:"exam_id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	OccurredAt time.Time `json:"occurred_at"`
	// ActorID is the caller that caused the event; empty for the session's own student.
	ActorID string `json:"actor_id,omitempty"`

	OldStatus    domain.Status              `json:"old_status,omitempty"`
	NewStatus    domain.Status              `json:"new_status,omitempty"`
	Reason       string                     `json:"reason,omitempty"`
	Violation    *domain.Violation          `json:"violation,omitempty"`
	Verification *domain.VerificationRecord `json:"verification,omitempty"`
	Report       *domain.FinalReport        `json:"report,omitempty"`
}

func newEvent(t Type, s *domain.Session, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ExamID:     s.ExamID,
		SessionID:  s.ID,
		StudentID:  s.StudentID,
		OccurredAt: now,
	}
}

// SessionStarted is published when a new session is created (not when an existing one is resumed).
func SessionStarted(s *domain.Session, now time.Time) Event {
	return newEvent(TypeSessionStarted, s, now)
}

// SessionEnded carries the final report of a session that reached a terminal status.
func SessionEnded(s *domain.Session, now time.Time) Event {
	e := newEvent(TypeSessionEnded, s, now)
	e.NewStatus = s.Status
	e.Reason = s.TerminationReason
	if s.FinalReport != nil {
		r := *s.FinalReport
		e.Report = &r
	}
	return e
}

func SessionStatusChanged(s *domain.Session, old domain.Status, reason string, now time.Time) Event {
	e := newEvent(TypeSessionStatusChanged, s, now)
	e.OldStatus = old
	e.NewStatus = s.Status
	e.Reason = reason
	return e
}

func ViolationReported(s *domain.Session, v domain.Violation, now time.Time) Event {
	e := newEvent(TypeViolationReported, s, now)
	e.Violation = &v
	return e
}

func VerificationRecorded(s *domain.Session, rec domain.VerificationRecord, now time.Time) Event {
	e := newEvent(TypeVerificationRecorded, s, now)
	e.Verification = &rec
	return e
}
