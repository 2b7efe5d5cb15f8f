package repository

import (
	"context"
	"errors"

	"proctoring-engine/internal/ledger"
	"proctoring-engine/internal/session/domain"
)

// ErrLiveSessionExists is returned by Create when the (student, exam) pair already has an active or paused
// session. Postgres enforces it with a partial unique index; the memory store checks it under its lock.
var ErrLiveSessionExists = errors.New("live session already exists for student and exam")

// ErrSessionMissing is returned by Update and the append methods when the session id is unknown.
var ErrSessionMissing = errors.New("session does not exist")

// ErrSessionNotLive is returned by the append methods when the session has already ended.
var ErrSessionNotLive = errors.New("session is not live")

// ListFilter selects sessions for the query API. Empty fields match everything.
type ListFilter struct {
	ExamID    string
	StudentID string
	Status    domain.Status
}

// Repository defines persistence for monitoring sessions and their ledgers.
type Repository interface {
	// GetByID returns the session with both ledgers, or nil if not found.
	// It returns an error only for storage failures, not for missing rows.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetLive returns the active or paused session for the pair, or nil.
	GetLive(ctx context.Context, studentID, examID string) (*domain.Session, error)
	// Create persists a new session. Returns ErrLiveSessionExists on a liveness uniqueness violation.
	Create(ctx context.Context, s *domain.Session) error
	// Update persists the mutable header fields (status, end time, termination, final report).
	Update(ctx context.Context, s *domain.Session) error
	// AppendVerification appends rec unless a record with the same idempotency key exists, in which case the
	// stored record is returned with appended=false.
	AppendVerification(ctx context.Context, rec domain.VerificationRecord) (stored domain.VerificationRecord, appended bool, err error)
	// AppendViolation appends v with the same idempotency semantics as AppendVerification.
	AppendViolation(ctx context.Context, v domain.Violation) (stored domain.Violation, appended bool, err error)
	// List returns sessions matching filter ordered by start time, paginated by limit and offset.
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*domain.Session, error)
	// ListIDsByExamAndStatus returns ids of the exam's sessions in the given status.
	ListIDsByExamAndStatus(ctx context.Context, examID string, status domain.Status) ([]string, error)
	// ListExamIDsWithLiveSessions returns distinct exam ids that have at least one active or paused session.
	ListExamIDsWithLiveSessions(ctx context.Context) ([]string, error)
	ListVerifications(ctx context.Context, sessionID string, q ledger.Query) (ledger.Page[domain.VerificationRecord], error)
	ListViolations(ctx context.Context, sessionID string, q ledger.Query) (ledger.Page[domain.Violation], error)
}
