package repository

import (
	"context"
	"time"

	"proctoring-engine/internal/attendance/domain"
)

// Repository persists attendance records and reconciliation reports.
type Repository interface {
	// InsertIfMissing stores rec unless the student already has a record for rec.Date.
	// It reports whether a row was inserted.
	InsertIfMissing(ctx context.Context, rec *domain.Record) (bool, error)
	// MarkPresent moves the student's Absent record for the session key and date to Present.
	// It reports false when the record is missing or already Present.
	MarkPresent(ctx context.Context, sessionKey, studentID string, date, at time.Time, confidence float64) (bool, error)
	// ListBySession returns the records of a session key and date in roster order.
	ListBySession(ctx context.Context, sessionKey string, date time.Time) ([]*domain.Record, error)
	SaveReport(ctx context.Context, r *domain.Report) error
	// GetReport returns the report by id, or nil if not found.
	GetReport(ctx context.Context, id string) (*domain.Report, error)
	// ListReports returns the reports of a session key, newest first. limit <= 0 means all.
	ListReports(ctx context.Context, sessionKey string, limit int) ([]*domain.Report, error)
}
