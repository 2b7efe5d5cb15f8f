package repository

import (
	"context"

	"proctoring-engine/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	// ListByExam returns the exam's audit logs, newest first.
	ListByExam(ctx context.Context, examID string, limit, offset int) ([]*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
}
