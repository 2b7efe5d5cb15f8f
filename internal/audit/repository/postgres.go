package repository

import (
	"context"
	"database/sql"
	"errors"

	"proctoring-engine/internal/audit/domain"
	"proctoring-engine/internal/db"
)

const auditColumns = `id, exam_id, actor_id, action, resource, resource_id, metadata, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(row rowScanner) (*domain.AuditLog, error) {
	var (
		a    domain.AuditLog
		meta sql.NullString
	)
	if err := row.Scan(&a.ID, &a.ExamID, &a.ActorID, &a.Action, &a.Resource, &a.ResourceID, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Metadata = meta.String
	return &a, nil
}

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	a, err := scanAuditLog(r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListByExam returns audit logs for the given exam, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByExam(ctx context.Context, examID string, limit, offset int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE exam_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		examID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ExamID, a.ActorID, a.Action, a.Resource, a.ResourceID, db.NullString(a.Metadata), a.CreatedAt)
	return err
}
