package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proctoring-engine/internal/attendance/domain"
	"proctoring-engine/internal/db"
)

const reportColumns = `id, session_key, attendance_date, total_students, present_count, absent_count,
	present, absent, recognitions, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an attendance repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) InsertIfMissing(ctx context.Context, rec *domain.Record) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO attendance_records (id, student_id, student_name, photo_ref, session_key, roster_position,
			attendance_date, mark, marked_at, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (student_id, attendance_date) DO NOTHING`,
		rec.ID, rec.StudentID, rec.StudentName, rec.PhotoRef, rec.SessionKey, rec.Position,
		domain.DateOf(rec.Date), string(rec.Mark), db.NullTime(rec.MarkedAt), rec.Confidence, rec.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkPresent is a conditional update so concurrent runs mark each student at most once.
func (r *PostgresRepository) MarkPresent(ctx context.Context, sessionKey, studentID string, date, at time.Time, confidence float64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attendance_records SET mark = $1, marked_at = $2, confidence = $3
		WHERE student_id = $4 AND attendance_date = $5 AND session_key = $6 AND mark = $7`,
		string(domain.MarkPresent), at, confidence, studentID, domain.DateOf(date), sessionKey, string(domain.MarkAbsent),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionKey string, date time.Time) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, student_id, student_name, photo_ref, session_key, roster_position, attendance_date, mark,
			marked_at, confidence, created_at
		FROM attendance_records WHERE session_key = $1 AND attendance_date = $2
		ORDER BY roster_position, student_id`,
		sessionKey, domain.DateOf(date),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		var (
			rec      domain.Record
			mark     string
			markedAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.PhotoRef, &rec.SessionKey, &rec.Position,
			&rec.Date, &mark, &markedAt, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Mark = domain.Mark(mark)
		rec.MarkedAt = db.TimePtr(markedAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SaveReport(ctx context.Context, rep *domain.Report) error {
	present, err := json.Marshal(nonNil(rep.Present))
	if err != nil {
		return fmt.Errorf("encode present: %w", err)
	}
	absent, err := json.Marshal(nonNil(rep.Absent))
	if err != nil {
		return fmt.Errorf("encode absent: %w", err)
	}
	recognitions := rep.Recognitions
	if recognitions == nil {
		recognitions = []domain.Recognition{}
	}
	history, err := json.Marshal(recognitions)
	if err != nil {
		return fmt.Errorf("encode recognitions: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO attendance_reports (`+reportColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rep.ID, rep.SessionKey, domain.DateOf(rep.Date), rep.TotalStudents, rep.PresentCount, rep.AbsentCount,
		present, absent, history, rep.CreatedAt,
	)
	return err
}

// GetReport returns the report by id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM attendance_reports WHERE id = $1`, id)
	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rep, nil
}

func (r *PostgresRepository) ListReports(ctx context.Context, sessionKey string, limit int) ([]*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM attendance_reports WHERE session_key = $1 ORDER BY created_at DESC, id`
	args := []any{sessionKey}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var rep domain.Report
	var present, absent, hist []byte
	if err := row.Scan(&rep.ID, &rep.SessionKey, &rep.Date, &rep.TotalStudents, &rep.PresentCount, &rep.AbsentCount,
		&present, &absent, &hist, &rep.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(present, &rep.Present); err != nil {
		return nil, fmt.Errorf("decode present: %w", err)
	}
	if err := json.Unmarshal(absent, &rep.Absent); err != nil {
		return nil, fmt.Errorf("decode absent: %w", err)
	}
	if err := json.Unmarshal(hist, &rep.Recognitions); err != nil {
		return nil, fmt.Errorf("decode recognitions: %w", err)
	}
	return &rep, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
