package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"proctoring-engine/internal/db"
	"proctoring-engine/internal/ledger"
	"proctoring-engine/internal/session/domain"
)

const liveIndex = "monitoring_sessions_live_uq"

const sessionColumns = `id, exam_id, student_id, status, start_time, end_time, is_terminated, termination_reason,
	final_total_violations, final_risk_score, final_recommendation, final_notes, final_generated_at,
	created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s         domain.Session
		status    string
		endTime   sql.NullTime
		reason    sql.NullString
		total     sql.NullInt64
		score     sql.NullInt64
		rec       sql.NullString
		notes     sql.NullString
		generated sql.NullTime
	)
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &status, &s.StartTime, &endTime, &s.IsTerminated, &reason,
		&total, &score, &rec, &notes, &generated, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = domain.Status(status)
	s.EndTime = db.TimePtr(endTime)
	s.TerminationReason = reason.String
	if generated.Valid {
		s.FinalReport = &domain.FinalReport{
			TotalViolations: int(total.Int64),
			RiskScore:       int(score.Int64),
			Recommendation:  domain.Recommendation(rec.String),
			Notes:           notes.String,
			GeneratedAt:     generated.Time,
		}
	}
	return &s, nil
}

func reportArgs(r *domain.FinalReport) []any {
	if r == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	return []any{r.TotalViolations, r.RiskScore, string(r.Recommendation), r.Notes, r.GeneratedAt}
}

// GetByID returns the session with both ledgers, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM monitoring_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.loadLedgers(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetLive returns the pair's active or paused session, or nil.
func (r *PostgresRepository) GetLive(ctx context.Context, studentID, examID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM monitoring_sessions
		WHERE student_id = $1 AND exam_id = $2 AND status IN ('active', 'paused')`, studentID, examID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.loadLedgers(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) loadLedgers(ctx context.Context, s *domain.Session) error {
	vrows, err := r.db.QueryContext(ctx, `SELECT id, session_id, recorded_at, result, confidence, evidence_ref, idempotency_key
		FROM session_verifications WHERE session_id = $1 ORDER BY seq`, s.ID)
	if err != nil {
		return err
	}
	s.Verifications, err = scanVerifications(vrows)
	if err != nil {
		return err
	}
	xrows, err := r.db.QueryContext(ctx, `SELECT id, session_id, recorded_at, type, severity, description, evidence_ref,
		reported_by, idempotency_key FROM session_violations WHERE session_id = $1 ORDER BY seq`, s.ID)
	if err != nil {
		return err
	}
	s.Violations, err = scanViolations(xrows)
	return err
}

func scanVerification(row rowScanner) (domain.VerificationRecord, error) {
	var (
		v      domain.VerificationRecord
		result string
		key    sql.NullString
	)
	if err := row.Scan(&v.ID, &v.SessionID, &v.Timestamp, &result, &v.Confidence, &v.EvidenceRef, &key); err != nil {
		return domain.VerificationRecord{}, err
	}
	v.Result = domain.VerificationResult(result)
	v.IdempotencyKey = key.String
	return v, nil
}

func scanViolation(row rowScanner) (domain.Violation, error) {
	var (
		v        domain.Violation
		severity string
		key      sql.NullString
	)
	if err := row.Scan(&v.ID, &v.SessionID, &v.Timestamp, &v.Type, &severity, &v.Description, &v.EvidenceRef,
		&v.ReportedBy, &key); err != nil {
		return domain.Violation{}, err
	}
	v.Severity = domain.Severity(severity)
	v.IdempotencyKey = key.String
	return v, nil
}

func scanVerifications(rows *sql.Rows) ([]domain.VerificationRecord, error) {
	defer rows.Close()
	out := make([]domain.VerificationRecord, 0)
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanViolations(rows *sql.Rows) ([]domain.Violation, error) {
	defer rows.Close()
	out := make([]domain.Violation, 0)
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Create inserts the session header. The partial unique index on live sessions maps to ErrLiveSessionExists.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	args := []any{s.ID, s.ExamID, s.StudentID, string(s.Status), s.StartTime, db.NullTime(s.EndTime), s.IsTerminated,
		db.NullString(s.TerminationReason)}
	args = append(args, reportArgs(s.FinalReport)...)
	args = append(args, s.CreatedAt, s.UpdatedAt)
	_, err := r.db.ExecContext(ctx, `INSERT INTO monitoring_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, args...)
	if db.IsUniqueViolation(err, liveIndex) {
		return ErrLiveSessionExists
	}
	return err
}

// Update persists the mutable header fields. Ledgers are written only through the append methods.
func (r *PostgresRepository) Update(ctx context.Context, s *domain.Session) error {
	args := []any{s.ID, string(s.Status), db.NullTime(s.EndTime), s.IsTerminated, db.NullString(s.TerminationReason)}
	args = append(args, reportArgs(s.FinalReport)...)
	args = append(args, s.UpdatedAt)
	res, err := r.db.ExecContext(ctx, `UPDATE monitoring_sessions SET status = $2, end_time = $3, is_terminated = $4,
		termination_reason = $5, final_total_violations = $6, final_risk_score = $7, final_recommendation = $8,
		final_notes = $9, final_generated_at = $10, updated_at = $11 WHERE id = $1`, args...)
	if err != nil {
		if db.IsUniqueViolation(err, liveIndex) {
			return ErrLiveSessionExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionMissing
	}
	return nil
}

// liveGuard restricts a ledger INSERT ... SELECT to sessions that are active or paused. FOR SHARE waits for
// a concurrent status change to commit and re-checks the row.
const liveGuard = `WHERE EXISTS (SELECT 1 FROM monitoring_sessions
		WHERE id = $2 AND status IN ('active', 'paused') FOR SHARE)`

// AppendVerification inserts rec while the session is live. A conflicting idempotency key returns the
// stored row with appended=false; an ended session returns ErrSessionNotLive.
func (r *PostgresRepository) AppendVerification(ctx context.Context, rec domain.VerificationRecord) (domain.VerificationRecord, bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO session_verifications
		(id, session_id, recorded_at, result, confidence, evidence_ref, idempotency_key)
		SELECT $1::text, $2::text, $3::timestamptz, $4::text, $5::double precision, $6::text, $7::text
		`+liveGuard+`
		ON CONFLICT (session_id, idempotency_key) DO NOTHING`,
		rec.ID, rec.SessionID, rec.Timestamp, string(rec.Result), rec.Confidence, rec.EvidenceRef, db.NullString(rec.IdempotencyKey))
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return domain.VerificationRecord{}, false, ErrSessionMissing
		}
		return domain.VerificationRecord{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.VerificationRecord{}, false, err
	}
	if n == 1 {
		return rec, true, nil
	}
	if rec.IdempotencyKey == "" {
		return domain.VerificationRecord{}, false, r.appendRejected(ctx, rec.SessionID)
	}
	row := r.db.QueryRowContext(ctx, `SELECT id, session_id, recorded_at, result, confidence, evidence_ref, idempotency_key
		FROM session_verifications WHERE session_id = $1 AND idempotency_key = $2`, rec.SessionID, rec.IdempotencyKey)
	stored, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VerificationRecord{}, false, r.appendRejected(ctx, rec.SessionID)
	}
	if err != nil {
		return domain.VerificationRecord{}, false, err
	}
	return stored, false, nil
}

// AppendViolation inserts v with the same liveness and idempotency semantics as AppendVerification.
func (r *PostgresRepository) AppendViolation(ctx context.Context, v domain.Violation) (domain.Violation, bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO session_violations
		(id, session_id, recorded_at, type, severity, description, evidence_ref, reported_by, idempotency_key)
		SELECT $1::text, $2::text, $3::timestamptz, $4::text, $5::text, $6::text, $7::text, $8::text, $9::text
		`+liveGuard+`
		ON CONFLICT (session_id, idempotency_key) DO NOTHING`,
		v.ID, v.SessionID, v.Timestamp, v.Type, string(v.Severity), v.Description, v.EvidenceRef, v.ReportedBy,
		db.NullString(v.IdempotencyKey))
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return domain.Violation{}, false, ErrSessionMissing
		}
		return domain.Violation{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Violation{}, false, err
	}
	if n == 1 {
		return v, true, nil
	}
	if v.IdempotencyKey == "" {
		return domain.Violation{}, false, r.appendRejected(ctx, v.SessionID)
	}
	row := r.db.QueryRowContext(ctx, `SELECT id, session_id, recorded_at, type, severity, description, evidence_ref,
		reported_by, idempotency_key FROM session_violations WHERE session_id = $1 AND idempotency_key = $2`,
		v.SessionID, v.IdempotencyKey)
	stored, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Violation{}, false, r.appendRejected(ctx, v.SessionID)
	}
	if err != nil {
		return domain.Violation{}, false, err
	}
	return stored, false, nil
}

// appendRejected explains an append that inserted nothing and matched no earlier key.
func (r *PostgresRepository) appendRejected(ctx context.Context, sessionID string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM monitoring_sessions WHERE id = $1`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionMissing
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status %s", ErrSessionNotLive, status)
}

// List returns session headers matching filter. Ledgers are not loaded.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*domain.Session, error) {
	where := []string{"TRUE"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ExamID != "" {
		add("exam_id = $%d", filter.ExamID)
	}
	if filter.StudentID != "" {
		add("student_id = $%d", filter.StudentID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + sessionColumns + ` FROM monitoring_sessions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY start_time, id`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListIDsByExamAndStatus returns ids of the exam's sessions in status, sorted.
func (r *PostgresRepository) ListIDsByExamAndStatus(ctx context.Context, examID string, status domain.Status) ([]string, error) {
	return r.queryStrings(ctx, `SELECT id FROM monitoring_sessions WHERE exam_id = $1 AND status = $2 ORDER BY id`,
		examID, string(status))
}

// ListExamIDsWithLiveSessions returns distinct exam ids with a live session, sorted.
func (r *PostgresRepository) ListExamIDsWithLiveSessions(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, `SELECT DISTINCT exam_id FROM monitoring_sessions
		WHERE status IN ('active', 'paused') ORDER BY exam_id`)
}

func (r *PostgresRepository) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) sessionExists(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM monitoring_sessions WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionMissing
	}
	return err
}

// ledgerWindow builds the WHERE/ORDER/LIMIT tail shared by both ledger queries.
func ledgerWindow(sessionID string, q ledger.Query) (where string, tail string, args []any) {
	q = q.Normalized()
	args = []any{sessionID}
	where = "session_id = $1"
	if q.Since != nil {
		args = append(args, *q.Since)
		where += fmt.Sprintf(" AND recorded_at >= $%d", len(args))
	}
	if q.Until != nil {
		args = append(args, *q.Until)
		where += fmt.Sprintf(" AND recorded_at < $%d", len(args))
	}
	order := "seq"
	if q.NewestFirst {
		order = "seq DESC"
	}
	tail = fmt.Sprintf(" ORDER BY %s LIMIT %d OFFSET %d", order, q.Limit, q.Offset)
	return where, tail, args
}

func pageNext(q ledger.Query, got, total int) int {
	q = q.Normalized()
	if q.Offset+got >= total || got == 0 {
		return -1
	}
	return q.Offset + got
}

// ListVerifications returns a window of the session's verification ledger.
func (r *PostgresRepository) ListVerifications(ctx context.Context, sessionID string, q ledger.Query) (ledger.Page[domain.VerificationRecord], error) {
	if err := r.sessionExists(ctx, sessionID); err != nil {
		return ledger.Page[domain.VerificationRecord]{}, err
	}
	where, tail, args := ledgerWindow(sessionID, q)
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_verifications WHERE `+where, args...).Scan(&total); err != nil {
		return ledger.Page[domain.VerificationRecord]{}, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, session_id, recorded_at, result, confidence, evidence_ref, idempotency_key
		FROM session_verifications WHERE `+where+tail, args...)
	if err != nil {
		return ledger.Page[domain.VerificationRecord]{}, err
	}
	items, err := scanVerifications(rows)
	if err != nil {
		return ledger.Page[domain.VerificationRecord]{}, err
	}
	return ledger.Page[domain.VerificationRecord]{Items: items, Total: total, NextOffset: pageNext(q, len(items), total)}, nil
}

// ListViolations returns a window of the session's violation ledger.
func (r *PostgresRepository) ListViolations(ctx context.Context, sessionID string, q ledger.Query) (ledger.Page[domain.Violation], error) {
	if err := r.sessionExists(ctx, sessionID); err != nil {
		return ledger.Page[domain.Violation]{}, err
	}
	where, tail, args := ledgerWindow(sessionID, q)
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_violations WHERE `+where, args...).Scan(&total); err != nil {
		return ledger.Page[domain.Violation]{}, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, session_id, recorded_at, type, severity, description, evidence_ref,
		reported_by, idempotency_key FROM session_violations WHERE `+where+tail, args...)
	if err != nil {
		return ledger.Page[domain.Violation]{}, err
	}
	items, err := scanViolations(rows)
	if err != nil {
		return ledger.Page[domain.Violation]{}, err
	}
	return ledger.Page[domain.Violation]{Items: items, Total: total, NextOffset: pageNext(q, len(items), total)}, nil
}
