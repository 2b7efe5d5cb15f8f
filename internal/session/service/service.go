// Package service is the monitoring session state machine. Every mutation of a session runs under a
// per-(student, exam) lock, is persisted through the repository and is announced on the event bus
// before the lock is released, so each session's event stream is ordered.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"proctoring-engine/internal/audit"
	"proctoring-engine/internal/events"
	"proctoring-engine/internal/exam"
	"proctoring-engine/internal/ledger"
	"proctoring-engine/internal/platform/errs"
	"proctoring-engine/internal/platform/keylock"
	"proctoring-engine/internal/platform/metrics"
	"proctoring-engine/internal/scoring"
	"proctoring-engine/internal/session/domain"
	"proctoring-engine/internal/session/repository"
)

const (
	defaultLockTimeout     = 5 * time.Second
	defaultBulkConcurrency = 8
	defaultPageSize        = 50
	maxPageSize            = 500
)

// Service implements the session lifecycle and the session/ledger query API.
type Service struct {
	repo            repository.Repository
	exams           exam.Directory
	locks           keylock.Locker
	policy          scoring.Policy
	bus             events.Publisher
	metrics         *metrics.Metrics
	audit           audit.AuditLogger
	tracer          trace.Tracer
	lockTimeout     time.Duration
	bulkConcurrency int
	now             func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records lifecycle counters and operation latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit records bulk operations on l.
func WithAudit(l audit.AuditLogger) Option {
	return func(s *Service) { s.audit = l }
}

// WithLockTimeout bounds how long an operation waits for the session lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithBulkConcurrency bounds the parallelism of EndAllActiveForExam.
func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a session service. bus may be nil, in which case events are discarded.
func NewService(repo repository.Repository, exams exam.Directory, locks keylock.Locker, policy scoring.Policy, bus events.Publisher, opts ...Option) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	if policy == nil {
		policy = scoring.DefaultPolicy()
	}
	s := &Service{
		repo:            repo,
		exams:           exams,
		locks:           locks,
		policy:          policy,
		bus:             bus,
		tracer:          otel.Tracer("proctoring-engine/session"),
		lockTimeout:     defaultLockTimeout,
		bulkConcurrency: defaultBulkConcurrency,
		now:             time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func pairKey(studentID, examID string) string {
	return "session:" + examID + ":" + studentID
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// start opens a span and returns a func that ends it and records latency. Pass a pointer to the
// named error result so the span is marked failed.
func (s *Service) start(ctx context.Context, op, sessionID string) (context.Context, func(*error)) {
	began := time.Now()
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("session.id", sessionID)))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(otelcodes.Error, (*errp).Error())
		}
		span.End()
		s.metrics.ObserveOperation(op, began)
	}
}

// lock acquires the pair lock within lockTimeout. A timeout surfaces as ErrUpstreamUnavailable;
// cancellation of ctx itself is returned as the context error.
func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	began := time.Now()
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locks.Lock(lctx, key)
	s.metrics.ObserveLockWait(began)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.Upstream("session lock", err)
	}
	return unlock, nil
}

// withSession locks the session's pair, reloads it and runs fn on the fresh copy.
func (s *Service) withSession(ctx context.Context, op, sessionID string, fn func(sess *domain.Session) error) error {
	if sessionID == "" {
		return errs.E(op, sessionID, errs.Validation("session id required"))
	}
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return errs.E(op, sessionID, err)
	}
	if sess == nil {
		return errs.E(op, sessionID, errs.ErrNotFound)
	}
	unlock, err := s.lock(ctx, pairKey(sess.StudentID, sess.ExamID))
	if err != nil {
		return errs.E(op, sessionID, err)
	}
	defer unlock()

	sess, err = s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return errs.E(op, sessionID, err)
	}
	if sess == nil {
		return errs.E(op, sessionID, errs.ErrNotFound)
	}
	if err := fn(sess); err != nil {
		return errs.E(op, sessionID, err)
	}
	return nil
}

func storageErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionMissing):
		return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
	case errors.Is(err, repository.ErrSessionNotLive):
		return fmt.Errorf("%w: %v", errs.ErrInvalidState, err)
	}
	return err
}

// Get returns the session with both ledgers.
func (s *Service) Get(ctx context.Context, sessionID string) (_ *domain.Session, err error) {
	const op = "session.Get"
	ctx, done := s.start(ctx, op, sessionID)
	defer done(&err)
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, errs.E(op, sessionID, err)
	}
	if sess == nil {
		return nil, errs.E(op, sessionID, errs.ErrNotFound)
	}
	return sess, nil
}

// ListPage is one page of sessions. NextPageToken is empty on the last page.
type ListPage struct {
	Sessions      []*domain.Session
	NextPageToken string
}

// List returns sessions matching filter ordered by start time. pageToken is opaque to callers.
func (s *Service) List(ctx context.Context, filter repository.ListFilter, pageSize int, pageToken string) (_ ListPage, err error) {
	const op = "session.List"
	ctx, done := s.start(ctx, op, "")
	defer done(&err)

	if filter.Status != "" && !filter.Status.Valid() {
		return ListPage{}, errs.E(op, "", errs.Validation("unknown status "+string(filter.Status)))
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := 0
	if pageToken != "" {
		offset, err = strconv.Atoi(pageToken)
		if err != nil || offset < 0 {
			return ListPage{}, errs.E(op, "", errs.Validation("malformed page token"))
		}
	}
	list, err := s.repo.List(ctx, filter, pageSize+1, offset)
	if err != nil {
		return ListPage{}, errs.E(op, "", err)
	}
	page := ListPage{Sessions: list}
	if len(list) > pageSize {
		page.Sessions = list[:pageSize]
		page.NextPageToken = strconv.Itoa(offset + pageSize)
	}
	return page, nil
}

// ListVerifications returns a window of the session's verification ledger.
func (s *Service) ListVerifications(ctx context.Context, sessionID string, q ledger.Query) (_ ledger.Page[domain.VerificationRecord], err error) {
	const op = "session.ListVerifications"
	ctx, done := s.start(ctx, op, sessionID)
	defer done(&err)
	page, err := s.repo.ListVerifications(ctx, sessionID, q)
	if err != nil {
		return ledger.Page[domain.VerificationRecord]{}, errs.E(op, sessionID, storageErr(err))
	}
	return page, nil
}

// ListViolations returns a window of the session's violation ledger.
func (s *Service) ListViolations(ctx context.Context, sessionID string, q ledger.Query) (_ ledger.Page[domain.Violation], err error) {
	const op = "session.ListViolations"
	ctx, done := s.start(ctx, op, sessionID)
	defer done(&err)
	page, err := s.repo.ListViolations(ctx, sessionID, q)
	if err != nil {
		return ledger.Page[domain.Violation]{}, errs.E(op, sessionID, storageErr(err))
	}
	return page, nil
}
