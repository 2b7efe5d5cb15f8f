// Package service marks attendance from reconciled identity labels. Records are created Absent in bulk
// for a session key and day, and each matched label moves its student to Present exactly once.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"proctoring-engine/internal/attendance/domain"
	"proctoring-engine/internal/attendance/repository"
	"proctoring-engine/internal/exam"
	"proctoring-engine/internal/platform/errs"
	"proctoring-engine/internal/platform/metrics"
	"proctoring-engine/internal/reconcile"
)

const defaultConcurrency = 8

// InitResult counts the records created and those that already existed.
type InitResult struct {
	Created  int
	Existing int
}

// RunResult is the outcome of one reconciliation run.
type RunResult struct {
	Report   *domain.Report
	Verdicts []reconcile.Verdict
}

// Service is the attendance side of name reconciliation.
type Service struct {
	repo        repository.Repository
	students    exam.Directory
	engine      *reconcile.Engine
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records marked students on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithConcurrency bounds parallel inserts during InitializeSession.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns an attendance service. engine decides which labels match which students.
func NewService(repo repository.Repository, students exam.Directory, engine *reconcile.Engine, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		students:    students,
		engine:      engine,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func validKey(op string, key exam.SessionKey) error {
	if !key.Valid() {
		return errs.E(op, "", errs.Validation("session key needs an exam type and a course"))
	}
	return nil
}

// InitializeSession creates an Absent record for every active student that has none for the day.
// Cancelling ctx stops the batch; records already written stay and a rerun fills in the rest.
func (s *Service) InitializeSession(ctx context.Context, key exam.SessionKey, date time.Time) (InitResult, error) {
	const op = "attendance.InitializeSession"
	if err := validKey(op, key); err != nil {
		return InitResult{}, err
	}
	students, err := s.students.ActiveStudents(ctx)
	if err != nil {
		return InitResult{}, errs.E(op, "", errs.Upstream("student directory", err))
	}

	day := domain.DateOf(date)
	now := s.now().UTC()
	inserted := make([]bool, len(students))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, st := range students {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := s.repo.InsertIfMissing(gctx, &domain.Record{
				ID:          uuid.NewString(),
				StudentID:   st.IdentityRef,
				StudentName: st.FullName,
				PhotoRef:    st.PhotoRef,
				SessionKey:  key.String(),
				Position:    i,
				Date:        day,
				Mark:        domain.MarkAbsent,
				CreatedAt:   now,
			})
			if err != nil {
				return fmt.Errorf("student %s: %w", st.IdentityRef, err)
			}
			inserted[i] = ok
			return nil
		})
	}
	werr := g.Wait()

	var res InitResult
	for _, ok := range inserted {
		if ok {
			res.Created++
		}
	}
	if err := ctx.Err(); err != nil {
		return res, errs.E(op, "", err)
	}
	if werr != nil {
		return res, errs.E(op, "", werr)
	}
	res.Existing = len(students) - res.Created
	return res, nil
}

// Reconcile matches detections against the session's students in roster order and marks every matched
// Absent student Present. A report of the run is stored and returned.
//
// On cancellation the verdicts computed so far are still applied and the context error is returned.
func (s *Service) Reconcile(ctx context.Context, key exam.SessionKey, date time.Time, detections []reconcile.Detection) (*RunResult, error) {
	const op = "attendance.Reconcile"
	if err := validKey(op, key); err != nil {
		return nil, err
	}
	records, err := s.repo.ListBySession(ctx, key.String(), date)
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	if len(records) == 0 {
		return nil, errs.E(op, "", fmt.Errorf("%w: attendance for %s on %s is not initialized",
			errs.ErrNotFound, key, domain.DateOf(date).Format(time.DateOnly)))
	}

	entries := make([]reconcile.Entry, len(records))
	for i, r := range records {
		entries[i] = reconcile.Entry{IdentityRef: r.StudentID, FullName: r.StudentName}
	}
	verdicts, rerr := s.engine.Reconcile(ctx, reconcile.NewRoster(entries), detections)
	if rerr != nil && errors.Is(rerr, errs.ErrValidation) {
		return nil, errs.E(op, "", rerr)
	}

	var recognitions []domain.Recognition
	for _, v := range verdicts {
		if v.Outcome != reconcile.Matched {
			continue
		}
		at := s.now().UTC()
		conf := 0.0
		if v.Confidence != nil {
			conf = *v.Confidence
		}
		// Marks decided before a cancellation are still written.
		changed, err := s.repo.MarkPresent(context.WithoutCancel(ctx), key.String(), v.IdentityRef, date, at, conf)
		if err != nil {
			return nil, errs.E(op, "", err)
		}
		if changed {
			recognitions = append(recognitions, domain.Recognition{
				StudentID: v.IdentityRef, Name: v.FullName, Label: v.Label, Confidence: conf, MarkedAt: at,
			})
		}
	}
	s.metrics.AddAttendanceMarked(len(recognitions))
	if rerr != nil {
		return nil, errs.E(op, "", rerr)
	}

	snap, err := s.Snapshot(ctx, key, date)
	if err != nil {
		return nil, err
	}
	rep := &domain.Report{
		ID:            uuid.NewString(),
		SessionKey:    key.String(),
		Date:          snap.Date,
		TotalStudents: snap.Total(),
		PresentCount:  snap.PresentCount,
		AbsentCount:   snap.AbsentCount,
		Present:       snap.Present,
		Absent:        snap.Absent,
		Recognitions:  recognitions,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.SaveReport(ctx, rep); err != nil {
		log.Printf("attendance: save report for %s: %v", key, err)
		return nil, errs.E(op, "", err)
	}
	return &RunResult{Report: rep, Verdicts: verdicts}, nil
}

// Snapshot returns the current present/absent split with sorted name lists.
func (s *Service) Snapshot(ctx context.Context, key exam.SessionKey, date time.Time) (domain.Snapshot, error) {
	const op = "attendance.Snapshot"
	if err := validKey(op, key); err != nil {
		return domain.Snapshot{}, err
	}
	records, err := s.repo.ListBySession(ctx, key.String(), date)
	if err != nil {
		return domain.Snapshot{}, errs.E(op, "", err)
	}
	return domain.Summarize(key.String(), date, records), nil
}

// Records returns the session's records in roster order.
func (s *Service) Records(ctx context.Context, key exam.SessionKey, date time.Time) ([]*domain.Record, error) {
	const op = "attendance.Records"
	if err := validKey(op, key); err != nil {
		return nil, err
	}
	records, err := s.repo.ListBySession(ctx, key.String(), date)
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	return records, nil
}

// GetReport returns a stored report or errs.ErrNotFound.
func (s *Service) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	const op = "attendance.GetReport"
	rep, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	if rep == nil {
		return nil, errs.E(op, "", fmt.Errorf("%w: report %s", errs.ErrNotFound, id))
	}
	return rep, nil
}

// ListReports returns the reports of a session key, newest first.
func (s *Service) ListReports(ctx context.Context, key exam.SessionKey, limit int) ([]*domain.Report, error) {
	const op = "attendance.ListReports"
	if err := validKey(op, key); err != nil {
		return nil, err
	}
	reps, err := s.repo.ListReports(ctx, key.String(), limit)
	if err != nil {
		return nil, errs.E(op, "", err)
	}
	return reps, nil
}
