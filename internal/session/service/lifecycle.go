package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"proctoring-engine/internal/events"
	"proctoring-engine/internal/exam"
	"proctoring-engine/internal/platform/authz"
	"proctoring-engine/internal/platform/errs"
	"proctoring-engine/internal/scoring"
	"proctoring-engine/internal/session/domain"
	"proctoring-engine/internal/session/repository"
)

// StartOrResume returns the student's live session for the exam, creating an active one if none exists.
// resumed reports whether an existing session was returned. Only creation publishes SessionStarted.
func (s *Service) StartOrResume(ctx context.Context, studentID, examID string) (_ *domain.Session, resumed bool, err error) {
	const op = "session.StartOrResume"
	ctx, done := s.start(ctx, op, "")
	defer done(&err)

	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(examID) == "" {
		return nil, false, errs.E(op, "", errs.Validation("student id and exam id required"))
	}
	if err := s.checkEligible(ctx, studentID, examID); err != nil {
		return nil, false, errs.E(op, "", err)
	}

	unlock, err := s.lock(ctx, pairKey(studentID, examID))
	if err != nil {
		return nil, false, errs.E(op, "", err)
	}
	defer unlock()

	live, err := s.repo.GetLive(ctx, studentID, examID)
	if err != nil {
		return nil, false, errs.E(op, "", err)
	}
	if live != nil {
		s.metrics.IncSessionResumed()
		return live, true, nil
	}

	now := s.clock()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    domain.StatusActive,
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		if !errors.Is(err, repository.ErrLiveSessionExists) {
			return nil, false, errs.E(op, "", err)
		}
		// Another engine process created it between our read and write.
		live, gerr := s.repo.GetLive(ctx, studentID, examID)
		if gerr != nil {
			return nil, false, errs.E(op, "", gerr)
		}
		if live == nil {
			return nil, false, errs.E(op, "", fmt.Errorf("%w: live session vanished during creation", errs.ErrConflict))
		}
		s.metrics.IncSessionResumed()
		return live, true, nil
	}
	s.metrics.IncSessionStarted()
	s.bus.Publish(ctx, events.SessionStarted(sess, now))
	return sess, false, nil
}

func (s *Service) checkEligible(ctx context.Context, studentID, examID string) error {
	status, err := s.exams.Status(ctx, examID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return err
		}
		return errs.Upstream("exam directory", err)
	}
	if status != exam.StatusOngoing {
		return fmt.Errorf("%w: exam %s is %s", errs.ErrInvalidState, examID, status)
	}
	enrolled, err := s.exams.IsEnrolled(ctx, examID, studentID)
	if err != nil {
		return errs.Upstream("exam directory", err)
	}
	if !enrolled {
		return fmt.Errorf("%w: student %s is not enrolled in exam %s", errs.ErrUnauthorized, studentID, examID)
	}
	return nil
}

// SetStatus moves the session to status. Terminal targets end the session and store its final report.
// Requesting the current status is a no-op; leaving a terminal status is ErrInvalidState.
func (s *Service) SetStatus(ctx context.Context, caller authz.Caller, sessionID string, status domain.Status, reason string) (_ *domain.Session, err error) {
	const op = "session.SetStatus"
	ctx, done := s.start(ctx, op, sessionID)
	defer done(&err)

	if !status.Valid() {
		return nil, errs.E(op, sessionID, errs.Validation("unknown status "+string(status)))
	}
	reason = strings.TrimSpace(reason)
	if status == domain.StatusTerminated && reason == "" {
		return nil, errs.E(op, sessionID, errs.Validation("termination requires a reason"))
	}

	var out *domain.Session
	err = s.withSession(ctx, op, sessionID, func(sess *domain.Session) error {
		if status == domain.StatusTerminated {
			if err := authz.RequireSupervisor(caller); err != nil {
				return err
			}
		} else if err := authz.RequireSelfOrSupervisor(caller, sess.StudentID); err != nil {
			return err
		}
		if sess.Status == status {
			out = sess
			return nil
		}
		if !domain.CanTransition(sess.Status, status) {
			return fmt.Errorf("%w: cannot move session from %s to %s", errs.ErrInvalidState, sess.Status, status)
		}
		actor := actorOf(caller, sess)
		if status.IsTerminal() {
			if err := s.end(ctx, sess, status, reason, actor); err != nil {
				return err
			}
			out = sess
			return nil
		}

		old := sess.Status
		now := s.clock()
		sess.Status = status
		sess.UpdatedAt = now
		if err := s.repo.Update(ctx, sess); err != nil {
			return storageErr(err)
		}
		e := events.SessionStatusChanged(sess, old, reason, now)
		e.ActorID = actor
		s.bus.Publish(ctx, e)
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Finalize completes a live session and returns its final report. On a session that already ended it
// returns the stored report without changing anything.
func (s *Service) Finalize(ctx context.Context, sessionID string) (_ *domain.FinalReport, err error) {
	const op = "session.Finalize"
	ctx, done := s.start(ctx, op, sessionID)
	defer done(&err)

	var report *domain.FinalReport
	err = s.withSession(ctx, op, sessionID, func(sess *domain.Session) error {
		if sess.Status.IsTerminal() {
			report = sess.FinalReport
			return nil
		}
		if err := s.end(ctx, sess, domain.StatusCompleted, "", ""); err != nil {
			return err
		}
		report = sess.FinalReport
		return nil
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, errs.E(op, sessionID, fmt.Errorf("%w: terminal session has no final report", errs.ErrInvalidState))
	}
	r := *report
	return &r, nil
}

// end moves a live session to a terminal status, computes its final report, persists it and publishes
// SessionStatusChanged followed by SessionEnded. Caller must hold the session lock.
func (s *Service) end(ctx context.Context, sess *domain.Session, status domain.Status, reason, actor string) error {
	old := sess.Status
	now := s.clock()

	sess.Status = status
	sess.EndTime = &now
	sess.UpdatedAt = now
	if status == domain.StatusTerminated {
		sess.IsTerminated = true
		sess.TerminationReason = reason
	}
	assessment, err := s.policy.Assess(ctx, scoring.InputFrom(sess))
	if err != nil {
		return errs.Upstream("scoring policy", err)
	}
	sess.FinalReport = &domain.FinalReport{
		TotalViolations: assessment.TotalViolations,
		RiskScore:       assessment.RiskScore,
		Recommendation:  assessment.Recommendation,
		Notes:           assessment.Notes,
		GeneratedAt:     now,
	}
	if err := s.repo.Update(ctx, sess); err != nil {
		return storageErr(err)
	}
	s.metrics.IncSessionEnded(string(status), string(assessment.Recommendation))

	changed := events.SessionStatusChanged(sess, old, reason, now)
	changed.ActorID = actor
	s.bus.Publish(ctx, changed)
	ended := events.SessionEnded(sess, now)
	ended.ActorID = actor
	s.bus.Publish(ctx, ended)
	return nil
}

func actorOf(c authz.Caller, sess *domain.Session) string {
	if c.Subject == sess.StudentID {
		return ""
	}
	return c.Subject
}

// BulkResult reports the outcome of EndAllActiveForExam per session.
type BulkResult struct {
	ExamID string
	// Ended lists sessions this call completed.
	Ended []string
	// Skipped lists sessions that were no longer active when their turn came.
	Skipped []string
	// Failed maps session id to the error that stopped it.
	Failed map[string]error
	// NotAttempted counts sessions left untouched because ctx was cancelled.
	NotAttempted int
}

// EndAllActiveForExam completes every active session of the exam through the normal completion path.
// Failures are collected per session and never abort the batch. Cancelling ctx stops the batch; a later
// call finishes the rest.
func (s *Service) EndAllActiveForExam(ctx context.Context, examID string) (_ BulkResult, err error) {
	const op = "session.EndAllActiveForExam"
	ctx, done := s.start(ctx, op, "")
	defer done(&err)

	res := BulkResult{ExamID: examID, Failed: make(map[string]error)}
	if strings.TrimSpace(examID) == "" {
		return res, errs.E(op, "", errs.Validation("exam id required"))
	}
	ids, err := s.repo.ListIDsByExamAndStatus(ctx, examID, domain.StatusActive)
	if err != nil {
		return res, errs.E(op, "", err)
	}

	var (
		mu      sync.Mutex
		g       errgroup.Group
		pending = len(ids)
	)
	g.SetLimit(s.bulkConcurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			ended, err := s.completeIfActive(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			pending--
			switch {
			case err != nil:
				res.Failed[id] = err
				if !errs.Recoverable(err) {
					log.Printf("session: bulk end %s session=%s: %v", examID, id, err)
				}
			case ended:
				res.Ended = append(res.Ended, id)
			default:
				res.Skipped = append(res.Skipped, id)
			}
			return nil
		})
	}
	_ = g.Wait()
	res.NotAttempted = pending

	if len(res.Ended) > 0 && s.audit != nil {
		s.audit.LogEvent(context.WithoutCancel(ctx), examID, "", "sessions_ended", "exam", examID,
			fmt.Sprintf("ended=%d failed=%d", len(res.Ended), len(res.Failed)))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, errs.E(op, "", ctxErr)
	}
	return res, nil
}

func (s *Service) completeIfActive(ctx context.Context, sessionID string) (bool, error) {
	ended := false
	err := s.withSession(ctx, "session.complete", sessionID, func(sess *domain.Session) error {
		if sess.Status != domain.StatusActive {
			return nil
		}
		if err := s.end(ctx, sess, domain.StatusCompleted, "", authz.System.Subject); err != nil {
			return err
		}
		ended = true
		return nil
	})
	return ended, err
}
