package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"proctoring-engine/internal/events"
	"proctoring-engine/internal/platform/authz"
	"proctoring-engine/internal/platform/errs"
	"proctoring-engine/internal/session/domain"
)

func requireLive(sess *domain.Session) error {
	if !sess.Status.IsLive() {
		return fmt.Errorf("%w: session is %s", errs.ErrInvalidState, sess.Status)
	}
	return nil
}

// AppendVerification appends rec to the session's verification ledger and publishes VerificationRecorded.
// When rec repeats an idempotency key the earlier record is returned and nothing is published.
func (s *Service) AppendVerification(ctx context.Context, sessionID string, rec domain.VerificationRecord) (_ domain.VerificationRecord, err error) {
	const op = "session.AppendVerification"
	ctx, done := s.start(ctx, op, sessionID)
	defer done(&err)

	if err := rec.Validate(); err != nil {
		return domain.VerificationRecord{}, errs.E(op, sessionID, err)
	}
	var stored domain.VerificationRecord
	err = s.withSession(ctx, op, sessionID, func(sess *domain.Session) error {
		if err := requireLive(sess); err != nil {
			return err
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.SessionID = sess.ID
		if rec.Timestamp.IsZero() {
			rec.Timestamp = s.clock()
		}
		out, appended, err := s.repo.AppendVerification(ctx, rec)
		if err != nil {
			return storageErr(err)
		}
		stored = out
		if appended {
			s.metrics.IncVerification(string(out.Result))
			s.bus.Publish(ctx, events.VerificationRecorded(sess, out, s.clock()))
		}
		return nil
	})
	if err != nil {
		return domain.VerificationRecord{}, err
	}
	return stored, nil
}

// AppendViolation appends v to the session's violation ledger and publishes ViolationReported.
// The caller must be the session's student or a supervisor.
func (s *Service) AppendViolation(ctx context.Context, caller authz.Caller, sessionID string, v domain.Violation) (_ domain.Violation, err error) {
	const op = "session.AppendViolation"
	ctx, done := s.start(ctx, op, sessionID)
	defer done(&err)

	if err := v.Validate(); err != nil {
		return domain.Violation{}, errs.E(op, sessionID, err)
	}
	var stored domain.Violation
	err = s.withSession(ctx, op, sessionID, func(sess *domain.Session) error {
		if err := authz.RequireSelfOrSupervisor(caller, sess.StudentID); err != nil {
			return err
		}
		if err := requireLive(sess); err != nil {
			return err
		}
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.SessionID = sess.ID
		if v.Timestamp.IsZero() {
			v.Timestamp = s.clock()
		}
		if v.ReportedBy == "" {
			v.ReportedBy = caller.Subject
		}
		out, appended, err := s.repo.AppendViolation(ctx, v)
		if err != nil {
			return storageErr(err)
		}
		stored = out
		if appended {
			s.metrics.IncViolation(string(out.Severity))
			e := events.ViolationReported(sess, out, s.clock())
			e.ActorID = actorOf(caller, sess)
			s.bus.Publish(ctx, e)
		}
		return nil
	})
	if err != nil {
		return domain.Violation{}, err
	}
	return stored, nil
}
