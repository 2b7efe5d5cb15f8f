package service

import (
	"context"
	"errors"
	"log"
	"time"

	"proctoring-engine/internal/exam"
	"proctoring-engine/internal/platform/errs"
	"proctoring-engine/internal/session/domain"
)

const defaultSweepInterval = time.Minute

// Sweeper periodically closes the live sessions of exams that have ended.
type Sweeper struct {
	sessions *Service
	interval time.Duration
}

// NewSweeper returns a Sweeper over svc. interval <= 0 defaults to one minute.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{sessions: svc, interval: interval}
}

// Run sweeps every interval until ctx is done. It returns nil on cancellation.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("session: sweep: %v", err)
			}
		}
	}
}

// SweepOnce ends the sessions of every completed or cancelled exam that still has live sessions.
// Active sessions go through EndAllActiveForExam; paused ones are finalized individually.
// It returns how many sessions were ended.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	svc := w.sessions
	examIDs, err := svc.repo.ListExamIDsWithLiveSessions(ctx)
	if err != nil {
		return 0, errs.E("session.Sweep", "", err)
	}
	total := 0
	var errList []error
	for _, examID := range examIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		status, err := svc.exams.Status(ctx, examID)
		if err != nil {
			log.Printf("session: sweep: status of exam %s: %v", examID, err)
			continue
		}
		if !status.Ended() {
			continue
		}
		res, err := svc.EndAllActiveForExam(ctx, examID)
		total += len(res.Ended)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		n, err := w.finalizePaused(ctx, examID, status)
		total += n
		if err != nil {
			errList = append(errList, err)
		}
	}
	svc.metrics.IncSweep()
	return total, errors.Join(errList...)
}

func (w *Sweeper) finalizePaused(ctx context.Context, examID string, status exam.Status) (int, error) {
	svc := w.sessions
	ids, err := svc.repo.ListIDsByExamAndStatus(ctx, examID, domain.StatusPaused)
	if err != nil {
		return 0, errs.E("session.Sweep", "", err)
	}
	n := 0
	for _, id := range ids {
		if _, err := svc.Finalize(ctx, id); err != nil {
			if !errs.Recoverable(err) {
				return n, err
			}
			log.Printf("session: sweep: finalize paused session %s of %s exam %s: %v", id, status, examID, err)
			continue
		}
		n++
	}
	return n, nil
}
