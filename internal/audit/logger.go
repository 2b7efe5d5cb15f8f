// Package audit records who did what to an exam's sessions. Session events arrive through the event
// bus; other actions (bulk ends, attendance runs) are logged directly.
package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"proctoring-engine/internal/audit/domain"
	auditrepo "proctoring-engine/internal/audit/repository"
	"proctoring-engine/internal/events"
)

// SystemActor is recorded for actions with no authenticated caller.
const SystemActor = "_system"

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, examID, actorID, action, resource, resourceID, metadata string)
}

// Logger implements AuditLogger and events.Sink on top of the audit repository.
type Logger struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// NewLogger returns a Logger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, examID, actorID, action, resource, resourceID, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	if err := l.repo.Create(ctx, l.entry(examID, actorID, action, resource, resourceID, metadata)); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}

// Deliver records a bus event. The error is returned so the bus counts sink failures.
func (l *Logger) Deliver(ctx context.Context, e events.Event) error {
	if l == nil || l.repo == nil {
		return nil
	}
	ar := FromEvent(e)
	actor := e.ActorID
	if actor == "" {
		actor = e.StudentID
	}
	entry := l.entry(e.ExamID, actor, ar.Action, ar.Resource, ar.ResourceID, ar.Metadata)
	entry.CreatedAt = e.OccurredAt.UTC()
	if err := l.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("audit: record %s: %w", e.Type, err)
	}
	return nil
}

func (l *Logger) entry(examID, actorID, action, resource, resourceID, metadata string) *domain.AuditLog {
	if actorID == "" {
		actorID = SystemActor
	}
	return &domain.AuditLog{
		ID:         uuid.NewString(),
		ExamID:     examID,
		ActorID:    actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  l.now().UTC(),
	}
}
