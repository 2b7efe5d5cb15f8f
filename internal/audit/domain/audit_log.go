package domain

import "time"

// AuditLog is one recorded action against an exam's sessions or attendance.
type AuditLog struct {
	ID         string
	ExamID     string
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	Metadata   string
	CreatedAt  time.Time
}
