package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a monitoring session.
type Status string

const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusTerminated:
		return true
	}
	return false
}

// IsLive reports whether the session still accepts ledger writes (active or paused).
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusPaused
}

// IsTerminal reports whether s is completed or terminated. Terminal sessions never change again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusTerminated
}

// CanTransition reports whether from -> to is a legal state machine edge.
// Same-state requests are not edges; callers treat them as no-ops.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusPaused || to == StatusCompleted || to == StatusTerminated
	case StatusPaused:
		return to == StatusActive || to == StatusCompleted || to == StatusTerminated
	default:
		return false
	}
}

// Recommendation is the triage outcome derived from the risk score.
type Recommendation string

const (
	RecommendationAccept Recommendation = "accept"
	RecommendationReview Recommendation = "review"
	RecommendationReject Recommendation = "reject"
)

// Valid reports whether r is one of the known recommendations.
func (r Recommendation) Valid() bool {
	return r == RecommendationAccept || r == RecommendationReview || r == RecommendationReject
}

// FinalReport is computed once, when the session reaches a terminal state.
type FinalReport struct {
	TotalViolations int            `json:"total_violations"`
	RiskScore       int            `json:"risk_score"`
	Recommendation  Recommendation `json:"recommendation"`
	Notes           string         `json:"notes,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Session is one student's monitoring session for one exam attempt.
// Fields are mutated only by the session service; repositories return copies.
type Session struct {
	ID                string
	ExamID            string
	StudentID         string
	Status            Status
	StartTime         time.Time
	EndTime           *time.Time // nil until the session is terminal
	Verifications     []VerificationRecord
	Violations        []Violation
	IsTerminated      bool
	TerminationReason string
	FinalReport       *FinalReport
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.FinalReport != nil {
		r := *s.FinalReport
		c.FinalReport = &r
	}
	c.Verifications = append([]VerificationRecord(nil), s.Verifications...)
	c.Violations = append([]Violation(nil), s.Violations...)
	return &c
}

// CountViolations returns how many violations of the given type the session holds.
func (s *Session) CountViolations(violationType string) int {
	n := 0
	for _, v := range s.Violations {
		if strings.EqualFold(v.Type, violationType) {
			n++
		}
	}
	return n
}
