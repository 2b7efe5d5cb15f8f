// Package scoring turns a session's ledgers into a risk score and an accept/review/reject recommendation.
package scoring

import (
	"context"
	"fmt"
	"strings"

	"proctoring-engine/internal/session/domain"
)

// Input is everything a policy may look at. Policies must be pure functions of Input.
type Input struct {
	Violations        []domain.Violation
	Verifications     []domain.VerificationRecord
	Terminated        bool
	TerminationReason string
}

// InputFrom builds the scoring input for s.
func InputFrom(s *domain.Session) Input {
	return Input{
		Violations:        s.Violations,
		Verifications:     s.Verifications,
		Terminated:        s.IsTerminated,
		TerminationReason: s.TerminationReason,
	}
}

// Assessment is the outcome stored in the final report.
type Assessment struct {
	RiskScore       int
	Recommendation  domain.Recommendation
	TotalViolations int
	Notes           string
}

// Policy computes an Assessment. Implementations must be deterministic.
type Policy interface {
	Assess(ctx context.Context, in Input) (Assessment, error)
}

var severityOrder = []domain.Severity{
	domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow,
}

// flagged reports whether a verification result counts against the session.
func flagged(r domain.VerificationResult) bool {
	return r == domain.ResultFailed || r == domain.ResultMultipleFaces
}

// notes is a deterministic human-readable summary of the input.
func notes(in Input) string {
	counts := make(map[domain.Severity]int)
	for _, v := range in.Violations {
		counts[v.Severity]++
	}
	var parts []string
	for _, sev := range severityOrder {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", sev, n))
		}
	}
	nFlagged := 0
	for _, r := range in.Verifications {
		if flagged(r.Result) {
			nFlagged++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d violation(s)", len(in.Violations))
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "; %d flagged verification(s) of %d", nFlagged, len(in.Verifications))
	if in.Terminated && in.TerminationReason != "" {
		fmt.Fprintf(&b, "; terminated: %s", in.TerminationReason)
	}
	return b.String()
}
