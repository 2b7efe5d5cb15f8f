package audit

import (
	"fmt"

	"proctoring-engine/internal/events"
)

// ActionResource is the audit view of an event.
type ActionResource struct {
	Action     string
	Resource   string
	ResourceID string
	Metadata   string
}

// FromEvent derives action, resource and a short metadata string from a bus event.
func FromEvent(e events.Event) ActionResource {
	switch e.Type {
	case events.TypeSessionStarted:
		return ActionResource{Action: "session_started", Resource: "session", ResourceID: e.SessionID}
	case events.TypeSessionStatusChanged:
		meta := fmt.Sprintf("%s->%s", e.OldStatus, e.NewStatus)
		if e.Reason != "" {
			meta += ": " + e.Reason
		}
		return ActionResource{Action: "status_changed", Resource: "session", ResourceID: e.SessionID, Metadata: meta}
	case events.TypeSessionEnded:
		ar := ActionResource{Action: "session_ended", Resource: "session", ResourceID: e.SessionID}
		if e.Report != nil {
			ar.Metadata = fmt.Sprintf("risk=%d recommendation=%s", e.Report.RiskScore, e.Report.Recommendation)
		}
		return ar
	case events.TypeViolationReported:
		ar := ActionResource{Action: "violation_reported", Resource: "violation", ResourceID: e.SessionID}
		if e.Violation != nil {
			ar.ResourceID = e.Violation.ID
			ar.Metadata = fmt.Sprintf("%s/%s", e.Violation.Type, e.Violation.Severity)
		}
		return ar
	case events.TypeVerificationRecorded:
		ar := ActionResource{Action: "verification_recorded", Resource: "verification", ResourceID: e.SessionID}
		if e.Verification != nil {
			ar.ResourceID = e.Verification.ID
			ar.Metadata = string(e.Verification.Result)
		}
		return ar
	}
	return ActionResource{Action: string(e.Type), Resource: "session", ResourceID: e.SessionID}
}
