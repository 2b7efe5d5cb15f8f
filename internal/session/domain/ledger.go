package domain

import (
	"math"
	"strings"
	"time"

	"proctoring-engine/internal/platform/errs"
)

// VerificationResult is the outcome of a single face-verification attempt.
type VerificationResult string

const (
	ResultVerified      VerificationResult = "verified"
	ResultFailed        VerificationResult = "failed"
	ResultNoFace        VerificationResult = "no_face"
	ResultMultipleFaces VerificationResult = "multiple_faces"
	ResultNoReference   VerificationResult = "no_reference"
)

// Valid reports whether r is a known result.
func (r VerificationResult) Valid() bool {
	switch r {
	case ResultVerified, ResultFailed, ResultNoFace, ResultMultipleFaces, ResultNoReference:
		return true
	}
	return false
}

// Severity of an integrity violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Well-known violation types. The set is open; any non-empty type is accepted.
const (
	ViolationTabSwitch          = "tab_switch"
	ViolationMultipleFaces      = "multiple_faces"
	ViolationUnauthorizedPerson = "unauthorized_person"
)

// VerificationRecord is one entry of the verification ledger.
type VerificationRecord struct {
	ID             string             `json:"id"`
	SessionID      string             `json:"session_id"`
	Timestamp      time.Time          `json:"timestamp"`
	Result         VerificationResult `json:"result"`
	Confidence     float64            `json:"confidence"`
	EvidenceRef    string             `json:"evidence_ref,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"` // optional; repeated keys are not appended twice
}

// Validate checks the record payload.
func (v *VerificationRecord) Validate() error {
	if !v.Result.Valid() {
		return errs.Validation("unknown verification result " + string(v.Result))
	}
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		return errs.Validation("confidence must be within [0,1]")
	}
	return nil
}

// Violation is one entry of the violation ledger. Entries are never edited or removed.
type Violation struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Type           string    `json:"type"`
	Severity       Severity  `json:"severity"`
	Description    string    `json:"description,omitempty"`
	EvidenceRef    string    `json:"evidence_ref,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ReportedBy     string    `json:"reported_by,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// Validate checks the violation payload.
func (v *Violation) Validate() error {
	if strings.TrimSpace(v.Type) == "" {
		return errs.Validation("violation type required")
	}
	if !v.Severity.Valid() {
		return errs.Validation("unknown severity " + string(v.Severity))
	}
	return nil
}
