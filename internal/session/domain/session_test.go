package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"proctoring-engine/internal/platform/errs"
)

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusPaused, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusTerminated, true},
		{StatusPaused, StatusCompleted, true},
		{StatusPaused, StatusTerminated, true},
		{StatusActive, StatusActive, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusTerminated, false},
		{StatusTerminated, StatusPaused, false},
		{StatusTerminated, StatusCompleted, false},
	}
	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestStatus_LiveAndTerminal(t *testing.T) {
	if !StatusActive.IsLive() || !StatusPaused.IsLive() {
		t.Error("active and paused should be live")
	}
	if StatusCompleted.IsLive() || StatusTerminated.IsLive() {
		t.Error("terminal statuses should not be live")
	}
	if !StatusCompleted.IsTerminal() || !StatusTerminated.IsTerminal() {
		t.Error("completed and terminated should be terminal")
	}
	if Status("archived").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestViolation_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		v       Violation
		wantErr bool
	}{
		{"ok", Violation{Type: ViolationTabSwitch, Severity: SeverityLow}, false},
		{"custom type", Violation{Type: "phone_detected", Severity: SeverityHigh}, false},
		{"missing type", Violation{Severity: SeverityLow}, true},
		{"blank type", Violation{Type: "  ", Severity: SeverityLow}, true},
		{"bad severity", Violation{Type: ViolationTabSwitch, Severity: "severe"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.v.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrValidation) {
				t.Errorf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestVerificationRecord_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		v       VerificationRecord
		wantErr bool
	}{
		{"ok", VerificationRecord{Result: ResultVerified, Confidence: 0.9}, false},
		{"zero confidence", VerificationRecord{Result: ResultNoFace}, false},
		{"full confidence", VerificationRecord{Result: ResultVerified, Confidence: 1}, false},
		{"above one", VerificationRecord{Result: ResultVerified, Confidence: 1.5}, true},
		{"negative", VerificationRecord{Result: ResultFailed, Confidence: -0.1}, true},
		{"NaN", VerificationRecord{Result: ResultVerified, Confidence: math.NaN()}, true},
		{"infinite", VerificationRecord{Result: ResultVerified, Confidence: math.Inf(1)}, true},
		{"unknown result", VerificationRecord{Result: "maybe"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.v.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrValidation) {
				t.Errorf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	end := time.Now()
	s := &Session{
		ID:          "s1",
		EndTime:     &end,
		Violations:  []Violation{{Type: ViolationTabSwitch, Severity: SeverityLow}},
		FinalReport: &FinalReport{RiskScore: 5},
	}
	c := s.Clone()
	c.Violations[0].Type = "changed"
	c.FinalReport.RiskScore = 99
	*c.EndTime = end.Add(time.Hour)
	if s.Violations[0].Type != ViolationTabSwitch {
		t.Error("clone shares violation slice")
	}
	if s.FinalReport.RiskScore != 5 {
		t.Error("clone shares final report")
	}
	if !s.EndTime.Equal(end) {
		t.Error("clone shares end time")
	}
	if (*Session)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestSession_CountViolations(t *testing.T) {
	s := &Session{Violations: []Violation{
		{Type: ViolationTabSwitch}, {Type: "TAB_SWITCH"}, {Type: ViolationMultipleFaces},
	}}
	if n := s.CountViolations(ViolationTabSwitch); n != 2 {
		t.Errorf("CountViolations = %d, want 2", n)
	}
}
