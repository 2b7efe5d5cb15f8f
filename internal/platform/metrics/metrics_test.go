package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncSessionStarted()
	m.IncSessionResumed()
	m.IncSessionEnded("completed", "accept")
	m.IncViolation("low")
	m.IncVerification("verified")
	m.IncEventDropped("session.started")
	m.IncSinkFailure("kafka")
	m.ObserveOperation("start", time.Now())
	m.ObserveLockWait(time.Now())
	m.AddAttendanceMarked(3)
	m.IncSweep()
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncSessionStarted()
	m.IncSessionStarted()
	m.IncViolation("critical")
	m.IncEventDropped("violation.reported")
	m.AddAttendanceMarked(2)
	m.AddAttendanceMarked(0)

	if got := testutil.ToFloat64(m.SessionsStarted); got != 2 {
		t.Errorf("sessions started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ViolationsRecorded.WithLabelValues("critical")); got != 1 {
		t.Errorf("critical violations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped.WithLabelValues("violation.reported")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AttendanceMarked); got != 2 {
		t.Errorf("attendance marked = %v, want 2", got)
	}
}
