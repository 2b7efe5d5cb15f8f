// Package metrics holds the engine's Prometheus collectors. All methods are safe on a nil *Metrics so
// components can run without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for sessions, ledgers, the event bus and attendance.
type Metrics struct {
	SessionsStarted       prometheus.Counter
	SessionsResumed       prometheus.Counter
	SessionsEnded         *prometheus.CounterVec
	ViolationsRecorded    *prometheus.CounterVec
	VerificationsRecorded *prometheus.CounterVec
	EventsDropped         *prometheus.CounterVec
	SinkFailures          *prometheus.CounterVec
	OperationDuration     *prometheus.HistogramVec
	LockWait              prometheus.Histogram
	AttendanceMarked      prometheus.Counter
	SweepsCompleted       prometheus.Counter
}

// New registers all collectors with reg. Pass prometheus.NewRegistry() in tests to avoid
// duplicate registration against the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_sessions_started_total",
			Help: "Total number of monitoring sessions created",
		}),
		SessionsResumed: f.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_sessions_resumed_total",
			Help: "Total number of start requests that joined an existing live session",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_sessions_ended_total",
			Help: "Total number of sessions reaching a terminal status",
		}, []string{"status", "recommendation"}),
		ViolationsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_violations_recorded_total",
			Help: "Total number of violations appended to session ledgers",
		}, []string{"severity"}),
		VerificationsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_verifications_recorded_total",
			Help: "Total number of identity verifications appended to session ledgers",
		}, []string{"result"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_events_dropped_total",
			Help: "Events dropped because a subscriber or sink buffer was full",
		}, []string{"type"}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_event_sink_failures_total",
			Help: "Events a sink failed to deliver",
		}, []string{"sink"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proctoring_operation_duration_seconds",
			Help:    "Duration of session engine operations",
			Buckets: durationBuckets,
		}, []string{"op"}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctoring_lock_wait_seconds",
			Help:    "Time spent waiting for per-session locks",
			Buckets: durationBuckets,
		}),
		AttendanceMarked: f.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_attendance_marked_present_total",
			Help: "Attendance records transitioned from Absent to Present",
		}),
		SweepsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_sweeps_completed_total",
			Help: "Completed exam sweeper passes",
		}),
	}
}

func (m *Metrics) IncSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) IncSessionResumed() {
	if m == nil {
		return
	}
	m.SessionsResumed.Inc()
}

// IncSessionEnded records a terminal transition with the report's recommendation.
func (m *Metrics) IncSessionEnded(status, recommendation string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(status, recommendation).Inc()
}

func (m *Metrics) IncViolation(severity string) {
	if m == nil {
		return
	}
	m.ViolationsRecorded.WithLabelValues(severity).Inc()
}

func (m *Metrics) IncVerification(result string) {
	if m == nil {
		return
	}
	m.VerificationsRecorded.WithLabelValues(result).Inc()
}

func (m *Metrics) IncEventDropped(eventType string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}

// ObserveOperation records the duration of op. Call with time.Now() taken at the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveLockWait(start time.Time) {
	if m == nil {
		return
	}
	m.LockWait.Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddAttendanceMarked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AttendanceMarked.Add(float64(n))
}

func (m *Metrics) IncSweep() {
	if m == nil {
		return
	}
	m.SweepsCompleted.Inc()
}
