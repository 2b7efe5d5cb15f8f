package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"proctoring-engine/internal/events"
)

const loggerName = "proctoring.events"

// recordEmitter is the part of otellog.Logger the sink uses.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// LogSink is an events.Sink that emits each event as an OTel log record.
type LogSink struct {
	logger recordEmitter
}

// NewLogSink returns a sink bound to the provider's logger. If provider is nil, returns nil
// so the caller can skip attaching it.
func NewLogSink(provider *sdklog.LoggerProvider) *LogSink {
	if provider == nil {
		return nil
	}
	return &LogSink{logger: provider.Logger(loggerName)}
}

// NewLogSinkWithLogger is used by tests to capture records.
func NewLogSinkWithLogger(logger recordEmitter) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver converts the event to a log record: the JSON event is the body, identifiers are attributes.
func (s *LogSink) Deliver(ctx context.Context, e events.Event) error {
	if s == nil || s.logger == nil {
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	rec := otellog.Record{}
	rec.SetBody(otellog.BytesValue(body))
	rec.SetSeverity(severityOf(e))
	rec.SetEventName(string(e.Type))
	addString(&rec, "event_id", e.ID)
	addString(&rec, "event_type", string(e.Type))
	addString(&rec, "exam_id", e.ExamID)
	addString(&rec, "session_id", e.SessionID)
	addString(&rec, "student_id", e.StudentID)
	if e.Violation != nil {
		addString(&rec, "violation_type", e.Violation.Type)
		addString(&rec, "violation_severity", string(e.Violation.Severity))
	}
	if e.Report != nil {
		rec.AddAttributes(otellog.Int("risk_score", e.Report.RiskScore))
		addString(&rec, "recommendation", string(e.Report.Recommendation))
	}
	ts := e.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	s.logger.Emit(ctx, rec)
	return nil
}

func addString(rec *otellog.Record, key, value string) {
	if value != "" {
		rec.AddAttributes(otellog.String(key, value))
	}
}

func severityOf(e events.Event) otellog.Severity {
	switch {
	case e.Violation != nil && (e.Violation.Severity == "critical" || e.Violation.Severity == "high"):
		return otellog.SeverityWarn
	case e.Type == events.TypeSessionEnded && e.Report != nil && e.Report.Recommendation == "reject":
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}
