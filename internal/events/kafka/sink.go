// Package kafka publishes bus events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"proctoring-engine/internal/events"
)

// Sink implements events.Sink using segmentio/kafka-go. Messages are keyed by session id so one
// session's events land on one partition in order.
type Sink struct {
	writer *kafka.Writer
	topic  string
}

// NewSink creates a Kafka sink that writes events to the given topic.
// Returns nil when brokers or topic are empty; callers treat that as "Kafka disabled".
func NewSink(brokers []string, topic string) *Sink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Sink{writer: writer, topic: topic}
}

// Message builds the Kafka message for e.
func Message(e events.Event) (kafka.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.SessionID),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "exam_id", Value: []byte(e.ExamID)},
		},
	}, nil
}

// Deliver serializes the event as JSON and writes it to the topic.
func (s *Sink) Deliver(ctx context.Context, e events.Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	msg, err := Message(e)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

// Topic returns the destination topic.
func (s *Sink) Topic() string {
	if s == nil {
		return ""
	}
	return s.topic
}

// Close flushes and closes the writer. Safe to call on nil.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
