// Package events publishes audit events to Kafka. Publishing is best-effort:
// a broker outage never fails the request that produced the event.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeTransactionAppended = "TRANSACTION_APPENDED"
	TypeTransactionDeleted  = "TRANSACTION_DELETED"
	TypeAlertTriggered      = "ALERT_TRIGGERED"
)

// Event is the audit record written to the topic. Payload carries the
// domain object that the event describes.
type Event struct {
	Type      string      `json:"type"`
	UserID    string      `json:"userId"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher writes audit events to a Kafka topic. A nil Publisher is valid
// and drops everything, so callers never need to branch on whether Kafka is
// configured.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher returns a publisher for the given brokers and topic, or nil
// when no brokers are configured.
func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

// Publish writes one event, keyed by user so a user's events stay ordered
// within a partition. Failures are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, eventType, userID string, payload interface{}) {
	if p == nil {
		return
	}

	b, err := json.Marshal(Event{
		Type:      eventType,
		UserID:    userID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Error("audit event marshal failed", "type", eventType, "err", err)
		return
	}

	msg := kafka.Message{Key: []byte(userID), Value: b}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("audit event publish failed", "type", eventType, "err", err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
