// Package kafka publishes rejected events and dropped batches to a
// dead-letter topic for later analysis or replay.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Entry is one dead-letter record: the reason it was sidelined, the failing
// checks, and the original payload.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
	Errors    []string        `json:"errors,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// DeadLetter produces dead-letter entries to a Kafka topic. A nil DeadLetter
// is valid and discards everything, so callers never need to branch on
// whether the feature is configured.
type DeadLetter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewDeadLetter creates a dead-letter producer, or nil when no brokers are
// configured.
func NewDeadLetter(brokers []string, topic string, logger *slog.Logger) *DeadLetter {
	if len(brokers) == 0 {
		return nil
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &DeadLetter{writer: w, logger: logger}
}

// Publish sends one entry. Failures are logged, never propagated: the
// dead-letter channel is best-effort and must not stall the pipeline.
func (d *DeadLetter) Publish(ctx context.Context, reason string, errs []string, payload any) {
	if d == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("dead-letter payload marshal failed", "error", err)
		return
	}
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Errors:    errs,
		Payload:   body,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		d.logger.Warn("dead-letter entry marshal failed", "error", err)
		return
	}

	msg := kafkago.Message{
		Key:   []byte(reason),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "reason", Value: []byte(reason)},
		},
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		d.logger.Warn("dead-letter publish failed", "error", err, "reason", reason)
	}
}

// Close flushes and closes the underlying producer.
func (d *DeadLetter) Close() error {
	if d == nil {
		return nil
	}
	return d.writer.Close()
}
