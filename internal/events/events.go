// Package events publishes one TurnEvent per processed conversation turn so downstream
// consumers (analytics, audit) can follow intent changes without reading sessions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the Kafka topic for turn events.
const DefaultTopic = "medbay.turns"

// TurnEvent describes the outcome of one conversation turn.
type TurnEvent struct {
	UserID         string    `json:"user_id"`
	Channel        string    `json:"channel"`
	PreviousIntent string    `json:"previous_intent"`
	Intent         string    `json:"intent"`
	Switched       bool      `json:"switched"`
	Tool           string    `json:"tool,omitempty"`
	Reset          bool      `json:"reset"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher sends turn events.
type Publisher interface {
	Publish(ctx context.Context, ev TurnEvent) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) Publish(ctx context.Context, ev TurnEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by user id, so every turn of one user lands
// on the same partition in order.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates an asynchronous writer for brokers. Delivery failures are
// logged from the writer's completion callback and never block a turn.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				slog.Warn("KafkaPublisher: delivery failed", "error", err, "count", len(msgs), "topic", topic)
			}
		},
	}
	slog.Info("KafkaPublisher: created", "brokers", addrs, "topic", topic)
	return &KafkaPublisher{w: w, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev TurnEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode turn event: %w", err)
	}
	msg := kafka.Message{Key: []byte(ev.UserID), Value: value, Time: ev.Timestamp}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
