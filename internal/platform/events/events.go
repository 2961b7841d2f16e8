// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const TypeSubmissionCreated = "submission.created"

// Event is the envelope written to the topic. Key selects the partition so
// events for one patient stay ordered.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"-"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an event envelope.
func NewEvent(eventType, key string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// ---------------------------------------------------------------------------
// Kafka
// ---------------------------------------------------------------------------

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, topic: topic}
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", evt.Type, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ---------------------------------------------------------------------------
// No-op and recording publishers
// ---------------------------------------------------------------------------

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct {
	logger zerolog.Logger
}

func NewNopPublisher(logger zerolog.Logger) *NopPublisher {
	return &NopPublisher{logger: logger}
}

func (p *NopPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Debug().Str("type", evt.Type).Str("event_id", evt.ID).Msg("event dropped: no broker configured")
	return nil
}

func (p *NopPublisher) Close() error { return nil }

// MemoryPublisher records events in memory. Test double.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (p *MemoryPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
