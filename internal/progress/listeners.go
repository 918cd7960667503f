package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Store is the persistence a StoreListener writes through.
type Store interface {
	AppendProgress(ctx context.Context, runID string, seq int, text string, at time.Time) error
	MarkCrashed(ctx context.Context, runID string) error
}

// StoreListener persists the progress log so other processes (the API, the
// CLI) can follow a run.
type StoreListener struct {
	Store Store
}

// Notify implements Listener.
func (l StoreListener) Notify(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventCrashed:
		return l.Store.MarkCrashed(ctx, ev.RunID)
	default:
		return l.Store.AppendProgress(ctx, ev.RunID, ev.Seq, ev.Text, ev.At)
	}
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes every event as JSON, keyed by run id so one
// run's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Notify implements Listener.
func (p *KafkaPublisher) Notify(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RunID),
		Value: value,
		Time:  ev.At,
	}); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
