// Package kafka connects the service to the broker: consumers feed raw profiles
// and behavioral events into the application commands, and the producer
// forwards committed domain events to downstream services.
package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// Default topic names.
const (
	TopicRawProfileCreated = "raw-profile-created"
	TopicBehavioralEvents  = "behavioral-events"
	TopicIdentityEvents    = "identity-events"
)

// Header keys set on produced messages.
const (
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
)

// Config configures readers and the writer.
type Config struct {
	Brokers []string
	GroupID string

	RawProfileTopic     string
	BehavioralTopic     string
	IdentityEventsTopic string

	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// BatchTimeout caps how long the writer buffers before flushing.
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		Brokers:             []string{"localhost:9092"},
		GroupID:             "academy-identity",
		RawProfileTopic:     TopicRawProfileCreated,
		BehavioralTopic:     TopicBehavioralEvents,
		IdentityEventsTopic: TopicIdentityEvents,
		MinBytes:            1,
		MaxBytes:            10 << 20,
		MaxWait:             500 * time.Millisecond,
		BatchTimeout:        50 * time.Millisecond,
		WriteTimeout:        10 * time.Second,
	}
}

// NewWriter builds the writer for the identity events topic. Messages are
// keyed by aggregate id, so the hash balancer keeps one identity's events in
// order on a single partition.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.IdentityEventsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
	}
}

// NewReader builds a consumer group reader for one topic. Offsets are
// committed synchronously after each handled message.
func NewReader(cfg Config, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}
