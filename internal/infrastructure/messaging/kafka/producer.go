package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
	"github.com/alem-hub/academy-identity/pkg/circuitbreaker"
	"github.com/alem-hub/academy-identity/pkg/retry"
)

// ForwardedEvents are the domain events published to the identity events topic.
var ForwardedEvents = []shared.EventType{
	shared.EventIdentityCreated,
	shared.EventIdentityMerged,
	shared.EventIdentityUnmerged,
	shared.EventIdentityArchived,
	shared.EventConflictOpened,
	shared.EventReputationUpdated,
}

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Observer receives produce and consume outcomes.
type Observer interface {
	ObservePublished(eventType shared.EventType, err error)
	ObserveConsumed(topic, outcome string, duration time.Duration)
}

// ProducerConfig configures the Producer.
type ProducerConfig struct {
	// PublishTimeout bounds one Publish including retries.
	PublishTimeout time.Duration

	Retrier  *retry.Retrier
	Breaker  *circuitbreaker.CircuitBreaker
	Logger   *slog.Logger
	Observer Observer
	NewID    func() string
}

// Producer serializes domain events into envelopes and writes them to the
// broker.
type Producer struct {
	writer  MessageWriter
	timeout time.Duration
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
	obs     Observer
	newID   func() string
}

// NewProducer creates a Producer.
func NewProducer(writer MessageWriter, config ProducerConfig) *Producer {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 30 * time.Second
	}
	if config.Retrier == nil {
		config.Retrier = retry.BrokerRetrier()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	return &Producer{
		writer:  writer,
		timeout: config.PublishTimeout,
		retrier: config.Retrier,
		breaker: config.Breaker,
		logger:  config.Logger.With("component", "kafka_producer"),
		obs:     config.Observer,
		newID:   config.NewID,
	}
}

// Attach subscribes the producer to the forwarded event types on the bus.
func (p *Producer) Attach(bus shared.EventSubscriber) error {
	for _, t := range ForwardedEvents {
		if err := bus.Subscribe(t, p.handle); err != nil {
			return fmt.Errorf("kafka producer: subscribe %s: %w", t, err)
		}
	}
	return nil
}

func (p *Producer) handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.Publish(ctx, event)
}

// Publish writes one event. Broker failures are retried with backoff; an open
// circuit fails fast.
func (p *Producer) Publish(ctx context.Context, event shared.Event) error {
	msg, err := p.message(event)
	if err != nil {
		p.observe(event.EventType(), err)
		return err
	}

	err = p.retrier.Do(ctx, func(ctx context.Context) error {
		err := p.write(ctx, msg)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
			return retry.Permanent(err)
		default:
			return retry.Retryable(err)
		}
	})
	p.observe(event.EventType(), err)
	if err != nil {
		p.logger.Error("failed to publish event",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
		return fmt.Errorf("kafka producer: %w", err)
	}
	return nil
}

func (p *Producer) write(ctx context.Context, msg kafka.Message) error {
	if p.breaker == nil {
		return p.writer.WriteMessages(ctx, msg)
	}
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msg)
	})
}

func (p *Producer) message(event shared.Event) (kafka.Message, error) {
	env, err := shared.NewEventEnvelope(p.newID(), event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka producer: envelope: %w", err)
	}
	value, err := marshalEnvelope(env)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{{Key: HeaderEventType, Value: []byte(env.Type)}}
	if env.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(env.CorrelationID)})
	}
	return kafka.Message{
		Key:     []byte(env.AggregateID),
		Value:   value,
		Headers: headers,
		Time:    env.Timestamp,
	}, nil
}

func (p *Producer) observe(t shared.EventType, err error) {
	if p.obs != nil {
		p.obs.ObservePublished(t, err)
	}
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
