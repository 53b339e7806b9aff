package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alem-hub/academy-identity/pkg/retry"
)

// Consume outcomes reported to the Observer.
const (
	OutcomeHandled = "handled"
	OutcomePoison  = "poison"
	OutcomeRetried = "retried"
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler processes one message. Returning a PoisonError marks the
// message as unprocessable; any other error is retried.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// PoisonError marks a message that can never be handled.
type PoisonError struct {
	Err error
}

func (e *PoisonError) Error() string { return "poison message: " + e.Err.Error() }

func (e *PoisonError) Unwrap() error { return e.Err }

// Poison wraps err as a PoisonError.
func Poison(err error) error {
	if err == nil {
		return nil
	}
	return &PoisonError{Err: err}
}

// IsPoison reports whether err is a PoisonError.
func IsPoison(err error) bool {
	var pe *PoisonError
	return errors.As(err, &pe)
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// Retrier handles transient handler failures of one message. After it
	// gives up the message is retried again after RetryPause, never skipped.
	Retrier    *retry.Retrier
	RetryPause time.Duration

	Logger   *slog.Logger
	Observer Observer
}

// Consumer reads one topic with at-least-once delivery: the offset of a
// message is committed only after its handler succeeded or found it poisoned.
type Consumer struct {
	topic   string
	reader  MessageReader
	handler MessageHandler
	retrier *retry.Retrier
	pause   time.Duration
	logger  *slog.Logger
	obs     Observer
}

// NewConsumer creates a Consumer.
func NewConsumer(topic string, reader MessageReader, handler MessageHandler, config ConsumerConfig) *Consumer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RetryPause <= 0 {
		config.RetryPause = 5 * time.Second
	}
	if config.Retrier == nil {
		config.Retrier = retry.New(
			retry.WithMaxAttempts(5),
			retry.WithInitialDelay(200*time.Millisecond),
			retry.WithMaxDelay(5*time.Second),
		)
	}
	return &Consumer{
		topic:   topic,
		reader:  reader,
		handler: handler,
		retrier: config.Retrier,
		pause:   config.RetryPause,
		logger:  config.Logger.With("component", "kafka_consumer", "topic", topic),
		obs:     config.Observer,
	}
}

// Run consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("failed to close reader", "error", err)
		}
		c.logger.Info("consumer stopped")
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			if !sleep(ctx, c.pause) {
				return nil
			}
			continue
		}

		if !c.process(ctx, msg) {
			// cancelled before the message was handled; it is redelivered
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// process returns false when ctx ended before the message was settled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	for {
		start := time.Now()
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			err := c.handle(ctx, msg)
			if err == nil || IsPoison(err) {
				return retry.Permanent(err)
			}
			return retry.Retryable(err)
		})

		switch {
		case err == nil:
			c.observe(OutcomeHandled, start)
			return true
		case IsPoison(err):
			c.observe(OutcomePoison, start)
			c.logger.Warn("skipping poison message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return true
		}

		if ctx.Err() != nil {
			return false
		}
		c.observe(OutcomeRetried, start)
		c.logger.Error("handler failed, retrying message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		if !sleep(ctx, c.pause) {
			return false
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Poison(fmt.Errorf("handler panicked: %v", p))
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) observe(outcome string, start time.Time) {
	if c.obs != nil {
		c.obs.ObserveConsumed(c.topic, outcome, time.Since(start))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
