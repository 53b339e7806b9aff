package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// RawProfileCreated is published by the profile service for every new
// organization profile.
type RawProfileCreated struct {
	OrganizationID string `json:"organization_id"`
	ProfileID      string `json:"profile_id"`
	Phone          string `json:"phone"`
	Email          string `json:"email,omitempty"`
	DeclaredName   string `json:"declared_name,omitempty"`
}

// BehavioralEvent is one scored action of a profile.
type BehavioralEvent struct {
	EventID        string    `json:"event_id"`
	OrganizationID string    `json:"organization_id"`
	ProfileID      string    `json:"profile_id"`
	Kind           string    `json:"kind"`
	Value          float64   `json:"value"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ProfileResolver runs the resolver for one profile.
type ProfileResolver interface {
	Handle(ctx context.Context, cmd command.ResolveProfileCommand) (*command.ResolveProfileResult, error)
}

// EventRecorder stores one behavioral event.
type EventRecorder interface {
	Handle(ctx context.Context, cmd command.RecordEventCommand) (*command.RecordEventResult, error)
}

// RawProfileHandler feeds RawProfileCreated messages to the resolver.
// Redelivered messages are harmless: resolving a linked profile is a lookup.
func RawProfileHandler(resolver ProfileResolver, logger *slog.Logger) MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, msg kafka.Message) error {
		var in RawProfileCreated
		if err := json.Unmarshal(msg.Value, &in); err != nil {
			return Poison(fmt.Errorf("decode raw profile: %w", err))
		}

		res, err := resolver.Handle(ctx, command.ResolveProfileCommand{
			OrganizationID: in.OrganizationID,
			ProfileID:      in.ProfileID,
			RawPhone:       in.Phone,
			RawEmail:       in.Email,
			DeclaredName:   in.DeclaredName,
			CorrelationID:  correlationID(msg),
		})
		if err != nil {
			return classify(err)
		}

		logger.Debug("profile resolved from stream",
			"organization_id", in.OrganizationID,
			"profile_id", in.ProfileID,
			"identity_id", res.IdentityID,
			"created", res.Created,
		)
		return nil
	}
}

// BehavioralEventHandler records behavioral events. Replays are deduplicated
// by event id.
func BehavioralEventHandler(recorder EventRecorder) MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var in BehavioralEvent
		if err := json.Unmarshal(msg.Value, &in); err != nil {
			return Poison(fmt.Errorf("decode behavioral event: %w", err))
		}
		_, err := recorder.Handle(ctx, command.RecordEventCommand{
			EventID:        in.EventID,
			OrganizationID: in.OrganizationID,
			ProfileID:      in.ProfileID,
			Kind:           in.Kind,
			Value:          in.Value,
			OccurredAt:     in.OccurredAt,
		})
		return classify(err)
	}
}

// classify turns input errors into poison; everything else is transient.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.IsValidation(err), errors.Is(err, shared.ErrNotFound):
		return Poison(err)
	default:
		return err
	}
}

func correlationID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, HeaderCorrelationID) {
			return string(h.Value)
		}
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func marshalEnvelope(env shared.EventEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: marshal envelope: %w", err)
	}
	return b, nil
}
