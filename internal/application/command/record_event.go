package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// RecordEventCommand stores one behavioral event of a profile. Events are
// keyed by profile, so they follow the profile's link through merges.
type RecordEventCommand struct {
	EventID        string
	OrganizationID string
	ProfileID      string
	Kind           string
	Value          float64
	OccurredAt     time.Time
}

// RecordEventResult reports whether the event was new.
type RecordEventResult struct {
	EventID   string
	Duplicate bool
}

// RecordEventHandler handles the RecordEventCommand.
type RecordEventHandler struct {
	deps Deps
}

// NewRecordEventHandler creates a new RecordEventHandler.
func NewRecordEventHandler(deps Deps) *RecordEventHandler {
	return &RecordEventHandler{deps: deps.withDefaults()}
}

// Handle executes the command. Replaying an event id is not an error.
func (h *RecordEventHandler) Handle(ctx context.Context, cmd RecordEventCommand) (*RecordEventResult, error) {
	e, err := reputation.NewEvent(reputation.NewEventParams{
		ID:         cmd.EventID,
		Profile:    shared.ProfileRef{OrganizationID: cmd.OrganizationID, ProfileID: cmd.ProfileID},
		Kind:       reputation.EventKind(cmd.Kind),
		Value:      cmd.Value,
		OccurredAt: cmd.OccurredAt,
		Now:        h.deps.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record_event: validation failed: %w", err)
	}

	err = h.deps.UoW.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		return repos.Reputation().RecordEvent(ctx, e)
	})
	switch {
	case errors.Is(err, shared.ErrEventAlreadyStored):
		return &RecordEventResult{EventID: e.ID, Duplicate: true}, nil
	case err != nil:
		return nil, fmt.Errorf("record_event: %w", err)
	}
	return &RecordEventResult{EventID: e.ID}, nil
}
