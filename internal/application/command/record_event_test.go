package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

func TestRecordEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := f.clock.Now()

	cmd := RecordEventCommand{
		EventID:        "evt-1",
		OrganizationID: "org-a",
		ProfileID:      "p-1",
		Kind:           "satisfaction",
		Value:          0.8,
		OccurredAt:     at,
	}

	res, err := f.record.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = f.record.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			mutate  func(c *RecordEventCommand)
			wantErr error
		}{
			{"unknown kind", func(c *RecordEventCommand) { c.Kind = "likes" }, shared.ErrInvalidEventKind},
			{"value out of range", func(c *RecordEventCommand) { c.Value = 1.5 }, shared.ErrInvalidEventValue},
			{"far future", func(c *RecordEventCommand) { c.OccurredAt = at.Add(time.Hour) }, shared.ErrFutureTimestamp},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := cmd
				c.EventID = "evt-" + tt.name
				tt.mutate(&c)
				_, err := f.record.Handle(ctx, c)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
	})
}
