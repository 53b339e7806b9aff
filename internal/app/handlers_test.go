package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/config"
	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/application/query"
	"github.com/alem-hub/academy-identity/internal/infrastructure/persistence/memory"
)

func testOptions() Options {
	return Options{
		UoW:    memory.NewStore(),
		Locker: memory.NewLocker(),
		Identity: config.IdentityConfig{
			HashPepper:             "app-test-pepper-0123456789",
			ResolveMaxAttempts:     3,
			DetectContextConflicts: true,
		},
	}
}

func TestNewHandlers(t *testing.T) {
	t.Run("requires store and locker", func(t *testing.T) {
		_, err := NewHandlers(Options{})
		assert.Error(t, err)
	})

	t.Run("rejects oversized pepper", func(t *testing.T) {
		opts := testOptions()
		opts.Identity.HashPepper = string(make([]byte, 65))
		_, err := NewHandlers(opts)
		assert.Error(t, err)
	})

	t.Run("wires one store through commands and queries", func(t *testing.T) {
		h, err := NewHandlers(testOptions())
		require.NoError(t, err)
		ctx := context.Background()

		a, err := h.Resolve.Handle(ctx, command.ResolveProfileCommand{
			OrganizationID: "org-a", ProfileID: "p-1", RawPhone: "010-1234-5678",
		})
		require.NoError(t, err)
		b, err := h.Resolve.Handle(ctx, command.ResolveProfileCommand{
			OrganizationID: "org-b", ProfileID: "p-2", RawPhone: "01099998888",
		})
		require.NoError(t, err)

		merged, err := h.Merge.Handle(ctx, command.MergeIdentitiesCommand{
			IdentityA: a.IdentityID, IdentityB: b.IdentityID, Actor: "ops",
		})
		require.NoError(t, err)

		got, err := h.GetIdentity.Handle(ctx, query.GetIdentityQuery{IdentityID: merged.LoserID})
		require.NoError(t, err)
		assert.Equal(t, merged.SurvivorID, got.SurvivorID)

		trail, err := h.ListAudit.Handle(ctx, query.ListAuditQuery{IdentityID: merged.SurvivorID})
		require.NoError(t, err)
		assert.NotEmpty(t, trail.Merges)
	})
}

func TestKafkaConfig(t *testing.T) {
	kc := KafkaConfig(config.KafkaConfig{
		Brokers: []string{"k1:9092", "k2:9092"},
		GroupID: "identity-test",
	})

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, kc.Brokers)
	assert.Equal(t, "identity-test", kc.GroupID)
	assert.Equal(t, "raw-profile-created", kc.RawProfileTopic)
	assert.Equal(t, "identity-events", kc.IdentityEventsTopic)
}
