package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

func TestResolveConflict_Merge(t *testing.T) {
	f := newFixture(t)
	a := f.mustResolve(t, "org-a", "p-1", "01012345678", "kim@example.com")
	b := f.mustResolve(t, "org-b", "p-2", "01055556666", "kim@example.com")
	require.Len(t, b.ConflictIDs, 1)

	res, err := f.resolveC.Handle(context.Background(), ResolveConflictCommand{
		ConflictID: b.ConflictIDs[0],
		Decision:   DecisionMerge,
		Actor:      "reviewer",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Merge)

	assert.Equal(t, a.IdentityID, res.Merge.SurvivorID)
	assert.Equal(t, conflict.StatusResolvedMerge, res.Conflict.Status)
	assert.Equal(t, res.Merge.MergeAuditID, res.Conflict.MergeAuditID)
	assert.Equal(t, identity.StateMerged, f.identity(t, b.IdentityID).State)
	assert.Len(t, f.links(t, a.IdentityID), 2)
}

func TestResolveConflict_Separate(t *testing.T) {
	f := newFixture(t)
	f.mustResolve(t, "org-a", "p-1", "01012345678", "kim@example.com")
	c := f.mustResolve(t, "org-c", "p-9", "01012345678", "other@example.com")
	require.Len(t, c.ConflictIDs, 1)
	ctx := context.Background()

	res, err := f.resolveC.Handle(ctx, ResolveConflictCommand{
		ConflictID: c.ConflictIDs[0],
		Decision:   DecisionSeparate,
		Actor:      "reviewer",
		Reason:     "shared family phone",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Merge)
	assert.Equal(t, conflict.StatusResolvedSeparate, res.Conflict.Status)
	assert.Equal(t, "reviewer", res.Conflict.ResolvedBy)
	assert.NotNil(t, res.Conflict.ResolvedAt)
	assert.Empty(t, f.conflicts(t, conflict.StatusOpen))

	t.Run("closed conflicts stay closed", func(t *testing.T) {
		_, err := f.resolveC.Handle(ctx, ResolveConflictCommand{ConflictID: c.ConflictIDs[0], Decision: DecisionSeparate, Actor: "reviewer"})
		assert.ErrorIs(t, err, shared.ErrConflictAlreadyResolved)
	})
}

func TestResolveConflict_Errors(t *testing.T) {
	f := newFixture(t)
	f.mustResolve(t, "org-a", "p-1", "01012345678", "kim@example.com")
	c := f.mustResolve(t, "org-c", "p-9", "01012345678", "other@example.com")
	ctx := context.Background()

	tests := []struct {
		name    string
		cmd     ResolveConflictCommand
		wantErr error
	}{
		{
			name:    "unknown decision",
			cmd:     ResolveConflictCommand{ConflictID: c.ConflictIDs[0], Decision: "maybe", Actor: "reviewer"},
			wantErr: shared.ErrInvalidDecision,
		},
		{
			name:    "unknown conflict",
			cmd:     ResolveConflictCommand{ConflictID: "missing", Decision: DecisionSeparate, Actor: "reviewer"},
			wantErr: shared.ErrConflictNotFound,
		},
		{
			// the email had no owner, there is nothing to merge with
			name:    "merge without candidate",
			cmd:     ResolveConflictCommand{ConflictID: c.ConflictIDs[0], Decision: DecisionMerge, Actor: "reviewer"},
			wantErr: shared.ErrConflictHasNoCandidate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolveC.Handle(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Len(t, f.conflicts(t, conflict.StatusOpen), 1)
}
