package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

func TestArchiveIdentity_CascadesToMerged(t *testing.T) {
	f := newFixture(t)
	older, newer := twoIdentities(t, f)
	ctx := context.Background()

	_, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
	require.NoError(t, err)

	res, err := f.archive.Handle(ctx, ArchiveIdentityCommand{IdentityID: older.IdentityID, Actor: "privacy", Reason: "erasure request"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{older.IdentityID, newer.IdentityID}, res.ArchivedIDs)
	assert.Equal(t, identity.StateArchived, f.identity(t, older.IdentityID).State)
	assert.Equal(t, identity.StateArchived, f.identity(t, newer.IdentityID).State)

	// existing links still answer, new profiles start over
	linked := f.mustResolve(t, "org-a", "p-1", "01011112222", "")
	assert.True(t, linked.AlreadyLinked)
	assert.Equal(t, older.IdentityID, linked.IdentityID)

	fresh := f.mustResolve(t, "org-z", "p-1", "01011112222", "")
	assert.True(t, fresh.Created)
	assert.NotEqual(t, older.IdentityID, fresh.IdentityID)

	t.Run("twice", func(t *testing.T) {
		_, err := f.archive.Handle(ctx, ArchiveIdentityCommand{IdentityID: older.IdentityID, Actor: "privacy"})
		assert.ErrorIs(t, err, shared.ErrIdentityNotActive)
	})

	t.Run("merge with archived", func(t *testing.T) {
		_, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: fresh.IdentityID, IdentityB: older.IdentityID, Actor: "ops"})
		assert.ErrorIs(t, err, shared.ErrIdentityNotActive)
	})
}
