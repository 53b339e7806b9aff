package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// twoIdentities resolves two unrelated parents; the first one is older.
func twoIdentities(t *testing.T, f *fixture) (older, newer *ResolveProfileResult) {
	t.Helper()
	older = f.mustResolve(t, "org-a", "p-1", "01011112222", "")
	f.mustResolve(t, "org-b", "p-1", "01011112222", "")
	newer = f.mustResolve(t, "org-c", "p-1", "01033334444", "")
	require.NotEqual(t, older.IdentityID, newer.IdentityID)
	return older, newer
}

func TestMergeIdentities_OlderSurvives(t *testing.T) {
	f := newFixture(t)
	older, newer := twoIdentities(t, f)

	// argument order does not pick the survivor
	res, err := f.merge.Handle(context.Background(), MergeIdentitiesCommand{
		IdentityA: newer.IdentityID,
		IdentityB: older.IdentityID,
		Actor:     "reviewer@ops",
	})
	require.NoError(t, err)

	assert.Equal(t, older.IdentityID, res.SurvivorID)
	assert.Equal(t, newer.IdentityID, res.LoserID)
	assert.Equal(t, 1, res.MovedLinks)

	loser := f.identity(t, newer.IdentityID)
	assert.Equal(t, identity.StateMerged, loser.State)
	assert.Equal(t, older.IdentityID, loser.MergedInto)
	assert.Empty(t, f.links(t, newer.IdentityID))

	links := f.links(t, older.IdentityID)
	require.Len(t, links, 3)
	for _, l := range links {
		if l.ID == newer.LinkID {
			assert.Equal(t, identity.ConfidenceManual, l.Confidence)
		} else {
			assert.Equal(t, identity.ConfidenceExactPhone, l.Confidence)
		}
	}
}

func TestMergeIdentities_LoserPhoneResolvesToSurvivor(t *testing.T) {
	f := newFixture(t)
	older, newer := twoIdentities(t, f)

	_, err := f.merge.Handle(context.Background(), MergeIdentitiesCommand{
		IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops",
	})
	require.NoError(t, err)

	res := f.mustResolve(t, "org-d", "p-1", "010-3333-4444", "")
	assert.Equal(t, older.IdentityID, res.IdentityID)
	assert.False(t, res.Created)

	// a profile linked before the merge follows the merged pointer
	again := f.mustResolve(t, "org-c", "p-1", "01033334444", "")
	assert.True(t, again.AlreadyLinked)
	assert.Equal(t, older.IdentityID, again.IdentityID)
}

func TestMergeIdentities_Errors(t *testing.T) {
	f := newFixture(t)
	older, newer := twoIdentities(t, f)
	ctx := context.Background()

	t.Run("self merge", func(t *testing.T) {
		_, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: older.IdentityID, Actor: "ops"})
		assert.ErrorIs(t, err, shared.ErrSelfMerge)
	})

	t.Run("missing actor", func(t *testing.T) {
		_, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID})
		assert.ErrorIs(t, err, shared.ErrEmptyValue)
	})

	t.Run("unknown identity", func(t *testing.T) {
		_, err := f.merge.Handle(ctx, MergeIdentitiesCommand{
			IdentityA: older.IdentityID,
			IdentityB: "9a1f7c52-3b7e-4d8e-9f10-2a3b4c5d6e7f",
			Actor:     "ops",
		})
		assert.ErrorIs(t, err, shared.ErrIdentityNotFound)
	})

	t.Run("lock held", func(t *testing.T) {
		release, err := f.locker.TryLock(ctx, []string{port.IdentityLockKey(newer.IdentityID)}, time.Minute)
		require.NoError(t, err)
		defer release(ctx)

		_, err = f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
		assert.ErrorIs(t, err, shared.ErrMergeInProgress)
		assert.Equal(t, identity.StateActive, f.identity(t, newer.IdentityID).State)
	})

	t.Run("already merged", func(t *testing.T) {
		_, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
		require.NoError(t, err)

		_, err = f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
		assert.ErrorIs(t, err, shared.ErrIdentityNotActive)
	})
}

func TestMergeIdentities_ClosesConflictsBetweenPair(t *testing.T) {
	f := newFixture(t)
	a := f.mustResolve(t, "org-a", "p-1", "01012345678", "kim@example.com")
	b := f.mustResolve(t, "org-b", "p-2", "01055556666", "kim@example.com")
	require.Len(t, f.conflicts(t, conflict.StatusOpen), 1)

	res, err := f.merge.Handle(context.Background(), MergeIdentitiesCommand{
		IdentityA: a.IdentityID, IdentityB: b.IdentityID, Actor: "ops",
	})
	require.NoError(t, err)
	assert.Len(t, res.ResolvedConflictIDs, 1)
	assert.Empty(t, f.conflicts(t, conflict.StatusOpen))

	closed := f.conflicts(t, conflict.StatusResolvedMerge)
	require.Len(t, closed, 1)
	assert.Equal(t, res.MergeAuditID, closed[0].MergeAuditID)
	assert.Equal(t, "ops", closed[0].ResolvedBy)
}

func TestUnmergeIdentities_RoundTrip(t *testing.T) {
	f := newFixture(t)
	older, newer := twoIdentities(t, f)
	ctx := context.Background()

	merged, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
	require.NoError(t, err)

	res, err := f.unmerge.Handle(ctx, UnmergeIdentitiesCommand{MergeAuditID: merged.MergeAuditID, Actor: "ops", Reason: "different people"})
	require.NoError(t, err)
	assert.Equal(t, older.IdentityID, res.SurvivorID)
	assert.Equal(t, newer.IdentityID, res.RestoredID)
	assert.Equal(t, 1, res.MovedLinks)

	restored := f.identity(t, newer.IdentityID)
	assert.Equal(t, identity.StateActive, restored.State)
	assert.Empty(t, restored.MergedInto)

	links := f.links(t, newer.IdentityID)
	require.Len(t, links, 1)
	assert.Equal(t, newer.LinkID, links[0].ID)
	assert.Equal(t, identity.ConfidenceExactPhone, links[0].Confidence)
	assert.Len(t, f.links(t, older.IdentityID), 2)

	// the restored identity resolves its own phone again
	again := f.mustResolve(t, "org-d", "p-1", "01033334444", "")
	assert.Equal(t, newer.IdentityID, again.IdentityID)

	t.Run("twice", func(t *testing.T) {
		_, err := f.unmerge.Handle(ctx, UnmergeIdentitiesCommand{MergeAuditID: merged.MergeAuditID, Actor: "ops"})
		assert.ErrorIs(t, err, shared.ErrAlreadyUnmerged)
	})

	t.Run("unknown audit", func(t *testing.T) {
		_, err := f.unmerge.Handle(ctx, UnmergeIdentitiesCommand{MergeAuditID: "missing", Actor: "ops"})
		assert.ErrorIs(t, err, shared.ErrMergeAuditNotFound)
	})

	t.Run("reversal audit is not reversible", func(t *testing.T) {
		_, err := f.unmerge.Handle(ctx, UnmergeIdentitiesCommand{MergeAuditID: res.UnmergeAuditID, Actor: "ops"})
		assert.ErrorIs(t, err, shared.ErrMergeAuditNotFound)
	})
}

func TestUnmergeIdentities_LinksAddedAfterMergeStay(t *testing.T) {
	f := newFixture(t)
	older, newer := twoIdentities(t, f)
	ctx := context.Background()

	merged, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
	require.NoError(t, err)

	late := f.mustResolve(t, "org-d", "p-1", "01033334444", "")
	require.Equal(t, older.IdentityID, late.IdentityID)

	_, err = f.unmerge.Handle(ctx, UnmergeIdentitiesCommand{MergeAuditID: merged.MergeAuditID, Actor: "ops"})
	require.NoError(t, err)

	// only the links recorded in the merge move back
	assert.Len(t, f.links(t, older.IdentityID), 3)
	assert.Len(t, f.links(t, newer.IdentityID), 1)
}

func TestUnmergeIdentities_SupersededByLaterMerge(t *testing.T) {
	f := newFixture(t)
	older, newer := twoIdentities(t, f)
	ctx := context.Background()

	first, err := f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
	require.NoError(t, err)

	// an even older identity absorbs the survivor of the first merge
	oldest, err := identity.NewCanonicalIdentity(identity.NewIdentityParams{
		ID:        "00000000-0000-4000-8000-000000000001",
		PhoneHash: shared.Hash(strings.Repeat("ab", 32)),
		Now:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		return repos.Identities().Create(ctx, oldest)
	}))
	_, err = f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: oldest.ID, Actor: "ops"})
	require.NoError(t, err)
	require.Equal(t, identity.StateMerged, f.identity(t, older.IdentityID).State)

	_, err = f.unmerge.Handle(ctx, UnmergeIdentitiesCommand{MergeAuditID: first.MergeAuditID, Actor: "ops"})
	assert.ErrorIs(t, err, shared.ErrMergeSuperseded)
	assert.Equal(t, identity.StateMerged, f.identity(t, newer.IdentityID).State)
}
