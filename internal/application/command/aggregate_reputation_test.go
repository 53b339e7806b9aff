package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

func (f *fixture) recordEvents(t *testing.T, org, profile string, kinds map[string]float64) {
	t.Helper()
	for kind, value := range kinds {
		_, err := f.record.Handle(context.Background(), RecordEventCommand{
			EventID:        fmt.Sprintf("%s/%s/%s", org, profile, kind),
			OrganizationID: org,
			ProfileID:      profile,
			Kind:           kind,
			Value:          value,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) latestSnapshot(t *testing.T, identityID string) (*reputation.Snapshot, error) {
	t.Helper()
	var snap *reputation.Snapshot
	err := f.store.Read(context.Background(), func(ctx context.Context, repos port.Repositories) error {
		var err error
		snap, err = repos.Reputation().LatestSnapshot(ctx, identityID)
		return err
	})
	return snap, err
}

func TestAggregateReputation_ScoresAcrossOrganizations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.mustResolve(t, "org-a", "p-1", "01012345678", "")
	f.mustResolve(t, "org-b", "p-7", "01012345678", "")
	other := f.mustResolve(t, "org-c", "p-1", "01099998888", "")

	f.recordEvents(t, "org-a", "p-1", map[string]float64{"satisfaction": 1, "renewal_intent": 1})
	f.recordEvents(t, "org-b", "p-7", map[string]float64{"attendance": 1, "payment_completed": 0})

	res, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Scored)
	assert.False(t, res.TimedOut)
	require.Len(t, res.Events, 1)
	assert.Equal(t, shared.EventReputationUpdated, res.Events[0].EventType())

	snap, err := f.latestSnapshot(t, u.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.EventCount)
	assert.Greater(t, snap.Satisfaction.Float64(), 0.0)
	assert.Greater(t, snap.Composite.Float64(), 0.0)
	assert.InDelta(t, snap.Components.Composite().Round(6).Float64(), snap.Composite.Float64(), 1e-6)

	// no events, no snapshot
	_, err = f.latestSnapshot(t, other.IdentityID)
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)

	t.Run("nothing new", func(t *testing.T) {
		res, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
		require.NoError(t, err)
		assert.Zero(t, res.Candidates)
	})

	t.Run("new event rescores", func(t *testing.T) {
		f.recordEvents(t, "org-a", "p-1", map[string]float64{"referral_intent": 1})
		res, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Scored)

		latest, err := f.latestSnapshot(t, u.IdentityID)
		require.NoError(t, err)
		assert.Equal(t, 5, latest.EventCount)
		assert.True(t, latest.ComputedAt.After(snap.ComputedAt))
	})

	t.Run("stale snapshot refreshes", func(t *testing.T) {
		f.clock.Advance(48 * time.Hour)
		res, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Scored)
	})
}

func TestAggregateReputation_DecaysAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.mustResolve(t, "org-a", "p-1", "01012345678", "")
	f.mustResolve(t, "org-b", "p-7", "01012345678", "")

	f.recordEvents(t, "org-a", "p-1", map[string]float64{
		"renewal_intent": 1, "satisfaction": 1, "attendance": 0, "activity_participation": 1, "renewal": 1,
	})
	f.clock.Advance(30 * 24 * time.Hour)
	f.recordEvents(t, "org-b", "p-7", map[string]float64{"attendance": 1, "payment_completed": 1})

	_, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
	require.NoError(t, err)
	prev, err := f.latestSnapshot(t, u.IdentityID)
	require.NoError(t, err)
	require.Greater(t, prev.Trust.Float64(), 0.0)
	require.Greater(t, prev.Satisfaction.Float64(), 0.0)
	require.Greater(t, prev.Engagement.Float64(), 0.0)
	require.Greater(t, prev.Loyalty.Float64(), 0.0)

	for run := 1; run <= 5; run++ {
		f.clock.Advance(60 * 24 * time.Hour)
		res, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
		require.NoError(t, err)
		require.Equal(t, 1, res.Scored, "run %d", run)

		snap, err := f.latestSnapshot(t, u.IdentityID)
		require.NoError(t, err)
		require.True(t, snap.ComputedAt.After(prev.ComputedAt), "run %d", run)
		assert.Equal(t, prev.EventCount, snap.EventCount, "run %d", run)

		assert.LessOrEqual(t, snap.Trust.Float64(), prev.Trust.Float64(), "trust, run %d", run)
		assert.LessOrEqual(t, snap.Satisfaction.Float64(), prev.Satisfaction.Float64(), "satisfaction, run %d", run)
		assert.LessOrEqual(t, snap.Engagement.Float64(), prev.Engagement.Float64(), "engagement, run %d", run)
		assert.LessOrEqual(t, snap.Loyalty.Float64(), prev.Loyalty.Float64(), "loyalty, run %d", run)
		assert.LessOrEqual(t, snap.Composite.Float64(), prev.Composite.Float64(), "composite, run %d", run)

		// from the second run on every event is past the 90 day horizon
		if run >= 2 {
			assert.Less(t, snap.Satisfaction.Float64(), prev.Satisfaction.Float64(), "satisfaction, run %d", run)
			assert.Less(t, snap.Composite.Float64(), prev.Composite.Float64(), "composite, run %d", run)
		}
		prev = snap
	}
	assert.Less(t, prev.Composite.Float64(), 0.01)
}

func TestAggregateReputation_MergeMovesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older, newer := twoIdentities(t, f)

	f.recordEvents(t, "org-c", "p-1", map[string]float64{"satisfaction": 1})
	_, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
	require.NoError(t, err)

	_, err = f.merge.Handle(ctx, MergeIdentitiesCommand{IdentityA: older.IdentityID, IdentityB: newer.IdentityID, Actor: "ops"})
	require.NoError(t, err)

	res, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scored)

	snap, err := f.latestSnapshot(t, older.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.EventCount)
}

func TestAggregateReputation_DefersLockedIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.mustResolve(t, "org-a", "p-1", "01012345678", "")
	f.recordEvents(t, "org-a", "p-1", map[string]float64{"attendance": 1})

	release, err := f.locker.TryLock(ctx, []string{port.IdentityLockKey(u.IdentityID)}, time.Minute)
	require.NoError(t, err)

	res, err := f.aggregate.Handle(ctx, AggregateReputationCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Zero(t, res.Scored)

	require.NoError(t, release(ctx))
	res, err = f.aggregate.Handle(ctx, AggregateReputationCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scored)
}

func TestAggregateReputation_SingleRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.locker.TryLock(ctx, []string{port.AggregatorLockKey}, time.Minute)
	require.NoError(t, err)
	defer release(ctx)

	_, err = f.aggregate.Handle(ctx, AggregateReputationCommand{})
	assert.ErrorIs(t, err, shared.ErrAggregatorRunActive)
}
