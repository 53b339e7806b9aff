package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client), mr
}

func TestLocker_AllOrNone(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	locker := NewLocker(cache, nil)

	release, err := locker.TryLock(ctx, []string{"identity:b"}, time.Minute)
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, []string{"identity:a", "identity:b"}, time.Minute)
	assert.ErrorIs(t, err, shared.ErrLocked)

	held, err := locker.IsLocked(ctx, "identity:a")
	require.NoError(t, err)
	assert.False(t, held, "a failed TryLock must not leave partial locks")

	require.NoError(t, release(ctx))

	release, err = locker.TryLock(ctx, []string{"identity:b", "identity:a"}, time.Minute)
	require.NoError(t, err)
	for _, k := range []string{"identity:a", "identity:b"} {
		held, err := locker.IsLocked(ctx, k)
		require.NoError(t, err)
		assert.True(t, held, k)
	}
	require.NoError(t, release(ctx))
}

func TestLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	locker := NewLocker(cache, nil)

	stale, err := locker.TryLock(ctx, []string{"reputation-aggregator"}, time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := locker.TryLock(ctx, []string{"reputation-aggregator"}, time.Minute)
	require.NoError(t, err)

	// the expired holder must not release the new owner's lock
	require.NoError(t, stale(ctx))
	held, err := locker.IsLocked(ctx, "reputation-aggregator")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, fresh(ctx))
	held, err = locker.IsLocked(ctx, "reputation-aggregator")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestReputationCache(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	rc := NewReputationCache(cache, time.Minute)

	_, err := rc.GetLatest(ctx, "id-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	snap := reputation.NewSnapshot("snap-1", "id-1", reputation.Components{
		Trust:        0.8,
		Satisfaction: 0.6,
		Engagement:   0.9,
		Loyalty:      0.5,
	}, 7, at)
	require.NoError(t, rc.SetLatest(ctx, snap))

	got, err := rc.GetLatest(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", got.ID)
	assert.InDelta(t, 0.705, got.Composite.Float64(), 1e-9)
	assert.InDelta(t, 0.6, got.Satisfaction.Float64(), 1e-9)
	assert.Equal(t, 7, got.EventCount)
	assert.True(t, at.Equal(got.ComputedAt))

	require.NoError(t, rc.Invalidate(ctx, "id-1", ""))
	_, err = rc.GetLatest(ctx, "id-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, rc.SetLatest(ctx, snap))
	mr.FastForward(2 * time.Minute)
	_, err = rc.GetLatest(ctx, "id-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
