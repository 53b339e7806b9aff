package redis

import (
	"context"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ReputationCache implements port.SnapshotCache on top of Cache.
type ReputationCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ port.SnapshotCache = (*ReputationCache)(nil)

// NewReputationCache creates a new ReputationCache.
func NewReputationCache(cache *Cache, ttl time.Duration) *ReputationCache {
	if ttl <= 0 {
		ttl = TTLReputationCache
	}
	return &ReputationCache{cache: cache, ttl: ttl}
}

// cachedSnapshot is the stored form; Snapshot itself carries no json tags
// outside its components.
type cachedSnapshot struct {
	ID         string                `json:"id"`
	IdentityID string                `json:"identity_id"`
	Components reputation.Components `json:"components"`
	Composite  float64               `json:"composite"`
	EventCount int                   `json:"event_count"`
	ComputedAt time.Time             `json:"computed_at"`
}

// GetLatest returns the cached snapshot or ErrCacheMiss.
func (c *ReputationCache) GetLatest(ctx context.Context, identityID string) (*reputation.Snapshot, error) {
	var cs cachedSnapshot
	if err := c.cache.Get(ctx, ReputationKey(identityID), &cs); err != nil {
		return nil, err
	}
	return &reputation.Snapshot{
		ID:         cs.ID,
		IdentityID: cs.IdentityID,
		Components: cs.Components,
		Composite:  shared.Score(cs.Composite),
		EventCount: cs.EventCount,
		ComputedAt: cs.ComputedAt.UTC(),
	}, nil
}

// SetLatest stores the snapshot as the identity's latest.
func (c *ReputationCache) SetLatest(ctx context.Context, s *reputation.Snapshot) error {
	if s == nil {
		return ErrCacheNilValue
	}
	return c.cache.Set(ctx, ReputationKey(s.IdentityID), cachedSnapshot{
		ID:         s.ID,
		IdentityID: s.IdentityID,
		Components: s.Components,
		Composite:  s.Composite.Float64(),
		EventCount: s.EventCount,
		ComputedAt: s.ComputedAt,
	}, c.ttl)
}

// Invalidate drops the cached snapshots of the identities.
func (c *ReputationCache) Invalidate(ctx context.Context, identityIDs ...string) error {
	keys := make([]string, 0, len(identityIDs))
	for _, id := range identityIDs {
		if id != "" {
			keys = append(keys, ReputationKey(id))
		}
	}
	return c.cache.Delete(ctx, keys...)
}
