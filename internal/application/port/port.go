// Package port declares what the application layer needs from infrastructure:
// a transactional unit of work over the repositories and identity-scoped locks.
package port

import (
	"context"
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
)

// Repositories are bound to a single transaction.
type Repositories interface {
	Identities() identity.Repository
	Links() identity.LinkRepository
	Merges() identity.MergeAuditRepository
	Conflicts() conflict.Repository
	Audit() audit.Repository
	Reputation() reputation.Repository
}

// UnitOfWork runs fn inside one transaction. All writes made through repos
// commit together when fn returns nil and roll back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	// Read runs fn in a read-only transaction over a consistent snapshot.
	Read(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// ReleaseFunc releases locks taken by Locker.TryLock.
type ReleaseFunc func(ctx context.Context) error

// Locker provides short-lived exclusive locks shared across service instances.
type Locker interface {
	// TryLock takes every key or none. Keys are acquired in sorted order.
	// Returns shared.ErrLocked when any key is held.
	TryLock(ctx context.Context, keys []string, ttl time.Duration) (ReleaseFunc, error)

	// IsLocked reports whether key is currently held.
	IsLocked(ctx context.Context, key string) (bool, error)
}

// IdentityLockKey is the lock resource for merge and unmerge on an identity.
func IdentityLockKey(identityID string) string {
	return "identity:" + identityID
}

// AggregatorLockKey is the run token of the reputation aggregator.
const AggregatorLockKey = "reputation-aggregator"

// SnapshotCache caches the latest reputation snapshot for reads.
type SnapshotCache interface {
	GetLatest(ctx context.Context, identityID string) (*reputation.Snapshot, error)
	SetLatest(ctx context.Context, s *reputation.Snapshot) error
	Invalidate(ctx context.Context, identityIDs ...string) error
}
