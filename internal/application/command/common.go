// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// maxMergeHops bounds how many merged pointers a lookup follows.
const maxMergeHops = 16

// Deps are the collaborators shared by every command handler.
type Deps struct {
	UoW       port.UnitOfWork
	Publisher shared.EventPublisher
	Logger    *slog.Logger

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = shared.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

// publish sends events after commit. Delivery failures are logged, the
// committed state is the source of truth.
func (d Deps) publish(events []shared.Event) {
	for _, e := range events {
		if err := d.Publisher.Publish(e); err != nil {
			d.Logger.Warn("failed to publish event",
				"event_type", e.EventType(),
				"aggregate_id", e.AggregateID(),
				"error", err,
			)
		}
	}
}

func (d Deps) entry(action audit.Action, identityID string, now time.Time) *audit.Entry {
	return &audit.Entry{
		ID:         d.NewID(),
		Action:     action,
		IdentityID: identityID,
		CreatedAt:  now,
	}
}

// followMerged follows merged pointers from ci to the identity it ended up in.
// The result is active or archived.
func followMerged(ctx context.Context, repo identity.Repository, ci *identity.CanonicalIdentity, lock identity.LockMode) (*identity.CanonicalIdentity, error) {
	for hops := 0; ci.State == identity.StateMerged; hops++ {
		if hops == maxMergeHops {
			return nil, shared.NewDomainError("identity", "Follow", shared.ErrInvalidState, "merge chain too long")
		}
		next, err := repo.GetByID(ctx, ci.MergedInto, lock)
		if err != nil {
			return nil, err
		}
		ci = next
	}
	return ci, nil
}

// loadActive returns the surviving active identity for id.
func loadActive(ctx context.Context, repo identity.Repository, id string, lock identity.LockMode) (*identity.CanonicalIdentity, error) {
	ci, err := repo.GetByID(ctx, id, lock)
	if err != nil {
		return nil, err
	}
	if ci, err = followMerged(ctx, repo, ci, lock); err != nil {
		return nil, err
	}
	if !ci.IsActive() {
		return nil, shared.ErrIdentityNotActive
	}
	return ci, nil
}

// lockPair loads two identities FOR UPDATE in id order.
func lockPair(ctx context.Context, repo identity.Repository, a, b string) (*identity.CanonicalIdentity, *identity.CanonicalIdentity, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	x, err := repo.GetByID(ctx, first, identity.LockUpdate)
	if err != nil {
		return nil, nil, err
	}
	y, err := repo.GetByID(ctx, second, identity.LockUpdate)
	if err != nil {
		return nil, nil, err
	}
	if x.ID == a {
		return x, y, nil
	}
	return y, x, nil
}

// lockIdentities takes the identity-scoped merge locks for ids.
func lockIdentities(ctx context.Context, locker port.Locker, ttl time.Duration, ids ...string) (port.ReleaseFunc, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = port.IdentityLockKey(id)
	}
	release, err := locker.TryLock(ctx, keys, ttl)
	if err != nil {
		if errors.Is(err, shared.ErrLocked) {
			return nil, shared.ErrMergeInProgress
		}
		return nil, err
	}
	return release, nil
}

func (d Deps) release(ctx context.Context, release port.ReleaseFunc) {
	// the caller's context may already be done
	if err := release(context.WithoutCancel(ctx)); err != nil {
		d.Logger.Warn("failed to release identity locks", "error", err)
	}
}
