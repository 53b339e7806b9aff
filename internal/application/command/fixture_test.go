package command

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
	"github.com/alem-hub/academy-identity/internal/infrastructure/persistence/memory"
)

// clock advances by one second on every read so creation order is total.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	store     *memory.Store
	locker    *memory.Locker
	clock     *clock
	published *recordingPublisher
	deps      Deps

	resolve   *ResolveProfileHandler
	merge     *MergeIdentitiesHandler
	unmerge   *UnmergeIdentitiesHandler
	resolveC  *ResolveConflictHandler
	archive   *ArchiveIdentityHandler
	record    *RecordEventHandler
	aggregate *AggregateReputationHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hasher, err := identity.NewHasher([]byte("command-test-pepper"))
	require.NoError(t, err)

	f := &fixture{
		store:     memory.NewStore(),
		locker:    memory.NewLocker(),
		clock:     &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		published: &recordingPublisher{},
	}
	f.deps = Deps{UoW: f.store, Publisher: f.published, Now: f.clock.Now}

	f.resolve = NewResolveProfileHandler(f.deps, identity.NewNormalizer(hasher), conflict.NewDetector(true), DefaultResolveProfileHandlerConfig())
	f.merge = NewMergeIdentitiesHandler(f.deps, f.locker, DefaultMergeIdentitiesHandlerConfig())
	f.unmerge = NewUnmergeIdentitiesHandler(f.deps, f.locker, DefaultMergeIdentitiesHandlerConfig())
	f.resolveC = NewResolveConflictHandler(f.deps, f.merge)
	f.archive = NewArchiveIdentityHandler(f.deps, f.locker, DefaultMergeIdentitiesHandlerConfig())
	f.record = NewRecordEventHandler(f.deps)
	f.aggregate = NewAggregateReputationHandler(f.deps, f.locker, reputation.NewScorer(reputation.DefaultScoringConfig()), nil, DefaultAggregateReputationHandlerConfig())
	return f
}

func (f *fixture) mustResolve(t *testing.T, org, profile, phone, email string) *ResolveProfileResult {
	t.Helper()
	res, err := f.resolve.Handle(context.Background(), ResolveProfileCommand{
		OrganizationID: org,
		ProfileID:      profile,
		RawPhone:       phone,
		RawEmail:       email,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) identity(t *testing.T, id string) *identity.CanonicalIdentity {
	t.Helper()
	var ci *identity.CanonicalIdentity
	err := f.store.Read(context.Background(), func(ctx context.Context, repos port.Repositories) error {
		var err error
		ci, err = repos.Identities().GetByID(ctx, id, identity.LockNone)
		return err
	})
	require.NoError(t, err)
	return ci
}

func (f *fixture) links(t *testing.T, identityID string) []*identity.IdentityLink {
	t.Helper()
	var out []*identity.IdentityLink
	err := f.store.Read(context.Background(), func(ctx context.Context, repos port.Repositories) error {
		var err error
		out, err = repos.Links().ListActiveByIdentity(ctx, identityID)
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) conflicts(t *testing.T, status conflict.Status) []*conflict.ConflictRecord {
	t.Helper()
	var out []*conflict.ConflictRecord
	err := f.store.Read(context.Background(), func(ctx context.Context, repos port.Repositories) error {
		var err error
		out, err = repos.Conflicts().List(ctx, conflict.ListFilter{Status: status})
		return err
	})
	require.NoError(t, err)
	return out
}

// staleLookups hides existing identities from hash lookups for the first
// n transactions, like a reader that lost a creation race.
type staleLookups struct {
	port.UnitOfWork
	remaining int32
}

func (s *staleLookups) Do(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	stale := atomic.AddInt32(&s.remaining, -1) >= 0
	return s.UnitOfWork.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		if stale {
			repos = staleRepos{repos}
		}
		return fn(ctx, repos)
	})
}

type staleRepos struct{ port.Repositories }

func (r staleRepos) Identities() identity.Repository {
	return staleIdentities{r.Repositories.Identities()}
}

type staleIdentities struct{ identity.Repository }

func (staleIdentities) FindByPhoneHash(context.Context, shared.Hash, identity.LockMode) (*identity.CanonicalIdentity, error) {
	return nil, shared.ErrIdentityNotFound
}

func (staleIdentities) FindByEmailHash(context.Context, shared.Hash, identity.LockMode) (*identity.CanonicalIdentity, error) {
	return nil, shared.ErrIdentityNotFound
}
