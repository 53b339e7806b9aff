// Package memory provides an in-process implementation of the unit of work and
// locker ports. Each transaction works on a cloned state that replaces the
// committed state only when the transaction function succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
)

// ErrReadOnly is returned by write methods inside Store.Read.
var ErrReadOnly = errors.New("memory: write in read-only transaction")

type state struct {
	identities map[string]*identity.CanonicalIdentity
	links      map[string]*identity.IdentityLink
	merges     []*identity.MergeAudit
	conflicts  []*conflict.ConflictRecord
	audit      []*audit.Entry
	events     map[string]*reputation.Event
	snapshots  []*reputation.Snapshot
}

func newState() state {
	return state{
		identities: make(map[string]*identity.CanonicalIdentity),
		links:      make(map[string]*identity.IdentityLink),
		events:     make(map[string]*reputation.Event),
	}
}

func (s state) clone() state {
	cp := newState()
	for k, v := range s.identities {
		cp.identities[k] = v.Clone()
	}
	for k, v := range s.links {
		cp.links[k] = v.Clone()
	}
	for k, v := range s.events {
		cp.events[k] = v.Clone()
	}
	cp.merges = make([]*identity.MergeAudit, len(s.merges))
	for i, v := range s.merges {
		cp.merges[i] = v.Clone()
	}
	cp.conflicts = make([]*conflict.ConflictRecord, len(s.conflicts))
	for i, v := range s.conflicts {
		cp.conflicts[i] = v.Clone()
	}
	// audit entries and snapshots are immutable once appended
	cp.audit = append([]*audit.Entry(nil), s.audit...)
	cp.snapshots = append([]*reputation.Snapshot(nil), s.snapshots...)
	return cp
}

// Store is a single-process transactional store. Writers are serialized.
type Store struct {
	mu    sync.RWMutex
	state state
}

var _ port.UnitOfWork = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Do implements port.UnitOfWork.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.state.clone()
	if err := fn(ctx, &repos{st: &tx}); err != nil {
		return err
	}
	s.state = tx
	return nil
}

// Read implements port.UnitOfWork.
func (s *Store) Read(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &repos{st: &s.state, readOnly: true})
}

type repos struct {
	st       *state
	readOnly bool
}

func (r *repos) Identities() identity.Repository       { return identityRepo{r} }
func (r *repos) Links() identity.LinkRepository        { return linkRepo{r} }
func (r *repos) Merges() identity.MergeAuditRepository { return mergeRepo{r} }
func (r *repos) Conflicts() conflict.Repository        { return conflictRepo{r} }
func (r *repos) Audit() audit.Repository               { return auditRepo{r} }
func (r *repos) Reputation() reputation.Repository     { return reputationRepo{r} }

func (r *repos) writable() error {
	if r.readOnly {
		return ErrReadOnly
	}
	return nil
}

func sortedIdentityIDs(m map[string]*identity.CanonicalIdentity) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
