package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITIES
// ══════════════════════════════════════════════════════════════════════════════

type identityRepo struct{ *repos }

// hashOwner mirrors the partial unique indexes on phone_hash and email_hash.
func (r identityRepo) hashOwner(ci *identity.CanonicalIdentity) string {
	for _, other := range r.st.identities {
		if other.ID == ci.ID || other.State == identity.StateArchived || ci.State == identity.StateArchived {
			continue
		}
		if (ci.PhoneHash != "" && other.PhoneHash == ci.PhoneHash) ||
			(ci.EmailHash != "" && other.EmailHash == ci.EmailHash) {
			return other.ID
		}
	}
	return ""
}

func (r identityRepo) Create(_ context.Context, ci *identity.CanonicalIdentity) error {
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.identities[ci.ID]; ok {
		return shared.ErrConcurrentCreationConflict
	}
	if r.hashOwner(ci) != "" {
		return shared.ErrConcurrentCreationConflict
	}
	r.st.identities[ci.ID] = ci.Clone()
	return nil
}

func (r identityRepo) GetByID(_ context.Context, id string, _ identity.LockMode) (*identity.CanonicalIdentity, error) {
	ci, ok := r.st.identities[id]
	if !ok {
		return nil, shared.ErrIdentityNotFound
	}
	return ci.Clone(), nil
}

func (r identityRepo) find(match func(*identity.CanonicalIdentity) bool) (*identity.CanonicalIdentity, error) {
	for _, id := range sortedIdentityIDs(r.st.identities) {
		ci := r.st.identities[id]
		if ci.State != identity.StateArchived && match(ci) {
			return ci.Clone(), nil
		}
	}
	return nil, shared.ErrIdentityNotFound
}

func (r identityRepo) FindByPhoneHash(_ context.Context, h shared.Hash, _ identity.LockMode) (*identity.CanonicalIdentity, error) {
	if h == "" {
		return nil, shared.ErrIdentityNotFound
	}
	return r.find(func(ci *identity.CanonicalIdentity) bool { return ci.PhoneHash == h })
}

func (r identityRepo) FindByEmailHash(_ context.Context, h shared.Hash, _ identity.LockMode) (*identity.CanonicalIdentity, error) {
	if h == "" {
		return nil, shared.ErrIdentityNotFound
	}
	return r.find(func(ci *identity.CanonicalIdentity) bool { return ci.EmailHash == h })
}

func (r identityRepo) ListMergedInto(_ context.Context, survivorID string) ([]*identity.CanonicalIdentity, error) {
	var out []*identity.CanonicalIdentity
	for _, id := range sortedIdentityIDs(r.st.identities) {
		ci := r.st.identities[id]
		if ci.State == identity.StateMerged && ci.MergedInto == survivorID {
			out = append(out, ci.Clone())
		}
	}
	return out, nil
}

func (r identityRepo) Update(_ context.Context, ci *identity.CanonicalIdentity) error {
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.identities[ci.ID]; !ok {
		return shared.ErrIdentityNotFound
	}
	if r.hashOwner(ci) != "" {
		return shared.ErrConcurrentCreationConflict
	}
	r.st.identities[ci.ID] = ci.Clone()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LINKS
// ══════════════════════════════════════════════════════════════════════════════

type linkRepo struct{ *repos }

func (r linkRepo) Create(_ context.Context, l *identity.IdentityLink) error {
	if err := r.writable(); err != nil {
		return err
	}
	for _, other := range r.st.links {
		if other.Active && other.Profile == l.Profile {
			return shared.ErrConcurrentCreationConflict
		}
	}
	r.st.links[l.ID] = l.Clone()
	return nil
}

func (r linkRepo) GetActiveByProfile(_ context.Context, ref shared.ProfileRef) (*identity.IdentityLink, error) {
	for _, l := range r.st.links {
		if l.Active && l.Profile == ref {
			return l.Clone(), nil
		}
	}
	return nil, shared.ErrLinkNotFound
}

func (r linkRepo) ListActiveByIdentity(_ context.Context, identityID string) ([]*identity.IdentityLink, error) {
	var out []*identity.IdentityLink
	for _, l := range r.st.links {
		if l.Active && l.IdentityID == identityID {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r linkRepo) Move(_ context.Context, moves []identity.LinkMove, from, to string, now time.Time) (int, error) {
	if err := r.writable(); err != nil {
		return 0, err
	}
	moved := 0
	for _, m := range moves {
		l, ok := r.st.links[m.LinkID]
		if !ok || !l.Active || l.IdentityID != from {
			continue
		}
		l.IdentityID = to
		l.Confidence = m.Confidence
		l.UpdatedAt = now
		moved++
	}
	return moved, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MERGE AUDITS
// ══════════════════════════════════════════════════════════════════════════════

type mergeRepo struct{ *repos }

func (r mergeRepo) Append(_ context.Context, m *identity.MergeAudit) error {
	if err := r.writable(); err != nil {
		return err
	}
	if m.Kind == identity.MergeKindUnmerge {
		for _, existing := range r.st.merges {
			if existing.ReversesAuditID == m.ReversesAuditID {
				return shared.ErrAlreadyUnmerged
			}
		}
	}
	r.st.merges = append(r.st.merges, m.Clone())
	return nil
}

func (r mergeRepo) GetByID(_ context.Context, id string) (*identity.MergeAudit, error) {
	for _, m := range r.st.merges {
		if m.ID == id {
			return m.Clone(), nil
		}
	}
	return nil, shared.ErrMergeAuditNotFound
}

func (r mergeRepo) FindReversal(_ context.Context, mergeAuditID string) (*identity.MergeAudit, error) {
	for _, m := range r.st.merges {
		if m.Kind == identity.MergeKindUnmerge && m.ReversesAuditID == mergeAuditID {
			return m.Clone(), nil
		}
	}
	return nil, shared.ErrMergeAuditNotFound
}

func (r mergeRepo) ListByIdentity(_ context.Context, identityID string) ([]*identity.MergeAudit, error) {
	var out []*identity.MergeAudit
	for _, m := range r.st.merges {
		if m.SurvivorID == identityID || m.LoserID == identityID {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICTS
// ══════════════════════════════════════════════════════════════════════════════

type conflictRepo struct{ *repos }

func (r conflictRepo) Create(_ context.Context, c *conflict.ConflictRecord) error {
	if err := r.writable(); err != nil {
		return err
	}
	for _, existing := range r.st.conflicts {
		if existing.IsOpen() && existing.Covers(c.Field, c.IdentityA, c.IdentityB) {
			return shared.ErrConcurrentCreationConflict
		}
	}
	r.st.conflicts = append(r.st.conflicts, c.Clone())
	return nil
}

func (r conflictRepo) FindOpen(_ context.Context, field conflict.Field, a, b string) (*conflict.ConflictRecord, error) {
	for _, c := range r.st.conflicts {
		if c.IsOpen() && c.Covers(field, a, b) {
			return c.Clone(), nil
		}
	}
	return nil, shared.ErrConflictNotFound
}

func (r conflictRepo) GetByID(_ context.Context, id string, _ bool) (*conflict.ConflictRecord, error) {
	for _, c := range r.st.conflicts {
		if c.ID == id {
			return c.Clone(), nil
		}
	}
	return nil, shared.ErrConflictNotFound
}

func (r conflictRepo) List(_ context.Context, f conflict.ListFilter) ([]*conflict.ConflictRecord, error) {
	var out []*conflict.ConflictRecord
	for _, c := range r.st.conflicts {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.IdentityID != "" && c.IdentityA != f.IdentityID && c.IdentityB != f.IdentityID {
			continue
		}
		out = append(out, c.Clone())
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r conflictRepo) ListOpenBetween(_ context.Context, a, b string) ([]*conflict.ConflictRecord, error) {
	var out []*conflict.ConflictRecord
	for _, c := range r.st.conflicts {
		if c.IsOpen() && c.Involves(a, b) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (r conflictRepo) Update(_ context.Context, c *conflict.ConflictRecord) error {
	if err := r.writable(); err != nil {
		return err
	}
	for i, existing := range r.st.conflicts {
		if existing.ID == c.ID {
			r.st.conflicts[i] = c.Clone()
			return nil
		}
	}
	return shared.ErrConflictNotFound
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT LOG
// ══════════════════════════════════════════════════════════════════════════════

type auditRepo struct{ *repos }

func (r auditRepo) Append(_ context.Context, e *audit.Entry) error {
	if err := r.writable(); err != nil {
		return err
	}
	r.st.audit = append(r.st.audit, e.Clone())
	return nil
}

func (r auditRepo) ListByIdentity(_ context.Context, identityID string, limit int) ([]*audit.Entry, error) {
	var out []*audit.Entry
	for i := len(r.st.audit) - 1; i >= 0; i-- {
		e := r.st.audit[i]
		if e.IdentityID != identityID && e.RelatedIdentityID != identityID {
			continue
		}
		out = append(out, e.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPUTATION
// ══════════════════════════════════════════════════════════════════════════════

type reputationRepo struct{ *repos }

func (r reputationRepo) RecordEvent(_ context.Context, e *reputation.Event) error {
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.events[e.ID]; ok {
		return shared.ErrEventAlreadyStored
	}
	r.st.events[e.ID] = e.Clone()
	return nil
}

func (r reputationRepo) linkedProfiles(identityID string) map[shared.ProfileRef]bool {
	refs := make(map[shared.ProfileRef]bool)
	for _, l := range r.st.links {
		if l.Active && l.IdentityID == identityID {
			refs[l.Profile] = true
		}
	}
	return refs
}

func (r reputationRepo) ListEventsByIdentity(_ context.Context, identityID string) ([]*reputation.Event, error) {
	refs := r.linkedProfiles(identityID)
	var out []*reputation.Event
	for _, e := range r.st.events {
		if refs[e.Profile] {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (r reputationRepo) SaveSnapshot(_ context.Context, s *reputation.Snapshot) error {
	if err := r.writable(); err != nil {
		return err
	}
	r.st.snapshots = append(r.st.snapshots, s.Clone())
	return nil
}

// snapshotsOf returns snapshots of the identity newest first.
func (r reputationRepo) snapshotsOf(identityID string) []*reputation.Snapshot {
	var out []*reputation.Snapshot
	for i := len(r.st.snapshots) - 1; i >= 0; i-- {
		if s := r.st.snapshots[i]; s.IdentityID == identityID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ComputedAt.After(out[j].ComputedAt) })
	return out
}

func (r reputationRepo) LatestSnapshot(_ context.Context, identityID string) (*reputation.Snapshot, error) {
	all := r.snapshotsOf(identityID)
	if len(all) == 0 {
		return nil, shared.ErrSnapshotNotFound
	}
	return all[0].Clone(), nil
}

func (r reputationRepo) SnapshotAt(_ context.Context, identityID string, at time.Time) (*reputation.Snapshot, error) {
	for _, s := range r.snapshotsOf(identityID) {
		if !s.ComputedAt.After(at) {
			return s.Clone(), nil
		}
	}
	return nil, shared.ErrSnapshotNotFound
}

func (r reputationRepo) History(_ context.Context, identityID string, limit int) ([]*reputation.Snapshot, error) {
	all := r.snapshotsOf(identityID)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*reputation.Snapshot, len(all))
	for i, s := range all {
		out[i] = s.Clone()
	}
	return out, nil
}

func (r reputationRepo) ListCandidates(_ context.Context, f reputation.CandidateFilter) ([]string, error) {
	var out []string
	for _, id := range sortedIdentityIDs(r.st.identities) {
		if id <= f.AfterID {
			continue
		}
		ci := r.st.identities[id]
		if ci.State != identity.StateActive {
			continue
		}
		if r.isCandidate(ci, f.StaleBefore) {
			out = append(out, id)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
	}
	return out, nil
}

func (r reputationRepo) isCandidate(ci *identity.CanonicalIdentity, staleBefore time.Time) bool {
	refs := r.linkedProfiles(ci.ID)
	var latest *reputation.Snapshot
	if all := r.snapshotsOf(ci.ID); len(all) > 0 {
		latest = all[0]
	}
	for _, e := range r.st.events {
		if refs[e.Profile] && (latest == nil || e.RecordedAt.After(latest.ComputedAt)) {
			return true
		}
	}
	if latest == nil {
		return false
	}
	if ci.UpdatedAt.After(latest.ComputedAt) {
		return true
	}
	for _, l := range r.st.links {
		if l.Active && l.IdentityID == ci.ID && l.UpdatedAt.After(latest.ComputedAt) {
			return true
		}
	}
	return latest.ComputedAt.Before(staleBefore) && latest.Composite > 0
}
