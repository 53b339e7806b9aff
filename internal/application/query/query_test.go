package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
	"github.com/alem-hub/academy-identity/internal/infrastructure/persistence/memory"
)

type env struct {
	store     *memory.Store
	resolve   *command.ResolveProfileHandler
	merge     *command.MergeIdentitiesHandler
	record    *command.RecordEventHandler
	aggregate *command.AggregateReputationHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hasher, err := identity.NewHasher([]byte("query-test"))
	require.NoError(t, err)

	store := memory.NewStore()
	locker := memory.NewLocker()
	deps := command.Deps{UoW: store}
	return &env{
		store:     store,
		resolve:   command.NewResolveProfileHandler(deps, identity.NewNormalizer(hasher), conflict.NewDetector(false), command.DefaultResolveProfileHandlerConfig()),
		merge:     command.NewMergeIdentitiesHandler(deps, locker, command.DefaultMergeIdentitiesHandlerConfig()),
		record:    command.NewRecordEventHandler(deps),
		aggregate: command.NewAggregateReputationHandler(deps, locker, reputation.NewScorer(reputation.DefaultScoringConfig()), nil, command.DefaultAggregateReputationHandlerConfig()),
	}
}

func (e *env) resolveProfile(t *testing.T, org, profile, phone, email string) *command.ResolveProfileResult {
	t.Helper()
	res, err := e.resolve.Handle(context.Background(), command.ResolveProfileCommand{
		OrganizationID: org, ProfileID: profile, RawPhone: phone, RawEmail: email,
	})
	require.NoError(t, err)
	return res
}

func TestGetIdentity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.resolveProfile(t, "org-a", "p-1", "01012345678", "kim@example.com")
	e.resolveProfile(t, "org-b", "p-2", "01012345678", "")
	time.Sleep(time.Millisecond)
	b := e.resolveProfile(t, "org-c", "p-3", "01099998888", "")

	h := NewGetIdentityHandler(e.store)

	dto, err := h.Handle(ctx, GetIdentityQuery{IdentityID: a.IdentityID})
	require.NoError(t, err)
	assert.Equal(t, "active", dto.State)
	assert.Equal(t, a.IdentityID, dto.SurvivorID)
	assert.True(t, dto.HasPhone)
	assert.True(t, dto.HasEmail)
	assert.Len(t, dto.Links, 2)

	_, err = e.merge.Handle(ctx, command.MergeIdentitiesCommand{IdentityA: a.IdentityID, IdentityB: b.IdentityID, Actor: "ops"})
	require.NoError(t, err)

	dto, err = h.Handle(ctx, GetIdentityQuery{IdentityID: b.IdentityID})
	require.NoError(t, err)
	assert.Equal(t, "merged", dto.State)
	assert.Equal(t, a.IdentityID, dto.MergedInto)
	assert.Equal(t, a.IdentityID, dto.SurvivorID)
	assert.Empty(t, dto.Links)

	_, err = h.Handle(ctx, GetIdentityQuery{IdentityID: "not-a-uuid"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = h.Handle(ctx, GetIdentityQuery{IdentityID: "9a1f7c52-3b7e-4d8e-9f10-2a3b4c5d6e7f"})
	assert.ErrorIs(t, err, shared.ErrIdentityNotFound)
}

func TestGetReputation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.resolveProfile(t, "org-a", "p-1", "01012345678", "")
	time.Sleep(time.Millisecond)
	b := e.resolveProfile(t, "org-b", "p-1", "01099998888", "")

	h := NewGetReputationHandler(e.store, nil, nil)
	_, err := h.Handle(ctx, GetReputationQuery{IdentityID: a.IdentityID})
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)

	_, err = e.record.Handle(ctx, command.RecordEventCommand{
		EventID: "e-1", OrganizationID: "org-a", ProfileID: "p-1", Kind: "satisfaction", Value: 1,
	})
	require.NoError(t, err)
	_, err = e.aggregate.Handle(ctx, command.AggregateReputationCommand{})
	require.NoError(t, err)

	dto, err := h.Handle(ctx, GetReputationQuery{IdentityID: a.IdentityID})
	require.NoError(t, err)
	assert.Equal(t, a.IdentityID, dto.IdentityID)
	assert.InDelta(t, 0.5, dto.Satisfaction, 1e-6)
	assert.InDelta(t, 0.15, dto.Composite, 1e-6)

	// before the first snapshot
	before := dto.ComputedAt.Add(-time.Hour)
	_, err = h.Handle(ctx, GetReputationQuery{IdentityID: a.IdentityID, At: &before})
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)

	// a merged identity reads the survivor's score
	_, err = e.merge.Handle(ctx, command.MergeIdentitiesCommand{IdentityA: a.IdentityID, IdentityB: b.IdentityID, Actor: "ops"})
	require.NoError(t, err)
	dto, err = h.Handle(ctx, GetReputationQuery{IdentityID: b.IdentityID})
	require.NoError(t, err)
	assert.Equal(t, a.IdentityID, dto.IdentityID)

	history, err := NewGetReputationHistoryHandler(e.store).Handle(ctx, GetReputationHistoryQuery{IdentityID: a.IdentityID})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestListConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.resolveProfile(t, "org-a", "p-1", "01012345678", "kim@example.com")
	e.resolveProfile(t, "org-b", "p-1", "01012345678", "lee@example.com")
	e.resolveProfile(t, "org-c", "p-1", "01012345678", "park@example.com")

	h := NewListConflictsHandler(e.store)

	all, err := h.Handle(ctx, ListConflictsQuery{Status: "open"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "email", all[0].Field)
	assert.Equal(t, "org-b", all[0].OrganizationID)

	page, err := h.Handle(ctx, ListConflictsQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "org-c", page[0].OrganizationID)

	_, err = h.Handle(ctx, ListConflictsQuery{Status: "pending"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestListAudit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.resolveProfile(t, "org-a", "p-1", "01012345678", "")
	time.Sleep(time.Millisecond)
	b := e.resolveProfile(t, "org-b", "p-1", "01099998888", "")
	merged, err := e.merge.Handle(ctx, command.MergeIdentitiesCommand{IdentityA: a.IdentityID, IdentityB: b.IdentityID, Actor: "ops", Reason: "same parent"})
	require.NoError(t, err)

	trail, err := NewListAuditHandler(e.store).Handle(ctx, ListAuditQuery{IdentityID: a.IdentityID})
	require.NoError(t, err)

	require.NotEmpty(t, trail.Entries)
	assert.Equal(t, "identity.merged", trail.Entries[0].Action)
	assert.Equal(t, "ops", trail.Entries[0].Actor)

	require.Len(t, trail.Merges, 1)
	assert.Equal(t, merged.MergeAuditID, trail.Merges[0].ID)
	assert.Equal(t, "merge", trail.Merges[0].Kind)
	assert.Equal(t, []string{b.LinkID}, trail.Merges[0].MovedLinkIDs)
}
