package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNMERGE IDENTITIES COMMAND
// Reverts one merge: restores the loser to active and moves back exactly the
// links recorded in the merge audit, with their original confidence.
// ══════════════════════════════════════════════════════════════════════════════

// UnmergeIdentitiesCommand references the merge to revert.
type UnmergeIdentitiesCommand struct {
	MergeAuditID string
	Actor        string
	Reason       string
}

// Validate validates the command.
func (c UnmergeIdentitiesCommand) Validate() error {
	if c.MergeAuditID == "" {
		return shared.NewDomainError("merge", "Validate", shared.ErrEmptyValue, "merge audit id is required")
	}
	if c.Actor == "" {
		return shared.NewDomainError("merge", "Validate", shared.ErrEmptyValue, "actor is required")
	}
	return nil
}

// UnmergeIdentitiesResult contains both restored identities.
type UnmergeIdentitiesResult struct {
	SurvivorID     string
	RestoredID     string
	UnmergeAuditID string
	MovedLinks     int
	Events         []shared.Event
}

// UnmergeIdentitiesHandler handles the UnmergeIdentitiesCommand.
type UnmergeIdentitiesHandler struct {
	deps    Deps
	locker  port.Locker
	lockTTL time.Duration
}

// NewUnmergeIdentitiesHandler creates a new UnmergeIdentitiesHandler.
// It shares the lock configuration of merges.
func NewUnmergeIdentitiesHandler(deps Deps, locker port.Locker, config MergeIdentitiesHandlerConfig) *UnmergeIdentitiesHandler {
	if config.LockTTL <= 0 {
		config = DefaultMergeIdentitiesHandlerConfig()
	}
	return &UnmergeIdentitiesHandler{
		deps:    deps.withDefaults(),
		locker:  locker,
		lockTTL: config.LockTTL,
	}
}

// Handle executes the unmerge command.
func (h *UnmergeIdentitiesHandler) Handle(ctx context.Context, cmd UnmergeIdentitiesCommand) (*UnmergeIdentitiesResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("unmerge_identities: validation failed: %w", err)
	}

	// Resolve the pair first so the right locks can be taken.
	var original *identity.MergeAudit
	err := h.deps.UoW.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		var err error
		original, err = loadReversibleMerge(ctx, repos.Merges(), cmd.MergeAuditID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unmerge_identities: %w", err)
	}

	release, err := lockIdentities(ctx, h.locker, h.lockTTL, original.SurvivorID, original.LoserID)
	if err != nil {
		return nil, fmt.Errorf("unmerge_identities: %w", err)
	}
	defer h.deps.release(ctx, release)

	var result *UnmergeIdentitiesResult
	err = h.deps.UoW.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		r, err := h.unmerge(ctx, repos, cmd)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unmerge_identities: %w", err)
	}

	h.deps.publish(result.Events)
	h.deps.Logger.Info("merge reverted",
		"merge_audit_id", cmd.MergeAuditID,
		"unmerge_audit_id", result.UnmergeAuditID,
		"survivor_id", result.SurvivorID,
		"restored_id", result.RestoredID,
		"moved_links", result.MovedLinks,
		"actor", cmd.Actor,
	)
	return result, nil
}

// loadReversibleMerge returns the merge audit or the reason it cannot be reverted.
func loadReversibleMerge(ctx context.Context, merges identity.MergeAuditRepository, id string) (*identity.MergeAudit, error) {
	ma, err := merges.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ma.Kind != identity.MergeKindMerge {
		return nil, shared.ErrMergeAuditNotFound
	}
	_, err = merges.FindReversal(ctx, id)
	switch {
	case err == nil:
		return nil, shared.ErrAlreadyUnmerged
	case !errors.Is(err, shared.ErrMergeAuditNotFound):
		return nil, err
	}
	return ma, nil
}

func (h *UnmergeIdentitiesHandler) unmerge(ctx context.Context, repos port.Repositories, cmd UnmergeIdentitiesCommand) (*UnmergeIdentitiesResult, error) {
	now := h.deps.Now()
	identities := repos.Identities()

	// Checked again under the locks; the unique index on reversals backs this up.
	ma, err := loadReversibleMerge(ctx, repos.Merges(), cmd.MergeAuditID)
	if err != nil {
		return nil, err
	}

	survivor, loser, err := lockPair(ctx, identities, ma.SurvivorID, ma.LoserID)
	if err != nil {
		return nil, err
	}
	if !survivor.IsActive() {
		return nil, shared.ErrMergeSuperseded
	}
	if err := loser.Restore(survivor.ID, now); err != nil {
		return nil, err
	}

	moves := make([]identity.LinkMove, len(ma.MovedLinks))
	for i, l := range ma.MovedLinks {
		moves[i] = identity.LinkMove{LinkID: l.LinkID, Confidence: l.PreviousConfidence}
	}
	n, err := repos.Links().Move(ctx, moves, survivor.ID, loser.ID, now)
	if err != nil {
		return nil, err
	}
	if n != len(moves) {
		// a moved link was re-pointed or deactivated after the merge
		return nil, shared.ErrMergeSuperseded
	}

	if err := identities.Update(ctx, loser); err != nil {
		return nil, err
	}
	survivor.Touch(now)
	if err := identities.Update(ctx, survivor); err != nil {
		return nil, err
	}

	reversal := &identity.MergeAudit{
		ID:              h.deps.NewID(),
		Kind:            identity.MergeKindUnmerge,
		SurvivorID:      survivor.ID,
		LoserID:         loser.ID,
		MovedLinks:      ma.MovedLinks,
		ReversesAuditID: ma.ID,
		Actor:           cmd.Actor,
		Reason:          cmd.Reason,
		CreatedAt:       now,
	}
	if err := repos.Merges().Append(ctx, reversal); err != nil {
		return nil, err
	}

	e := h.deps.entry(audit.ActionIdentityUnmerged, loser.ID, now)
	e.RelatedIdentityID = survivor.ID
	e.MergeAuditID = reversal.ID
	e.Actor = cmd.Actor
	e.Detail = map[string]any{"reverses_audit_id": ma.ID, "moved_links": n, "reason": cmd.Reason}
	if err := repos.Audit().Append(ctx, e); err != nil {
		return nil, err
	}

	return &UnmergeIdentitiesResult{
		SurvivorID:     survivor.ID,
		RestoredID:     loser.ID,
		UnmergeAuditID: reversal.ID,
		MovedLinks:     n,
		Events: []shared.Event{
			shared.NewIdentityUnmergedEvent(loser.ID, survivor.ID, ma.ID, reversal.ID),
		},
	}, nil
}
