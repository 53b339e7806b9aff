package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MERGE IDENTITIES COMMAND
// Consolidates two canonical identities into the older one. Every link of the
// loser moves to the survivor in one transaction and the move is recorded in
// a MergeAudit so it can be undone exactly.
// ══════════════════════════════════════════════════════════════════════════════

// MergeIdentitiesCommand contains the pair to merge.
type MergeIdentitiesCommand struct {
	IdentityA string
	IdentityB string
	Actor     string
	Reason    string

	// ConflictIDs are closed as resolved-merge in addition to the open
	// conflicts between the pair.
	ConflictIDs []string
}

// Validate validates the command.
func (c MergeIdentitiesCommand) Validate() error {
	if !shared.IsUUID(c.IdentityA) || !shared.IsUUID(c.IdentityB) {
		return shared.NewDomainError("merge", "Validate", shared.ErrInvalidID, "identity ids must be uuids")
	}
	if c.IdentityA == c.IdentityB {
		return shared.ErrSelfMerge
	}
	if c.Actor == "" {
		return shared.NewDomainError("merge", "Validate", shared.ErrEmptyValue, "actor is required")
	}
	return nil
}

// MergeIdentitiesResult contains the result of a merge.
type MergeIdentitiesResult struct {
	SurvivorID          string
	LoserID             string
	MergeAuditID        string
	MovedLinks          int
	ResolvedConflictIDs []string
	Events              []shared.Event
}

// MergeIdentitiesHandlerConfig contains configuration for the handler.
type MergeIdentitiesHandlerConfig struct {
	// LockTTL bounds how long identity locks survive a crashed holder.
	LockTTL time.Duration
}

// DefaultMergeIdentitiesHandlerConfig returns default configuration.
func DefaultMergeIdentitiesHandlerConfig() MergeIdentitiesHandlerConfig {
	return MergeIdentitiesHandlerConfig{LockTTL: 30 * time.Second}
}

// MergeIdentitiesHandler handles the MergeIdentitiesCommand.
type MergeIdentitiesHandler struct {
	deps    Deps
	locker  port.Locker
	lockTTL time.Duration
}

// NewMergeIdentitiesHandler creates a new MergeIdentitiesHandler.
func NewMergeIdentitiesHandler(deps Deps, locker port.Locker, config MergeIdentitiesHandlerConfig) *MergeIdentitiesHandler {
	if config.LockTTL <= 0 {
		config = DefaultMergeIdentitiesHandlerConfig()
	}
	return &MergeIdentitiesHandler{
		deps:    deps.withDefaults(),
		locker:  locker,
		lockTTL: config.LockTTL,
	}
}

// Handle executes the merge command.
func (h *MergeIdentitiesHandler) Handle(ctx context.Context, cmd MergeIdentitiesCommand) (*MergeIdentitiesResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("merge_identities: validation failed: %w", err)
	}

	release, err := lockIdentities(ctx, h.locker, h.lockTTL, cmd.IdentityA, cmd.IdentityB)
	if err != nil {
		return nil, fmt.Errorf("merge_identities: %w", err)
	}
	defer h.deps.release(ctx, release)

	var result *MergeIdentitiesResult
	err = h.deps.UoW.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		r, err := h.merge(ctx, repos, cmd)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge_identities: %w", err)
	}

	h.deps.publish(result.Events)
	h.deps.Logger.Info("identities merged",
		"survivor_id", result.SurvivorID,
		"loser_id", result.LoserID,
		"merge_audit_id", result.MergeAuditID,
		"moved_links", result.MovedLinks,
		"actor", cmd.Actor,
	)
	return result, nil
}

func (h *MergeIdentitiesHandler) merge(ctx context.Context, repos port.Repositories, cmd MergeIdentitiesCommand) (*MergeIdentitiesResult, error) {
	now := h.deps.Now()
	identities := repos.Identities()

	a, b, err := lockPair(ctx, identities, cmd.IdentityA, cmd.IdentityB)
	if err != nil {
		return nil, err
	}
	for _, ci := range []*identity.CanonicalIdentity{a, b} {
		if !ci.IsActive() {
			return nil, shared.WrapError("merge", "Merge", shared.ErrStateTransition,
				fmt.Sprintf("identity %s is %s", ci.ID, ci.State), shared.ErrIdentityNotActive)
		}
	}
	survivor, loser := identity.ChooseSurvivor(a, b)

	links, err := repos.Links().ListActiveByIdentity(ctx, loser.ID)
	if err != nil {
		return nil, err
	}
	moves := make([]identity.LinkMove, len(links))
	moved := make([]identity.MovedLink, len(links))
	for i, l := range links {
		moves[i] = identity.LinkMove{LinkID: l.ID, Confidence: identity.ConfidenceManual}
		moved[i] = identity.MovedLink{LinkID: l.ID, PreviousConfidence: l.Confidence}
	}
	n, err := repos.Links().Move(ctx, moves, loser.ID, survivor.ID, now)
	if err != nil {
		return nil, err
	}
	if n != len(moves) {
		return nil, shared.ErrLinkMoveMismatch
	}

	if err := loser.MarkMerged(survivor.ID, now); err != nil {
		return nil, err
	}
	if err := identities.Update(ctx, loser); err != nil {
		return nil, err
	}
	survivor.Touch(now)
	if err := identities.Update(ctx, survivor); err != nil {
		return nil, err
	}

	ma := &identity.MergeAudit{
		ID:         h.deps.NewID(),
		Kind:       identity.MergeKindMerge,
		SurvivorID: survivor.ID,
		LoserID:    loser.ID,
		MovedLinks: moved,
		Actor:      cmd.Actor,
		Reason:     cmd.Reason,
		CreatedAt:  now,
	}
	if err := repos.Merges().Append(ctx, ma); err != nil {
		return nil, err
	}

	result := &MergeIdentitiesResult{
		SurvivorID:   survivor.ID,
		LoserID:      loser.ID,
		MergeAuditID: ma.ID,
		MovedLinks:   n,
	}

	e := h.deps.entry(audit.ActionIdentityMerged, survivor.ID, now)
	e.RelatedIdentityID = loser.ID
	e.MergeAuditID = ma.ID
	e.Actor = cmd.Actor
	e.Detail = map[string]any{"moved_links": n, "reason": cmd.Reason}
	if err := repos.Audit().Append(ctx, e); err != nil {
		return nil, err
	}
	result.Events = append(result.Events, shared.NewIdentityMergedEvent(survivor.ID, loser.ID, ma.ID, n))

	closed, err := closeConflicts(ctx, h.deps, repos, survivor.ID, loser.ID, cmd.ConflictIDs, ma.ID, cmd.Actor, now)
	if err != nil {
		return nil, err
	}
	for _, c := range closed {
		result.ResolvedConflictIDs = append(result.ResolvedConflictIDs, c.ID)
		result.Events = append(result.Events, shared.NewConflictResolvedEvent(c.ID, string(c.Status), cmd.Actor))
	}
	return result, nil
}
