package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE CONFLICT COMMAND
// Manual review of an ambiguous match. Conflicts are never closed by the
// resolver itself; a reviewer decides to merge the pair or keep it apart.
// ══════════════════════════════════════════════════════════════════════════════

// Decision is the reviewer's verdict.
type Decision string

const (
	DecisionMerge    Decision = "merge"
	DecisionSeparate Decision = "separate"
)

// ResolveConflictCommand closes one conflict.
type ResolveConflictCommand struct {
	ConflictID string
	Decision   Decision
	Actor      string
	Reason     string
}

// Validate validates the command.
func (c ResolveConflictCommand) Validate() error {
	if c.ConflictID == "" {
		return shared.NewDomainError("conflict", "Validate", shared.ErrEmptyValue, "conflict id is required")
	}
	if c.Decision != DecisionMerge && c.Decision != DecisionSeparate {
		return shared.ErrInvalidDecision
	}
	if c.Actor == "" {
		return shared.NewDomainError("conflict", "Validate", shared.ErrEmptyValue, "actor is required")
	}
	return nil
}

// ResolveConflictResult contains the closed conflict and the merge, if any.
type ResolveConflictResult struct {
	Conflict *conflict.ConflictRecord
	Merge    *MergeIdentitiesResult
}

// ResolveConflictHandler handles the ResolveConflictCommand.
type ResolveConflictHandler struct {
	deps  Deps
	merge *MergeIdentitiesHandler
}

// NewResolveConflictHandler creates a new ResolveConflictHandler.
func NewResolveConflictHandler(deps Deps, merge *MergeIdentitiesHandler) *ResolveConflictHandler {
	return &ResolveConflictHandler{deps: deps.withDefaults(), merge: merge}
}

// Handle executes the command.
func (h *ResolveConflictHandler) Handle(ctx context.Context, cmd ResolveConflictCommand) (*ResolveConflictResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("resolve_conflict: validation failed: %w", err)
	}

	var (
		current *conflict.ConflictRecord
		a, b    string
	)
	err := h.deps.UoW.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		c, err := repos.Conflicts().GetByID(ctx, cmd.ConflictID, false)
		if err != nil {
			return err
		}
		if !c.IsOpen() {
			return shared.ErrConflictAlreadyResolved
		}
		current = c
		if cmd.Decision != DecisionMerge {
			return nil
		}
		if c.IdentityB == "" {
			return shared.ErrConflictHasNoCandidate
		}
		// candidates may have been merged elsewhere since the conflict opened
		if a, err = survivorID(ctx, repos.Identities(), c.IdentityA); err != nil {
			return err
		}
		b, err = survivorID(ctx, repos.Identities(), c.IdentityB)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve_conflict: %w", err)
	}

	if cmd.Decision == DecisionMerge && a != b {
		merged, err := h.merge.Handle(ctx, MergeIdentitiesCommand{
			IdentityA:   a,
			IdentityB:   b,
			Actor:       cmd.Actor,
			Reason:      cmd.Reason,
			ConflictIDs: []string{current.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("resolve_conflict: %w", err)
		}
		var closed *conflict.ConflictRecord
		err = h.deps.UoW.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
			closed, err = repos.Conflicts().GetByID(ctx, current.ID, false)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("resolve_conflict: %w", err)
		}
		return &ResolveConflictResult{Conflict: closed, Merge: merged}, nil
	}

	var (
		closed *conflict.ConflictRecord
		events []shared.Event
	)
	err = h.deps.UoW.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		now := h.deps.Now()
		c, err := repos.Conflicts().GetByID(ctx, cmd.ConflictID, true)
		if err != nil {
			return err
		}
		if cmd.Decision == DecisionSeparate {
			err = c.ResolveSeparate(cmd.Actor, now)
		} else {
			// the pair already ended up in one identity
			err = c.ResolveMerged("", cmd.Actor, now)
		}
		if err != nil {
			return err
		}
		if err := repos.Conflicts().Update(ctx, c); err != nil {
			return err
		}
		if err := appendConflictResolved(ctx, h.deps, repos, c, cmd.Reason, now); err != nil {
			return err
		}
		closed = c
		events = []shared.Event{shared.NewConflictResolvedEvent(c.ID, string(c.Status), cmd.Actor)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve_conflict: %w", err)
	}

	h.deps.publish(events)
	h.deps.Logger.Info("conflict resolved",
		"conflict_id", closed.ID,
		"status", closed.Status,
		"actor", cmd.Actor,
	)
	return &ResolveConflictResult{Conflict: closed}, nil
}

func survivorID(ctx context.Context, repo identity.Repository, id string) (string, error) {
	ci, err := loadActive(ctx, repo, id, identity.LockNone)
	if err != nil {
		return "", err
	}
	return ci.ID, nil
}

func appendConflictResolved(ctx context.Context, deps Deps, repos port.Repositories, c *conflict.ConflictRecord, reason string, now time.Time) error {
	e := deps.entry(audit.ActionConflictResolved, c.IdentityA, now)
	e.RelatedIdentityID = c.IdentityB
	e.ConflictID = c.ID
	e.MergeAuditID = c.MergeAuditID
	e.Actor = c.ResolvedBy
	e.Detail = map[string]any{"status": string(c.Status), "field": string(c.Field)}
	if reason != "" {
		e.Detail["reason"] = reason
	}
	return repos.Audit().Append(ctx, e)
}

// closeConflicts marks the open conflicts between the pair, plus the listed
// ones, as resolved by the given merge.
func closeConflicts(
	ctx context.Context,
	deps Deps,
	repos port.Repositories,
	survivorID, loserID string,
	extra []string,
	mergeAuditID, actor string,
	now time.Time,
) ([]*conflict.ConflictRecord, error) {
	open, err := repos.Conflicts().ListOpenBetween(ctx, survivorID, loserID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(open))
	for _, c := range open {
		seen[c.ID] = true
	}
	for _, id := range extra {
		if seen[id] {
			continue
		}
		c, err := repos.Conflicts().GetByID(ctx, id, true)
		if err != nil {
			return nil, err
		}
		if c.IsOpen() {
			seen[id] = true
			open = append(open, c)
		}
	}

	for _, c := range open {
		if err := c.ResolveMerged(mergeAuditID, actor, now); err != nil {
			return nil, err
		}
		if err := repos.Conflicts().Update(ctx, c); err != nil {
			return nil, err
		}
		if err := appendConflictResolved(ctx, deps, repos, c, "", now); err != nil {
			return nil, err
		}
	}
	return open, nil
}
