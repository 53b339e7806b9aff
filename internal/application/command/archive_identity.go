package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ArchiveIdentityCommand retires an identity. Identities merged into it are
// archived too so none of their hashes keep pointing at a retired identity.
type ArchiveIdentityCommand struct {
	IdentityID string
	Actor      string
	Reason     string
}

// ArchiveIdentityResult lists every identity that was archived.
type ArchiveIdentityResult struct {
	ArchivedIDs []string
}

// ArchiveIdentityHandler handles the ArchiveIdentityCommand.
type ArchiveIdentityHandler struct {
	deps   Deps
	locker port.Locker
	config MergeIdentitiesHandlerConfig
}

// NewArchiveIdentityHandler creates a new ArchiveIdentityHandler.
func NewArchiveIdentityHandler(deps Deps, locker port.Locker, config MergeIdentitiesHandlerConfig) *ArchiveIdentityHandler {
	if config.LockTTL <= 0 {
		config = DefaultMergeIdentitiesHandlerConfig()
	}
	return &ArchiveIdentityHandler{deps: deps.withDefaults(), locker: locker, config: config}
}

// Handle executes the command.
func (h *ArchiveIdentityHandler) Handle(ctx context.Context, cmd ArchiveIdentityCommand) (*ArchiveIdentityResult, error) {
	if !shared.IsUUID(cmd.IdentityID) {
		return nil, fmt.Errorf("archive_identity: %w", shared.NewDomainError("identity", "Archive", shared.ErrInvalidID, "identity id must be a uuid"))
	}
	if cmd.Actor == "" {
		return nil, fmt.Errorf("archive_identity: %w", shared.NewDomainError("identity", "Archive", shared.ErrEmptyValue, "actor is required"))
	}

	release, err := lockIdentities(ctx, h.locker, h.config.LockTTL, cmd.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("archive_identity: %w", err)
	}
	defer h.deps.release(ctx, release)

	result := &ArchiveIdentityResult{}
	var events []shared.Event
	err = h.deps.UoW.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		result.ArchivedIDs = nil
		events = nil
		now := h.deps.Now()
		identities := repos.Identities()

		root, err := identities.GetByID(ctx, cmd.IdentityID, identity.LockUpdate)
		if err != nil {
			return err
		}
		if !root.IsActive() {
			return shared.ErrIdentityNotActive
		}

		queue := []*identity.CanonicalIdentity{root}
		for len(queue) > 0 {
			ci := queue[0]
			queue = queue[1:]

			merged, err := identities.ListMergedInto(ctx, ci.ID)
			if err != nil {
				return err
			}
			queue = append(queue, merged...)

			if err := ci.Archive(now); err != nil {
				return err
			}
			if err := identities.Update(ctx, ci); err != nil {
				return err
			}

			e := h.deps.entry(audit.ActionIdentityArchived, ci.ID, now)
			e.RelatedIdentityID = ci.MergedInto
			e.Actor = cmd.Actor
			e.Detail = map[string]any{"reason": cmd.Reason}
			if err := repos.Audit().Append(ctx, e); err != nil {
				return err
			}
			result.ArchivedIDs = append(result.ArchivedIDs, ci.ID)
			events = append(events, shared.NewIdentityArchivedEvent(ci.ID, cmd.Actor))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive_identity: %w", err)
	}

	h.deps.publish(events)
	h.deps.Logger.Info("identity archived",
		"identity_id", cmd.IdentityID,
		"archived", len(result.ArchivedIDs),
		"actor", cmd.Actor,
	)
	return result, nil
}
