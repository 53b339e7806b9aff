// Package app assembles the application from configuration. The API, the
// worker and the admin CLI build their handlers and connections here.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/academy-identity/config"
	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/application/query"
	"github.com/alem-hub/academy-identity/internal/domain/conflict"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Options are the collaborators and settings the handlers are built from.
type Options struct {
	UoW       port.UnitOfWork
	Locker    port.Locker
	Cache     port.SnapshotCache // optional
	Publisher shared.EventPublisher
	Logger    *slog.Logger

	// Now and NewID default to UTC wall time and random uuids.
	Now   func() time.Time
	NewID func() string

	Identity   config.IdentityConfig
	Reputation config.ReputationConfig

	OnResolveRetry func(attempt int, err error)
}

// Handlers holds every command and query handler of the service.
type Handlers struct {
	Resolve         *command.ResolveProfileHandler
	Merge           *command.MergeIdentitiesHandler
	Unmerge         *command.UnmergeIdentitiesHandler
	ResolveConflict *command.ResolveConflictHandler
	Archive         *command.ArchiveIdentityHandler
	RecordEvent     *command.RecordEventHandler
	Aggregate       *command.AggregateReputationHandler

	GetIdentity       *query.GetIdentityHandler
	GetReputation     *query.GetReputationHandler
	ReputationHistory *query.GetReputationHistoryHandler
	ListAudit         *query.ListAuditHandler
	ListConflicts     *query.ListConflictsHandler
}

// NewHandlers builds the handlers. It fails only on an unusable hash pepper.
func NewHandlers(opts Options) (*Handlers, error) {
	if opts.UoW == nil || opts.Locker == nil {
		return nil, fmt.Errorf("app: unit of work and locker are required")
	}
	hasher, err := identity.NewHasher([]byte(opts.Identity.HashPepper))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	deps := command.Deps{
		UoW:       opts.UoW,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
		Now:       opts.Now,
		NewID:     opts.NewID,
	}
	mergeCfg := command.MergeIdentitiesHandlerConfig{LockTTL: opts.Identity.MergeLockTTL}
	merge := command.NewMergeIdentitiesHandler(deps, opts.Locker, mergeCfg)

	scorer := reputation.NewScorer(reputation.ScoringConfig{
		Horizon:     opts.Reputation.DecayHorizon,
		HalfLife:    opts.Reputation.DecayHalfLife,
		PriorWeight: opts.Reputation.PriorWeight,
		TenureCap:   opts.Reputation.TenureCap,
	})

	return &Handlers{
		Resolve: command.NewResolveProfileHandler(
			deps,
			identity.NewNormalizer(hasher),
			conflict.NewDetector(opts.Identity.DetectContextConflicts),
			command.ResolveProfileHandlerConfig{
				MaxAttempts: opts.Identity.ResolveMaxAttempts,
				OnRetry:     opts.OnResolveRetry,
			},
		),
		Merge:           merge,
		Unmerge:         command.NewUnmergeIdentitiesHandler(deps, opts.Locker, mergeCfg),
		ResolveConflict: command.NewResolveConflictHandler(deps, merge),
		Archive:         command.NewArchiveIdentityHandler(deps, opts.Locker, mergeCfg),
		RecordEvent:     command.NewRecordEventHandler(deps),
		Aggregate: command.NewAggregateReputationHandler(deps, opts.Locker, scorer, opts.Cache,
			command.AggregateReputationHandlerConfig{
				RunTimeout:   opts.Reputation.RunTimeout,
				RefreshAfter: opts.Reputation.RefreshAfter,
				BatchSize:    opts.Reputation.BatchSize,
				LockTTL:      opts.Reputation.RunLockTTL,
			}),

		GetIdentity:       query.NewGetIdentityHandler(opts.UoW),
		GetReputation:     query.NewGetReputationHandler(opts.UoW, opts.Cache, opts.Logger),
		ReputationHistory: query.NewGetReputationHistoryHandler(opts.UoW),
		ListAudit:         query.NewListAuditHandler(opts.UoW),
		ListConflicts:     query.NewListConflictsHandler(opts.UoW),
	}, nil
}
