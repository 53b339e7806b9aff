package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/audit"
	"github.com/alem-hub/academy-identity/internal/domain/identity"
	"github.com/alem-hub/academy-identity/internal/domain/reputation"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE REPUTATION COMMAND
// One batch pass of the reputation aggregator. Only one pass runs at a time
// across all instances; each identity is scored from a consistent read and
// written as a new immutable snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// AggregateReputationCommand starts a pass.
type AggregateReputationCommand struct {
	// Timeout overrides the configured run budget when positive.
	Timeout time.Duration
}

// AggregateReputationResult contains statistics of a pass.
type AggregateReputationResult struct {
	Candidates int
	Scored     int
	Deferred   int
	Skipped    int
	Failed     int
	TimedOut   bool
	Duration   time.Duration
	Events     []shared.Event
}

// AggregateReputationHandlerConfig contains configuration for the handler.
type AggregateReputationHandlerConfig struct {
	// RunTimeout time-boxes a pass; the rest is picked up by the next one.
	RunTimeout time.Duration

	// RefreshAfter re-scores identities without new events so decay shows.
	RefreshAfter time.Duration

	// BatchSize is the page size of the candidate scan.
	BatchSize int

	// LockTTL of the run token. Should exceed RunTimeout.
	LockTTL time.Duration
}

// DefaultAggregateReputationHandlerConfig returns default configuration.
func DefaultAggregateReputationHandlerConfig() AggregateReputationHandlerConfig {
	return AggregateReputationHandlerConfig{
		RunTimeout:   10 * time.Minute,
		RefreshAfter: 24 * time.Hour,
		BatchSize:    200,
		LockTTL:      15 * time.Minute,
	}
}

// AggregateReputationHandler handles the AggregateReputationCommand.
type AggregateReputationHandler struct {
	deps   Deps
	locker port.Locker
	scorer *reputation.Scorer
	cache  port.SnapshotCache
	config AggregateReputationHandlerConfig
}

// NewAggregateReputationHandler creates a new AggregateReputationHandler.
// cache may be nil.
func NewAggregateReputationHandler(
	deps Deps,
	locker port.Locker,
	scorer *reputation.Scorer,
	cache port.SnapshotCache,
	config AggregateReputationHandlerConfig,
) *AggregateReputationHandler {
	def := DefaultAggregateReputationHandlerConfig()
	if config.RunTimeout <= 0 {
		config.RunTimeout = def.RunTimeout
	}
	if config.RefreshAfter <= 0 {
		config.RefreshAfter = def.RefreshAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.LockTTL < config.RunTimeout {
		config.LockTTL = config.RunTimeout + time.Minute
	}
	return &AggregateReputationHandler{
		deps:   deps.withDefaults(),
		locker: locker,
		scorer: scorer,
		cache:  cache,
		config: config,
	}
}

// Handle executes one pass. Returns ErrAggregatorRunActive when another pass
// holds the run token.
func (h *AggregateReputationHandler) Handle(ctx context.Context, cmd AggregateReputationCommand) (*AggregateReputationResult, error) {
	start := time.Now()

	release, err := h.locker.TryLock(ctx, []string{port.AggregatorLockKey}, h.config.LockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLocked) {
			return nil, shared.ErrAggregatorRunActive
		}
		return nil, fmt.Errorf("aggregate_reputation: %w", err)
	}
	defer h.deps.release(ctx, release)

	timeout := h.config.RunTimeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &AggregateReputationResult{}
	staleBefore := h.deps.Now().Add(-h.config.RefreshAfter)
	cursor := ""

scan:
	for {
		var ids []string
		err := h.deps.UoW.Read(runCtx, func(ctx context.Context, repos port.Repositories) error {
			var err error
			ids, err = repos.Reputation().ListCandidates(ctx, reputation.CandidateFilter{
				StaleBefore: staleBefore,
				AfterID:     cursor,
				Limit:       h.config.BatchSize,
			})
			return err
		})
		if err != nil {
			if runCtx.Err() != nil {
				result.TimedOut = true
				break
			}
			return nil, fmt.Errorf("aggregate_reputation: list candidates: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		result.Candidates += len(ids)

		for _, id := range ids {
			if runCtx.Err() != nil {
				result.TimedOut = true
				break scan
			}
			outcome, event, err := h.scoreOne(runCtx, id)
			switch {
			case err != nil && runCtx.Err() != nil:
				result.TimedOut = true
				break scan
			case err != nil:
				result.Failed++
				h.deps.Logger.Warn("failed to score identity", "identity_id", id, "error", err)
			case outcome == outcomeDeferred:
				result.Deferred++
			case outcome == outcomeSkipped:
				result.Skipped++
			default:
				result.Scored++
				result.Events = append(result.Events, event)
			}
		}
		cursor = ids[len(ids)-1]
	}

	result.Duration = time.Since(start)
	h.deps.publish(result.Events)
	h.deps.Logger.Info("reputation aggregation finished",
		"candidates", result.Candidates,
		"scored", result.Scored,
		"deferred", result.Deferred,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"timed_out", result.TimedOut,
		"duration", result.Duration,
	)
	return result, nil
}

type scoreOutcome int

const (
	outcomeScored scoreOutcome = iota
	outcomeDeferred
	outcomeSkipped
)

func (h *AggregateReputationHandler) scoreOne(ctx context.Context, id string) (scoreOutcome, shared.Event, error) {
	// an identity inside a merge is picked up by the next pass
	locked, err := h.locker.IsLocked(ctx, port.IdentityLockKey(id))
	if err != nil {
		return 0, nil, err
	}
	if locked {
		return outcomeDeferred, nil, nil
	}

	asOf := h.deps.Now()
	var (
		seen     *identity.CanonicalIdentity
		events   []*reputation.Event
		previous *reputation.Snapshot
	)
	err = h.deps.UoW.Read(ctx, func(ctx context.Context, repos port.Repositories) error {
		ci, err := repos.Identities().GetByID(ctx, id, identity.LockNone)
		if err != nil {
			return err
		}
		seen = ci
		if !ci.IsActive() {
			return nil
		}
		if events, err = repos.Reputation().ListEventsByIdentity(ctx, id); err != nil {
			return err
		}
		previous, err = repos.Reputation().LatestSnapshot(ctx, id)
		if errors.Is(err, shared.ErrSnapshotNotFound) {
			err = nil
		}
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	if !seen.IsActive() {
		return outcomeSkipped, nil, nil
	}

	snap := reputation.NewSnapshot(h.deps.NewID(), id, h.scorer.Score(events, asOf), len(events), asOf)

	outcome := outcomeScored
	err = h.deps.UoW.Do(ctx, func(ctx context.Context, repos port.Repositories) error {
		// the links may have moved between the read and this write
		ci, err := repos.Identities().GetByID(ctx, id, identity.LockShare)
		if err != nil {
			return err
		}
		if !ci.IsActive() || !ci.UpdatedAt.Equal(seen.UpdatedAt) {
			outcome = outcomeDeferred
			return nil
		}
		if err := repos.Reputation().SaveSnapshot(ctx, snap); err != nil {
			return err
		}
		e := h.deps.entry(audit.ActionReputationSnapshot, id, asOf)
		e.Detail = map[string]any{
			"snapshot_id": snap.ID,
			"composite":   snap.Composite.Float64(),
			"events":      snap.EventCount,
		}
		return repos.Audit().Append(ctx, e)
	})
	if err != nil || outcome != outcomeScored {
		return outcome, nil, err
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, id); err != nil {
			h.deps.Logger.Warn("failed to invalidate reputation cache", "identity_id", id, "error", err)
		}
	}

	prev := 0.0
	if previous != nil {
		prev = previous.Composite.Float64()
	}
	return outcomeScored, shared.NewReputationUpdatedEvent(id, snap.ID, snap.Composite.Float64(), prev), nil
}
