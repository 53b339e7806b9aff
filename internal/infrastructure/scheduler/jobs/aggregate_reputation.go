// Package jobs contains the scheduled jobs of the identity service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE REPUTATION JOB
// ══════════════════════════════════════════════════════════════════════════════

// Aggregator is the command the job drives.
type Aggregator interface {
	Handle(ctx context.Context, cmd command.AggregateReputationCommand) (*command.AggregateReputationResult, error)
}

// ResultObserver receives the statistics of every completed pass.
type ResultObserver interface {
	ObserveAggregation(result *command.AggregateReputationResult)
}

// AggregateReputationJob runs one reputation aggregator pass per tick.
// Identities left over by a time-boxed pass are picked up on the next tick.
type AggregateReputationJob struct {
	aggregator Aggregator
	observer   ResultObserver
	logger     *slog.Logger

	lastResult atomic.Pointer[command.AggregateReputationResult]
}

// NewAggregateReputationJob creates a new job. observer may be nil.
func NewAggregateReputationJob(aggregator Aggregator, observer ResultObserver, logger *slog.Logger) *AggregateReputationJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregateReputationJob{
		aggregator: aggregator,
		observer:   observer,
		logger:     logger.With("job", "aggregate_reputation"),
	}
}

// Name returns the job name.
func (j *AggregateReputationJob) Name() string {
	return "aggregate_reputation"
}

// Description returns a human-readable description.
func (j *AggregateReputationJob) Description() string {
	return "Recomputes V-Index snapshots for identities with new events, changed links or stale scores"
}

// Run executes one pass. A pass already running on another instance is not
// an error.
func (j *AggregateReputationJob) Run(ctx context.Context) error {
	result, err := j.aggregator.Handle(ctx, command.AggregateReputationCommand{})
	if err != nil {
		if errors.Is(err, shared.ErrAggregatorRunActive) {
			j.logger.Info("aggregator pass already running elsewhere, skipping")
			return nil
		}
		return fmt.Errorf("aggregate reputation: %w", err)
	}
	j.lastResult.Store(result)
	if j.observer != nil {
		j.observer.ObserveAggregation(result)
	}

	if result.Failed > 0 {
		return fmt.Errorf("aggregate reputation: %d of %d identities failed", result.Failed, result.Candidates)
	}
	return nil
}

// LastResult returns statistics of the last completed pass, or nil.
func (j *AggregateReputationJob) LastResult() *command.AggregateReputationResult {
	return j.lastResult.Load()
}
