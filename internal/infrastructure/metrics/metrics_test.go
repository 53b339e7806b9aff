package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
	"github.com/alem-hub/academy-identity/internal/infrastructure/messaging"
	"github.com/alem-hub/academy-identity/pkg/circuitbreaker"
)

func TestRecorder_DomainEvents(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	r := NewRecorder()
	require.NoError(t, r.Subscribe(bus))

	before := testutil.ToFloat64(DomainEventsTotal.WithLabelValues("identity.merged"))
	require.NoError(t, bus.Publish(shared.NewIdentityMergedEvent("a", "b", "audit", 1)))
	require.NoError(t, bus.Publish(shared.NewIdentityMergedEvent("a", "c", "audit-2", 0)))

	assert.Equal(t, before+2, testutil.ToFloat64(DomainEventsTotal.WithLabelValues("identity.merged")))
}

func TestRecorder_Aggregation(t *testing.T) {
	r := NewRecorder()
	partial := testutil.ToFloat64(AggregatorRunsTotal.WithLabelValues("partial"))
	scored := testutil.ToFloat64(AggregatorIdentitiesTotal.WithLabelValues("scored"))

	r.ObserveAggregation(&command.AggregateReputationResult{
		Candidates: 5, Scored: 3, Deferred: 1, Failed: 1, Duration: time.Second,
	})

	assert.Equal(t, partial+1, testutil.ToFloat64(AggregatorRunsTotal.WithLabelValues("partial")))
	assert.Equal(t, scored+3, testutil.ToFloat64(AggregatorIdentitiesTotal.WithLabelValues("scored")))
}

func TestRecorder_JobsAndKafka(t *testing.T) {
	r := NewRecorder()
	failed := testutil.ToFloat64(SchedulerJobsTotal.WithLabelValues("aggregate_reputation", "error"))
	poison := testutil.ToFloat64(KafkaMessagesConsumed.WithLabelValues("raw-profile-created", "poison"))

	r.ObserveJob("aggregate_reputation", time.Millisecond, errors.New("boom"))
	r.ObserveConsumed("raw-profile-created", "poison", time.Millisecond)

	assert.Equal(t, failed+1, testutil.ToFloat64(SchedulerJobsTotal.WithLabelValues("aggregate_reputation", "error")))
	assert.Equal(t, poison+1, testutil.ToFloat64(KafkaMessagesConsumed.WithLabelValues("raw-profile-created", "poison")))
}

func TestBreakerStateChanged(t *testing.T) {
	BreakerStateChanged("kafka-producer", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	assert.Equal(t, float64(1), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("kafka-producer")))
}

func TestRecorder_ResolveRetry(t *testing.T) {
	r := NewRecorder()
	before := testutil.ToFloat64(ResolveRetriesTotal)

	r.ObserveResolveRetry(1, shared.ErrConcurrentCreationConflict)

	assert.Equal(t, before+1, testutil.ToFloat64(ResolveRetriesTotal))
}
