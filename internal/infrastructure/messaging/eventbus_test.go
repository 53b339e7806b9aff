package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

type recordingObserver struct {
	mu     sync.Mutex
	errors int
	calls  int
}

func (o *recordingObserver) ObserveEventHandler(_ shared.EventType, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err != nil {
		o.errors++
	}
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	obs := &recordingObserver{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Observer: obs})

	var merged, all []string
	require.NoError(t, bus.Subscribe(shared.EventIdentityMerged, func(e shared.Event) error {
		merged = append(merged, e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, string(e.EventType()))
		return errors.New("sink unavailable")
	}))

	require.NoError(t, bus.Publish(shared.NewIdentityMergedEvent("survivor", "loser", "audit", 2)))
	require.NoError(t, bus.Publish(shared.NewIdentityCreatedEvent("id-1", shared.ProfileRef{OrganizationID: "org", ProfileID: "p"})))

	assert.Equal(t, []string{"survivor"}, merged)
	assert.Equal(t, []string{"identity.merged", "identity.created"}, all)
	assert.Equal(t, 3, obs.calls)
	assert.Equal(t, 2, obs.errors)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, bus.Publish(shared.NewIdentityArchivedEvent("id", "ops")))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(6), handled.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewIdentityArchivedEvent("id", "ops")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_PanicIsContained(t *testing.T) {
	obs := &recordingObserver{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Observer: obs})
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))

	assert.NotPanics(t, func() {
		_ = bus.Publish(shared.NewIdentityArchivedEvent("id", "ops"))
	})
	assert.Equal(t, 1, obs.errors)
}
