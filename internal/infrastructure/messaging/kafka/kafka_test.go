package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
	"github.com/alem-hub/academy-identity/internal/infrastructure/messaging"
	"github.com/alem-hub/academy-identity/pkg/circuitbreaker"
	"github.com/alem-hub/academy-identity/pkg/retry"
)

func fastRetrier() *retry.Retrier {
	return retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithJitter(0))
}

// ─────────────────────────────────────────────────────────────────────────────
// Producer
// ─────────────────────────────────────────────────────────────────────────────

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures != 0 {
		if w.failures > 0 {
			w.failures--
		}
		return errors.New("leader not available")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_ForwardsCommittedEvents(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, ProducerConfig{
		Retrier: fastRetrier(),
		NewID:   func() string { return "env-1" },
	})
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	require.NoError(t, p.Attach(bus))

	require.NoError(t, bus.Publish(shared.NewIdentityMergedEvent("survivor-1", "loser-1", "audit-1", 3)))
	require.NoError(t, bus.Publish(shared.NewIdentityLinkedEvent("survivor-1", shared.ProfileRef{OrganizationID: "o", ProfileID: "p"}, "high")))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "survivor-1", string(msg.Key))
	require.NotEmpty(t, msg.Headers)
	assert.Equal(t, HeaderEventType, msg.Headers[0].Key)
	assert.Equal(t, "identity.merged", string(msg.Headers[0].Value))

	var env shared.EventEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "env-1", env.ID)
	assert.Equal(t, shared.EventIdentityMerged, env.Type)
	assert.Equal(t, "survivor-1", env.AggregateID)
}

func TestProducer_RetriesTransientFailures(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := NewProducer(w, ProducerConfig{Retrier: fastRetrier()})

	require.NoError(t, p.Publish(context.Background(), shared.NewIdentityArchivedEvent("id-1", "ops")))
	assert.Equal(t, 3, w.calls)
	assert.Len(t, w.messages, 1)
}

func TestProducer_OpenCircuitFailsFast(t *testing.T) {
	w := &fakeWriter{failures: -1}
	p := NewProducer(w, ProducerConfig{
		Retrier: fastRetrier(),
		Breaker: circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(1), circuitbreaker.WithCooldown(time.Minute)),
	})

	err := p.Publish(context.Background(), shared.NewIdentityArchivedEvent("id-1", "ops"))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 1, w.calls)
}

// ─────────────────────────────────────────────────────────────────────────────
// Consumer
// ─────────────────────────────────────────────────────────────────────────────

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	committed []int64
	done      chan struct{}
	closed    bool
}

func newFakeReader(values ...[]byte) *fakeReader {
	r := &fakeReader{done: make(chan struct{})}
	for i, v := range values {
		r.msgs = append(r.msgs, kafka.Message{Topic: TopicRawProfileCreated, Offset: int64(i), Value: v})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		m := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.committed) == len(r.msgs) {
		close(r.done)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeResolver struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func (f *fakeResolver) Handle(_ context.Context, cmd command.ResolveProfileCommand) (*command.ResolveProfileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[cmd.ProfileID]++
	if cmd.RawPhone == "" {
		return nil, shared.ErrInvalidPhoneFormat
	}
	if f.failures[cmd.ProfileID] > 0 {
		f.failures[cmd.ProfileID]--
		return nil, errors.New("connection reset")
	}
	return &command.ResolveProfileResult{IdentityID: "identity-" + cmd.ProfileID}, nil
}

func rawProfile(t *testing.T, profileID, phone string) []byte {
	t.Helper()
	b, err := json.Marshal(RawProfileCreated{OrganizationID: "org-1", ProfileID: profileID, Phone: phone})
	require.NoError(t, err)
	return b
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) ObservePublished(shared.EventType, error) {}

func (o *countingObserver) ObserveConsumed(_, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func TestConsumer_AtLeastOnce(t *testing.T) {
	reader := newFakeReader(
		rawProfile(t, "p-1", "+77011234567"),
		[]byte("{not json"),
		rawProfile(t, "p-2", ""),
		rawProfile(t, "p-3", "+77017654321"),
	)
	// p-3 outlives one full retrier round before it succeeds
	resolver := &fakeResolver{failures: map[string]int{"p-3": 4}, calls: map[string]int{}}
	obs := &countingObserver{outcomes: map[string]int{}}

	c := NewConsumer(TopicRawProfileCreated, reader, RawProfileHandler(resolver, nil), ConsumerConfig{
		Retrier:    fastRetrier(),
		RetryPause: time.Millisecond,
		Observer:   obs,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Run(ctx) }()

	select {
	case <-reader.done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not all committed")
	}
	cancel()
	require.NoError(t, <-stopped)

	assert.Equal(t, []int64{0, 1, 2, 3}, reader.committed)
	assert.True(t, reader.closed)
	assert.Equal(t, 1, resolver.calls["p-1"])
	assert.Equal(t, 1, resolver.calls["p-2"])
	assert.Equal(t, 5, resolver.calls["p-3"])
	assert.Equal(t, 2, obs.outcomes[OutcomeHandled])
	assert.Equal(t, 2, obs.outcomes[OutcomePoison])
	assert.Equal(t, 1, obs.outcomes[OutcomeRetried])
}

func TestConsumer_CancelLeavesMessageUncommitted(t *testing.T) {
	reader := newFakeReader(rawProfile(t, "p-1", "+77011234567"))
	resolver := &fakeResolver{failures: map[string]int{"p-1": 1 << 20}, calls: map[string]int{}}

	c := NewConsumer(TopicRawProfileCreated, reader, RawProfileHandler(resolver, nil), ConsumerConfig{
		Retrier:    fastRetrier(),
		RetryPause: time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	assert.Empty(t, reader.committed)
}

type fakeRecorder struct {
	seen map[string]bool
}

func (f *fakeRecorder) Handle(_ context.Context, cmd command.RecordEventCommand) (*command.RecordEventResult, error) {
	if cmd.Kind == "" {
		return nil, shared.ErrInvalidEventKind
	}
	dup := f.seen[cmd.EventID]
	f.seen[cmd.EventID] = true
	return &command.RecordEventResult{EventID: cmd.EventID, Duplicate: dup}, nil
}

func TestBehavioralEventHandler(t *testing.T) {
	rec := &fakeRecorder{seen: map[string]bool{}}
	h := BehavioralEventHandler(rec)
	ctx := context.Background()

	valid, err := json.Marshal(BehavioralEvent{
		EventID: "e-1", OrganizationID: "org-1", ProfileID: "p-1",
		Kind: "attendance", Value: 0.8, OccurredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.NoError(t, h(ctx, kafka.Message{Value: valid}))
	assert.NoError(t, h(ctx, kafka.Message{Value: valid}), "replay is not an error")

	invalid, err := json.Marshal(BehavioralEvent{EventID: "e-2"})
	require.NoError(t, err)
	assert.True(t, IsPoison(h(ctx, kafka.Message{Value: invalid})))
	assert.True(t, IsPoison(h(ctx, kafka.Message{Value: []byte("[]")})))
}
