// Package metrics provides Prometheus metrics for the identity service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alem-hub/academy-identity/internal/application/command"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
	"github.com/alem-hub/academy-identity/pkg/circuitbreaker"
)

const namespace = "identity"

var (
	// DomainEventsTotal counts committed domain events by type.
	DomainEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "domain",
			Name:      "events_total",
			Help:      "Total number of committed domain events by type",
		},
		[]string{"event_type"},
	)

	// EventHandlerDuration tracks in-process event handler latency.
	EventHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "handler_duration_seconds",
			Help:      "Duration of event bus handlers in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"event_type", "status"},
	)

	// ResolveRetriesTotal counts resolver attempts lost to a concurrent
	// first-time creation and rerun as lookups.
	ResolveRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "retries_total",
			Help:      "Resolver attempts retried after a concurrent identity creation",
		},
	)

	// AggregatorRunsTotal counts completed aggregator passes.
	AggregatorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "runs_total",
			Help:      "Total number of reputation aggregator passes by outcome",
		},
		[]string{"outcome"},
	)

	// AggregatorIdentitiesTotal counts identities handled by the aggregator.
	AggregatorIdentitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "identities_total",
			Help:      "Identities handled by the reputation aggregator by result",
		},
		[]string{"result"},
	)

	// AggregatorRunDuration tracks aggregator pass duration.
	AggregatorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "run_duration_seconds",
			Help:      "Duration of reputation aggregator passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// SchedulerJobsTotal counts scheduled job executions.
	SchedulerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Total number of scheduled job executions by status",
		},
		[]string{"job", "status"},
	)

	// SchedulerJobDuration tracks scheduled job duration.
	SchedulerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled jobs in seconds",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900},
		},
		[]string{"job"},
	)

	// KafkaMessagesPublished counts produced messages.
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"event_type", "status"},
	)

	// KafkaMessagesConsumed counts consumed messages by outcome.
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of consumed Kafka messages by outcome",
		},
		[]string{"topic", "outcome"},
	)

	// KafkaConsumeDuration tracks message handling time.
	KafkaConsumeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "consume_duration_seconds",
			Help:      "Duration of Kafka message handling in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"topic"},
	)

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// CircuitBreakerState exposes breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Recorder feeds observer callbacks of the event bus, scheduler, aggregator
// job and Kafka clients into the collectors above.
type Recorder struct{}

// NewRecorder returns a Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Subscribe counts every committed domain event on the bus.
func (r *Recorder) Subscribe(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(func(e shared.Event) error {
		DomainEventsTotal.WithLabelValues(string(e.EventType())).Inc()
		return nil
	})
}

// ObserveEventHandler implements messaging.Observer.
func (r *Recorder) ObserveEventHandler(eventType shared.EventType, d time.Duration, err error) {
	EventHandlerDuration.WithLabelValues(string(eventType), status(err)).Observe(d.Seconds())
}

// ObserveResolveRetry is the resolver's retry hook.
func (r *Recorder) ObserveResolveRetry(int, error) {
	ResolveRetriesTotal.Inc()
}

// ObserveJob implements scheduler.Observer.
func (r *Recorder) ObserveJob(name string, d time.Duration, err error) {
	SchedulerJobsTotal.WithLabelValues(name, status(err)).Inc()
	SchedulerJobDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveAggregation implements jobs.ResultObserver.
func (r *Recorder) ObserveAggregation(res *command.AggregateReputationResult) {
	outcome := "completed"
	switch {
	case res.TimedOut:
		outcome = "timed_out"
	case res.Failed > 0:
		outcome = "partial"
	}
	AggregatorRunsTotal.WithLabelValues(outcome).Inc()
	AggregatorRunDuration.Observe(res.Duration.Seconds())

	AggregatorIdentitiesTotal.WithLabelValues("scored").Add(float64(res.Scored))
	AggregatorIdentitiesTotal.WithLabelValues("deferred").Add(float64(res.Deferred))
	AggregatorIdentitiesTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
	AggregatorIdentitiesTotal.WithLabelValues("failed").Add(float64(res.Failed))
}

// ObservePublished implements kafka.Observer.
func (r *Recorder) ObservePublished(eventType shared.EventType, err error) {
	KafkaMessagesPublished.WithLabelValues(string(eventType), status(err)).Inc()
}

// ObserveConsumed implements kafka.Observer.
func (r *Recorder) ObserveConsumed(topic, outcome string, d time.Duration) {
	KafkaMessagesConsumed.WithLabelValues(topic, outcome).Inc()
	KafkaConsumeDuration.WithLabelValues(topic).Observe(d.Seconds())
}

// ObserveHTTP records one served request. route is the matched path
// template, never the raw URL.
func (r *Recorder) ObserveHTTP(method, route string, statusCode int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// BreakerStateChanged is a circuitbreaker state change callback.
func BreakerStateChanged(name string, _, to circuitbreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}
