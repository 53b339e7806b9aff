package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/academy-identity/config"
	"github.com/alem-hub/academy-identity/internal/infrastructure/messaging"
	"github.com/alem-hub/academy-identity/internal/infrastructure/messaging/kafka"
	"github.com/alem-hub/academy-identity/internal/infrastructure/metrics"
	"github.com/alem-hub/academy-identity/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/academy-identity/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/academy-identity/pkg/circuitbreaker"
	"github.com/alem-hub/academy-identity/pkg/retry"
)

// Infrastructure owns the external connections of one process.
type Infrastructure struct {
	DB      *postgres.Connection
	Store   *postgres.Store
	Redis   *redis.Cache
	Locker  *redis.Locker
	Cache   *redis.ReputationCache
	Bus     *messaging.InMemoryEventBus
	Metrics *metrics.Recorder

	// Producer is nil unless Kafka publishing is enabled.
	Producer *kafka.Producer

	cfg    *config.Config
	logger *slog.Logger
}

// OpenOption customizes Open.
type OpenOption func(*openOptions)

type openOptions struct {
	migrate bool
	publish bool
}

// WithoutMigrations skips AutoMigrate even when it is configured.
func WithoutMigrations() OpenOption {
	return func(o *openOptions) { o.migrate = false }
}

// WithoutPublishing keeps domain events in process.
func WithoutPublishing() OpenOption {
	return func(o *openOptions) { o.publish = false }
}

// Open connects to PostgreSQL and Redis, optionally applies migrations, and
// starts the event bus with the Kafka producer attached when configured.
// On error everything opened so far is closed again.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...OpenOption) (_ *Infrastructure, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := openOptions{
		migrate: cfg.Database.AutoMigrate,
		publish: cfg.Kafka.Enabled && cfg.Kafka.PublishEvents,
	}
	for _, opt := range opts {
		opt(&o)
	}

	infra := &Infrastructure{cfg: cfg, logger: logger, Metrics: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			_ = infra.Close(context.WithoutCancel(ctx))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	logger.Info("connecting to database...")
	if infra.DB, err = ConnectDB(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}
	infra.Store = postgres.NewStore(infra.DB)
	logger.Info("database connection established")

	if o.migrate {
		n, err := postgres.NewMigrator(infra.DB).Migrate(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database schema is up to date", "applied", n)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Redis
	// ─────────────────────────────────────────────────────────────────────────
	logger.Info("connecting to Redis...")
	infra.Redis, err = redis.NewCache(redisConfig(cfg.Redis))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	infra.Locker = redis.NewLocker(infra.Redis, logger)
	infra.Cache = redis.NewReputationCache(infra.Redis, cfg.Reputation.CacheTTL)
	logger.Info("Redis connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus and Kafka producer
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = logger
	busCfg.Observer = infra.Metrics
	infra.Bus = messaging.NewInMemoryEventBus(busCfg)
	if err := infra.Metrics.Subscribe(infra.Bus); err != nil {
		return nil, err
	}

	if o.publish {
		infra.Producer = kafka.NewProducer(kafka.NewWriter(KafkaConfig(cfg.Kafka)), kafka.ProducerConfig{
			Breaker:  circuitbreaker.BrokerBreaker(metrics.BreakerStateChanged),
			Logger:   logger,
			Observer: infra.Metrics,
		})
		if err := infra.Producer.Attach(infra.Bus); err != nil {
			return nil, err
		}
		logger.Info("publishing domain events to Kafka", "topic", cfg.Kafka.IdentityEventsTopic)
	}

	return infra, nil
}

// Handlers builds the command and query handlers over this infrastructure.
func (i *Infrastructure) Handlers() (*Handlers, error) {
	return NewHandlers(Options{
		UoW:            i.Store,
		Locker:         i.Locker,
		Cache:          i.Cache,
		Publisher:      i.Bus,
		Logger:         i.logger,
		Identity:       i.cfg.Identity,
		Reputation:     i.cfg.Reputation,
		OnResolveRetry: i.Metrics.ObserveResolveRetry,
	})
}

// Consumers builds the Kafka consumers feeding the resolver and event
// ingestion. Each owns its reader.
func (i *Infrastructure) Consumers(h *Handlers) []*kafka.Consumer {
	kcfg := KafkaConfig(i.cfg.Kafka)
	ccfg := kafka.ConsumerConfig{Logger: i.logger, Observer: i.Metrics}
	return []*kafka.Consumer{
		kafka.NewConsumer(kcfg.RawProfileTopic, kafka.NewReader(kcfg, kcfg.RawProfileTopic),
			kafka.RawProfileHandler(h.Resolve, i.logger), ccfg),
		kafka.NewConsumer(kcfg.BehavioralTopic, kafka.NewReader(kcfg, kcfg.BehavioralTopic),
			kafka.BehavioralEventHandler(h.RecordEvent), ccfg),
	}
}

// Close drains the event bus before the producer so queued events still go
// out, then closes the stores.
func (i *Infrastructure) Close(ctx context.Context) error {
	var errs []error
	if i.Bus != nil {
		i.logger.Info("closing event bus...")
		errs = append(errs, i.Bus.Close())
	}
	if i.Producer != nil {
		errs = append(errs, i.Producer.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.DB != nil {
		i.logger.Info("closing database connection...")
		i.DB.Close()
	}
	return errors.Join(errs...)
}

// ConnectDB retries the first connection so the service survives starting
// before its database.
func ConnectDB(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*postgres.Connection, error) {
	pg := postgres.DefaultConfig()
	pg.URL = cfg.URL
	pg.MaxConns = int32(cfg.MaxConns)
	pg.MinConns = int32(cfg.MinConns)
	pg.MaxConnLifetime = cfg.ConnMaxLifetime
	pg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	var conn *postgres.Connection
	r := retry.New(
		retry.WithMaxAttempts(5),
		retry.WithInitialDelay(time.Second),
		retry.WithMaxDelay(10*time.Second),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Warn("database not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
		}),
	)
	err := r.Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, pg)
		if err != nil {
			return retry.Retryable(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func redisConfig(cfg config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Host
	rc.Port = cfg.Port
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		rc.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.WriteTimeout
	}
	return rc
}

// KafkaConfig maps the service configuration onto reader and writer settings.
func KafkaConfig(cfg config.KafkaConfig) kafka.Config {
	kc := kafka.DefaultConfig()
	if len(cfg.Brokers) > 0 {
		kc.Brokers = cfg.Brokers
	}
	if cfg.GroupID != "" {
		kc.GroupID = cfg.GroupID
	}
	if cfg.RawProfileTopic != "" {
		kc.RawProfileTopic = cfg.RawProfileTopic
	}
	if cfg.BehavioralTopic != "" {
		kc.BehavioralTopic = cfg.BehavioralTopic
	}
	if cfg.IdentityEventsTopic != "" {
		kc.IdentityEventsTopic = cfg.IdentityEventsTopic
	}
	return kc
}
