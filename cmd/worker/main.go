// Package main - точка входа для фоновых процессов (Worker) сервиса идентификации.
//
// Worker отвечает за:
// - Периодический пересчёт V-Index (агрегатор репутации)
// - Потребление сырых профилей организаций из Kafka и их разрешение
// - Потребление поведенческих событий из Kafka
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/alem-hub/academy-identity/config"
	"github.com/alem-hub/academy-identity/internal/app"
	"github.com/alem-hub/academy-identity/internal/infrastructure/scheduler"
	"github.com/alem-hub/academy-identity/internal/infrastructure/scheduler/jobs"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := cfg.NewLogger()
	slog.SetDefault(log)
	log.Info("starting identity worker",
		"env", cfg.App.Environment,
		"scheduler", cfg.Scheduler.Enabled,
		"kafka", cfg.Kafka.Enabled,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ИНФРАСТРУКТУРА
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := infra.Close(closeCtx); err != nil {
			log.Error("failed to close infrastructure", "error", err)
		}
	}()

	h, err := infra.Handlers()
	if err != nil {
		return fmt.Errorf("failed to build handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:   log,
		Observer: infra.Metrics,
		Tick:     cfg.Scheduler.Tick,
	})
	if cfg.Scheduler.Enabled {
		schedule, err := scheduler.ParseSchedule(cfg.Scheduler.AggregateSchedule)
		if err != nil {
			return fmt.Errorf("invalid aggregate schedule: %w", err)
		}
		job := jobs.NewAggregateReputationJob(h.Aggregate, infra.Metrics, log)
		if err := sched.Register(job, schedule); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Warn("scheduler stop", "error", err)
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. KAFKA CONSUMERS
	// ─────────────────────────────────────────────────────────────────────────
	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		for _, c := range infra.Consumers(h) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.Run(ctx); err != nil {
					log.Error("consumer stopped with error", "error", err)
				}
			}()
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("identity worker is running")
	<-ctx.Done()
	log.Info("received shutdown signal, starting graceful shutdown...",
		"timeout", cfg.App.ShutdownTimeout.String(),
	)

	// consumers return once the in-flight message is handled
	wg.Wait()

	log.Info("shutdown completed successfully")
	return nil
}
