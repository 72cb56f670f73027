package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iBekzod/next-gen-being-sub006/internal/app"
	"github.com/iBekzod/next-gen-being-sub006/internal/config"
	"github.com/iBekzod/next-gen-being-sub006/internal/telemetry"
)

// The worker only consumes the Kafka queue. Requests and events live in
// Postgres so the API process can serve them.
func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.NewLogger("error").Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(cfg.LogLevel).With("process", "worker")
	if cfg.Postgres.DSN == "" || len(cfg.Kafka.Brokers) == 0 {
		logger.Error("worker requires POSTGRES_DSN and KAFKA_BROKERS")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown close failed", "error", err)
		}
	}()

	logger.Info("worker_start",
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.GroupID,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
	)
	if err := a.Jobs.Run(ctx, a.Consumer); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}
