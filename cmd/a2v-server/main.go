package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/api"
	"github.com/iBekzod/next-gen-being-sub006/internal/app"
	"github.com/iBekzod/next-gen-being-sub006/internal/config"
	"github.com/iBekzod/next-gen-being-sub006/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.NewLogger("error").Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(cfg.LogLevel).With("process", "server")
	gin.SetMode(gin.ReleaseMode)

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

	if cfg.Providers.Mode == app.ProviderModeMock {
		token, err := a.SeedDemo(ctx)
		if err != nil {
			logger.Error("seed demo failed", "error", err)
			os.Exit(1)
		}
		logger.Info("demo_seeded", "user_id", "demo-user", "article_id", "demo-article", "access_token", token)
	}

	srv := api.NewServer(a.Auth, a.Repo, a.Jobs, a.Hub, a.Blob, api.Options{CORSOrigins: cfg.CORSOrigins}, logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Router(),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Jobs.Run(ctx, a.Consumer); err != nil {
			logger.Error("worker pool stopped with error", "error", err)
			stop()
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
	}()

	logger.Info("server_start",
		"addr", cfg.Addr,
		"provider_mode", cfg.Providers.Mode,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
		"postgres", cfg.Postgres.DSN != "",
		"redis", cfg.Redis.Addr != "",
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited with error", "error", err)
		stop()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
	logger.Info("server_stopped")
}
