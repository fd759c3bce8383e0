package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/decentgram/mediaflow/internal/config"
	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/decentgram/mediaflow/internal/logging"
	"github.com/decentgram/mediaflow/internal/storage"
	"github.com/decentgram/mediaflow/internal/store"
	"github.com/decentgram/mediaflow/internal/telemetry"
	"github.com/decentgram/mediaflow/internal/webhook"
	"github.com/decentgram/mediaflow/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		failLogger := logging.New(logging.Config{}, "worker")
		failLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Log.Logging(), "worker")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := editor.Startup(); err != nil {
		return err
	}
	defer editor.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.Trace("worker"), logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	storageClient, err := storage.NewClient(cfg.Storage.Client())
	if err != nil {
		return err
	}

	var (
		jobStore   store.JobStore
		usageStore store.UsageStore
	)
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		jobStore, usageStore = pg, pg
	} else {
		logger.Warn().Msg("no database configured, job status and usage are not persisted")
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.Secret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxRetries + 1,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	})

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Editor.Options(), storageClient, webhookClient, jobStore, usageStore)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := srv.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("draining worker")
		srv.Shutdown()
		return nil
	})
	if cfg.Worker.MetricsAddr != "" {
		g.Go(func() error {
			logger.Info().Str("addr", metricsServer.Addr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
