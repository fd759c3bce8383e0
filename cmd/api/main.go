package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/decentgram/mediaflow/internal/api"
	"github.com/decentgram/mediaflow/internal/config"
	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/decentgram/mediaflow/internal/logging"
	"github.com/decentgram/mediaflow/internal/queue"
	"github.com/decentgram/mediaflow/internal/ratelimit"
	"github.com/decentgram/mediaflow/internal/storage"
	"github.com/decentgram/mediaflow/internal/store"
	"github.com/decentgram/mediaflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		failLogger := logging.New(logging.Config{}, "api")
		failLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.Log.Logging(), "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.Trace("api"), logger)
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close failed")
		}
	}()

	jobStore, closeStore, err := openJobStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	storageClient, err := storage.NewClient(cfg.Storage.Client())
	if err != nil {
		return err
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		logger.Warn().Err(err).Str("bucket", storageClient.Bucket()).Msg("bucket check failed")
	}
	cancel()

	ed, err := editor.New(cfg.Editor.Options())
	if err != nil {
		return err
	}

	opts := api.Options{
		Logger:         logger,
		Queue:          queueClient,
		JobStore:       jobStore,
		Storage:        storageClient,
		Editor:         ed,
		Tracer:         otel.Tracer("mediaflow/api"),
		UserIDHeader:   cfg.RateLimit.UserIDHeader,
		EditCost:       cfg.RateLimit.EditCost,
		PresignTTL:     cfg.API.PresignTTL,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.New(redisClient, ratelimit.Config{
			Capacity:  cfg.RateLimit.Capacity,
			Window:    cfg.RateLimit.Window,
			KeyPrefix: cfg.RateLimit.KeyPrefix,
		})
		if err != nil {
			return err
		}
		opts.RateLimiter = limiter
	}
	app := api.NewServer(opts)

	servers := []*http.Server{{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
	if cfg.API.MetricsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.API.MetricsAddr,
			Handler:           app.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (store.JobStore, func(), error) {
	if cfg.DSN == "" {
		logger.Warn().Msg("no database configured, jobs are kept in memory")
		return store.NewMemoryJobStore(), func() {}, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Warn().Err(err).Msg("postgres close failed")
		}
	}, nil
}
