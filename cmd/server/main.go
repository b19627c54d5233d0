package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/api"
	"github.com/notifyhub/formsync/internal/archive"
	"github.com/notifyhub/formsync/internal/config"
	"github.com/notifyhub/formsync/internal/db"
	"github.com/notifyhub/formsync/internal/mapper"
	"github.com/notifyhub/formsync/internal/metrics"
	"github.com/notifyhub/formsync/internal/provider"
	"github.com/notifyhub/formsync/internal/ratelimiter"
	"github.com/notifyhub/formsync/internal/repository"
	"github.com/notifyhub/formsync/internal/service"
	"github.com/notifyhub/formsync/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	ctx := context.Background()

	// ---- queue store ----
	var (
		repo        repository.QueueRepository
		healthCheck func(context.Context) error
	)
	switch cfg.QueueBackend {
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.MigrationsSource, cfg.DatabaseURL); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
		repo = repository.NewPgQueueRepository(pool)
		healthCheck = pool.Ping
	default:
		logger.Warn("using in-memory queue store; queued items do not survive a restart")
		repo = repository.NewMemoryQueueRepository()
	}

	// ---- provider gate ----
	var gate ratelimiter.Gate
	switch cfg.RateLimitBackend {
	case config.RateLimitRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		gate = ratelimiter.NewRedisGate(rdb, cfg.RateLimitPerSec, cfg.RateLimitBurst)
	default:
		gate = ratelimiter.New(cfg.RateLimitPerSec, cfg.RateLimitBurst)
	}

	// ---- result archive ----
	var archiver archive.ResultArchiver = archive.Nop{}
	if cfg.ResultsBucket != "" {
		client, err := archive.NewS3Client(ctx, archive.S3Options{
			Region:    cfg.ResultsRegion,
			Endpoint:  cfg.ResultsEndpoint,
			PathStyle: cfg.ResultsPathStyle,
		})
		if err != nil {
			logger.Fatal("failed to configure result archive", zap.Error(err))
		}
		archiver = archive.NewS3Archiver(client, cfg.ResultsBucket, cfg.ResultsPrefix)
		logger.Info("archiving batch results", zap.String("bucket", cfg.ResultsBucket))
	}

	// ---- pipeline ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hooks := m.WorkerHooks()

	prov := provider.NewMailchimpProvider(cfg.ProviderBaseURL, cfg.ProviderTimeout).WithMaxResultBytes(cfg.MaxResultBytes)
	creds := provider.StaticCredentials{Key: cfg.ProviderAPIKey}
	if cfg.ProviderAPIKey == "" {
		logger.Warn("PROVIDER_API_KEY is empty; every submission will fail until it is set")
	}

	reconciler := worker.NewResultReconciler(repo, prov, archiver, logger, hooks)
	poller := worker.NewStatusPoller(repo, prov, creds, gate, reconciler, cfg.MaxPollDuration, logger, hooks)
	polls := worker.NewPollRegistry(poller, cfg.PollDelay, logger)
	submitter := worker.NewBatchSubmitter(repo, prov, creds, mapper.Mailchimp{}, gate, polls,
		worker.SubmitterConfig{MaxBatchOperations: cfg.MaxBatchOperations, MaxAttempts: cfg.MaxAttempts},
		logger, hooks)
	dispatcher := worker.NewDispatcher(repo, submitter, cfg.DrainPageSize, cfg.SubmitConcurrency, logger, hooks)
	sweeper := worker.NewRetentionSweeper(repo, cfg.RetentionWindow, logger, hooks)

	scheduler, err := worker.NewScheduler(cfg.DrainSchedule, dispatcher, sweeper, polls, repo, logger, hooks)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	svc := service.NewQueueService(repo, dispatcher, logger, m.OnEnqueued)

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(svc, reg, healthCheck, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("queue_backend", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new submissions.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the tick and every pending poll; in-flight batches are picked
	// up again from the store on the next start.
	scheduler.Stop()

	logger.Info("server stopped cleanly")
}
