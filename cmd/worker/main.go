package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/berasid/backend-beras/internal/cart"
	"github.com/berasid/backend-beras/internal/config"
	"github.com/berasid/backend-beras/internal/lock"
	"github.com/berasid/backend-beras/internal/notify"
	"github.com/berasid/backend-beras/internal/obs"
	"github.com/berasid/backend-beras/internal/queue"
)

const (
	taskCartSweep    = "cart:sweep"
	taskWebhookSweep = "webhook:sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	notifyStore := notify.NewStore(pool)
	cartStore := cart.NewStore(pool)
	taskQueue := queue.Enqueuer{R: redisClient, Prefix: "beras", DedupTTL: 24 * time.Hour}
	locker := lock.Locker{R: redisClient}

	dispatcher := &notify.Dispatcher{
		Store:              notifyStore,
		HTTP:               notify.DefaultHTTPClient(cfg.WebhookTimeout),
		Queue:              taskQueue,
		BackoffBaseSec:     5,
		DefaultMaxAttempts: 6,
		Enabled:            true,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          time.Minute,
	}

	deliveryWorker := notify.DeliveryWorker{
		Dispatcher: dispatcher,
		Locker:     locker,
		LockTTL:    30 * time.Second,
		Logger:     logger,
	}

	queueStore := queue.NewStore(pool)
	webhookQueueWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            "beras",
		Kind:              queue.KindWebhookDelivery,
		Concurrency:       4,
		VisibilityTimeout: 30 * time.Second,
		SoftDeadline:      25 * time.Second,
		Store:             queueStore,
		Logger:            &logger,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return deliveryWorker.Handle(jobCtx, task.Payload)
		},
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri for scheduler")
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskCartSweep, func(jobCtx context.Context, _ *asynq.Task) error {
		return locker.WithLock(jobCtx, "lock:cart-sweep", time.Minute, func(lockCtx context.Context) error {
			removed, err := cartStore.DeleteExpired(lockCtx, time.Now())
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.Info().Int64("removed", removed).Msg("expired carts swept")
			}
			return nil
		})
	})
	mux.HandleFunc(taskWebhookSweep, func(jobCtx context.Context, _ *asynq.Task) error {
		return dispatcher.WorkOnce(jobCtx, 50)
	})

	asynqServer := asynq.NewServer(redisOpt, asynq.Config{Concurrency: 2})
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every 10m", asynq.NewTask(taskCartSweep, nil)); err != nil {
		logger.Fatal().Err(err).Msg("register cart sweep")
	}
	if _, err := scheduler.Register("@every 1m", asynq.NewTask(taskWebhookSweep, nil)); err != nil {
		logger.Fatal().Err(err).Msg("register webhook sweep")
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()
	go func() {
		if err := asynqServer.Run(mux); err != nil {
			logger.Error().Err(err).Msg("maintenance worker stopped")
		}
	}()

	logger.Info().Msg("worker starting")
	err = webhookQueueWorker.Run(ctx)
	scheduler.Shutdown()
	asynqServer.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
