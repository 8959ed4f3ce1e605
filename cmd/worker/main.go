package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"devattend/internal/config"
	"devattend/internal/devices"
	"devattend/internal/logger"
	"devattend/internal/queue"
	"devattend/internal/store"
)

// Worker consumes recorded-attendance messages and maintains the device registry.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.QueueBackend != "redis" {
		lg.Fatal("worker needs a shared queue; set QUEUE_BACKEND=redis",
			zap.String("queue_backend", cfg.QueueBackend))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := store.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		lg.Fatal("redis not reachable", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	q := queue.NewRedisQueue(rdb.Client, queue.DefaultRedisKey)
	registry := devices.NewRedisRegistry(rdb.Client, devices.DefaultRedisKey)

	pending, err := q.Len(ctx)
	if err != nil {
		lg.Warn("queue length unavailable", zap.Error(err))
	}
	lg.Info("worker started, waiting for messages",
		zap.String("queue", queue.DefaultRedisKey), zap.Int64("pending", pending))
	if err := devices.NewTracker(q, registry, lg).Run(ctx); err != nil {
		lg.Fatal("worker failed", zap.Error(err))
	}
	lg.Info("worker stopped")
}
