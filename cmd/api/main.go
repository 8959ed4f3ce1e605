package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devattend/internal/attendance"
	"devattend/internal/config"
	"devattend/internal/devices"
	"devattend/internal/httpapi"
	"devattend/internal/ingest"
	"devattend/internal/logger"
	"devattend/internal/metrics"
	"devattend/internal/queue"
	"devattend/internal/store"
	"devattend/internal/tracing"
)

const serviceName = "attendance-api"

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

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, lg); err != nil {
		lg.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, serviceName, os.Stdout)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	recordStore, err := openStore(connectCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := recordStore.Close(); err != nil {
			lg.Warn("store close failed", zap.Error(err))
		}
	}()
	lg.Info("record store ready", zap.String("driver", cfg.StoreDriver))

	checks := map[string]func(context.Context) error{"store": recordStore.Ping}

	var (
		q        queue.Queue
		registry devices.Registry
	)
	if cfg.QueueBackend == "redis" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := store.NewRedis(connectCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultRedisKey)
		registry = devices.NewRedisRegistry(rdb.Client, devices.DefaultRedisKey)
		checks["redis"] = rdb.Ping
	} else {
		mem := queue.NewInMemory(256)
		memRegistry := devices.NewMemoryRegistry()
		q, registry = mem, memRegistry
		// no separate worker process shares an in-memory queue, so consume here
		go func() {
			if err := devices.NewTracker(mem, memRegistry, lg).Run(ctx); err != nil {
				lg.Error("device tracker stopped", zap.Error(err))
			}
		}()
	}

	svc := attendance.NewService(recordStore,
		attendance.WithPublisher(q),
		attendance.WithLogger(lg),
		attendance.WithMaxDays(cfg.StatsMaxDays),
	)

	if cfg.MQTTBrokerURL != "" {
		sub := ingest.NewSubscriber(ingest.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
		}, svc, lg)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
		lg.Info("mqtt ingestion enabled", zap.String("broker", cfg.MQTTBrokerURL), zap.String("topic", cfg.MQTTTopic))
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Service:         svc,
		Devices:         registry,
		Logger:          lg,
		Metrics:         metrics.New(),
		Checks:          checks,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       cfg.StaticDir,
		ServiceName:     serviceName,
		Tracing:         cfg.TracingEnabled,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	lg.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("server forced shutdown", zap.Error(err))
	}
	lg.Info("server exited")
	return nil
}

// openStore connects the configured backend and makes sure its schema exists.
func openStore(ctx context.Context, cfg config.App) (attendance.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return attendance.NewMemoryRepository(), nil

	case "mongo":
		client, err := store.NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		repo := attendance.NewMongoRepository(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("mongodb indexes: %w", err)
		}
		return repo, nil

	case "postgres", "sqlite":
		dialect, err := attendance.DialectFor(cfg.StoreDriver)
		if err != nil {
			return nil, err
		}
		dsn := cfg.DatabaseURL
		if dialect.Driver == attendance.SQLite.Driver {
			dsn = cfg.SQLitePath
		}
		db, err := store.NewDB(ctx, dialect.Driver, dsn)
		if err != nil {
			return nil, err
		}
		repo := attendance.NewSQLRepository(db.Client, dialect)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
