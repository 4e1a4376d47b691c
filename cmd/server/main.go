package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"sharedtodo/internal/api"
	"sharedtodo/internal/config"
	"sharedtodo/internal/db"
	"sharedtodo/internal/logging"
	"sharedtodo/internal/telemetry"
	"sharedtodo/pkg/board"
	"sharedtodo/pkg/todo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		config.Exitf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("sharedtodo: exiting")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	tp, err := telemetry.Init(ctx, telemetry.Config{
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "sharedtodo",
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown")
		}
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}()

	if err := todo.Setup(ctx, store); err != nil {
		return fmt.Errorf("setup schema: %w", err)
	}

	svc := board.New(store, board.WithTracer(tp.Tracer))
	server := api.New(svc, store, api.Config{
		TrustProxy: cfg.TrustProxy,
		StaticDir:  cfg.StaticDir,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    cfg.Addr(),
			"backend": cfg.StoreBackend,
		}).Info("sharedtodo listening")
		errCh <- server.Start(cfg.Addr())
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("sharedtodo: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore builds the configured backend, wrapped in a Redis identity cache
// when REDIS_URL is set.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (todo.Store, error) {
	var store todo.Store
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := connectWithRetry(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		store = todo.NewPgStore(pool)
	case config.BackendMemory:
		store = todo.NewMemStore()
	default:
		sqlDB, err := db.OpenSQLite(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		store = todo.NewSQLiteStore(sqlDB)
	}

	if cfg.RedisURL == "" {
		return store, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	logger.WithField("addr", opts.Addr).Info("caching display names in redis")
	return todo.NewCache(store, redis.NewClient(opts), cfg.ProfileCacheTTL), nil
}

// connectWithRetry waits up to 30 seconds for Postgres to accept
// connections, which covers a database container starting alongside us.
func connectWithRetry(ctx context.Context, url string, logger *log.Logger) (*pgxpool.Pool, error) {
	var lastErr error
	for i := 0; i < 30; i++ {
		pool, err := db.Connect(ctx, url)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		logger.WithError(err).Warnf("waiting for postgres (attempt %d/30)", i+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("connect postgres: %w", lastErr)
}
