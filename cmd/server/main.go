package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/countrybatch/internal/config"
	"github.com/JonMunkholm/countrybatch/internal/core"
	"github.com/JonMunkholm/countrybatch/internal/history"
	"github.com/JonMunkholm/countrybatch/internal/logging"
	"github.com/JonMunkholm/countrybatch/internal/objectstore"
	"github.com/JonMunkholm/countrybatch/internal/resolver"
	"github.com/JonMunkholm/countrybatch/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	opts := []core.Option{core.WithLogger(slog.Default())}

	// Run history: PostgreSQL when configured, memory otherwise
	if cfg.Database.Enabled() {
		pool, err := connectDB(ctx, &cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := history.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare history schema", "error", err)
			os.Exit(1)
		}
		opts = append(opts, core.WithHistory(store))
		slog.Info("run history stored in database")
	} else {
		slog.Info("DATABASE_URL not set, run history kept in memory")
	}

	// Export artifacts
	if cfg.ObjectStore.Enabled {
		sink, err := objectstore.NewMinioSink(objectstore.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Region:    cfg.ObjectStore.Region,
			UseSSL:    cfg.ObjectStore.UseSSL,
			Bucket:    cfg.ObjectStore.Bucket,
		})
		if err != nil {
			slog.Error("failed to configure object store", "error", err)
			os.Exit(1)
		}
		if err := sink.EnsureBucket(ctx); err != nil {
			slog.Error("failed to prepare export bucket", "bucket", cfg.ObjectStore.Bucket, "error", err)
			os.Exit(1)
		}
		opts = append(opts, core.WithArtifactSink(sink))
		slog.Info("exports stored in bucket", "endpoint", cfg.ObjectStore.Endpoint, "bucket", cfg.ObjectStore.Bucket)
	}

	retryMax := cfg.Resolver.RetryMax
	if retryMax == 0 {
		retryMax = -1
	}
	client, err := resolver.New(resolver.Options{
		BaseURL:           cfg.Resolver.BaseURL,
		Timeout:           cfg.Resolver.Timeout,
		RetryMax:          retryMax,
		RetryWaitMin:      cfg.Resolver.RetryWaitMin,
		RetryWaitMax:      cfg.Resolver.RetryWaitMax,
		RequestsPerSecond: cfg.Resolver.RequestsPerSecond,
		Burst:             cfg.Resolver.Burst,
		Logger:            slog.Default(),
	})
	if err != nil {
		slog.Error("failed to create resolver client", "error", err)
		os.Exit(1)
	}

	service := core.NewService(client, core.ServiceConfig{
		Workers:           cfg.Batch.Workers,
		ProgressInterval:  cfg.Batch.ProgressInterval,
		MaxFileSize:       cfg.Batch.MaxFileSize,
		MaxConcurrentRuns: cfg.Batch.MaxConcurrent,
		MaxWait:           cfg.Batch.MaxWaitTime,
		RunTimeout:        cfg.Batch.Timeout,
		ResultTTL:         cfg.Batch.ResultTTL,
		DefaultColumn:     cfg.Batch.DefaultColumn,
		Fallbacks:         cfg.Batch.FallbackColumns,
		LegacyQuoting:     cfg.Batch.LegacyQuoting,
		PresignTTL:        cfg.ObjectStore.PresignTTL,
	}, opts...)

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartRetentionScheduler(jobCtx, core.RetentionConfig{
		RetentionDays: cfg.History.RetentionDays,
		CheckInterval: cfg.History.CheckInterval,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Give active runs a chance to finish, then cancel the rest
		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("runs did not complete in time, cancelling", "error", err)
				service.CancelAll()
			} else {
				slog.Info("all runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}

// connectDB opens and verifies the history database pool.
func connectDB(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
