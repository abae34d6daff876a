package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/blob"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
	"github.com/kestrelhq/kestrel/internal/observability"
	"github.com/kestrelhq/kestrel/internal/provider"
	"github.com/kestrelhq/kestrel/internal/resolve"
	"github.com/kestrelhq/kestrel/internal/run"
	"github.com/kestrelhq/kestrel/internal/sweep"
)

const shutdownTimeout = 5 * time.Second

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{
		Config: cfg,
		Logger: provideLogger(cfg),
	}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Environment: cfg.Telemetry.Environment,
			ServiceName: cfg.Telemetry.ServiceName,
		})
		if err != nil {
			return nil, err
		}
		a.otelShutdown = shutdown
	}

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.Metadata, err = metadata.New(pool, a.Logger)
	if err != nil {
		return nil, err
	}

	a.Provider, err = provider.New(cfg.APIBaseURL, cfg.APIKey, a.Logger,
		provider.WithRateLimit(cfg.RateLimit, int(cfg.RateLimit)+1))
	if err != nil {
		return nil, err
	}

	a.Blobs, err = blob.New(blob.Config{
		Endpoint:      cfg.BlobEndpoint,
		AccessKey:     cfg.BlobAccessKey,
		SecretKey:     cfg.BlobSecretKey,
		Bucket:        cfg.BlobBucket,
		UseSSL:        cfg.BlobUseSSL,
		PublicBaseURL: cfg.BlobPublicBaseURL,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := a.Blobs.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensuring blob bucket: %w", err)
	}

	a.Artifacts = artifact.NewManager(a.Provider, a.Blobs, a.Metadata, a.Logger)
	a.Runs = run.New(a.Provider, run.Config{
		Interval:    time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		MaxAttempts: cfg.MaxPolls,
	}, a.Logger)
	a.Resolver = resolve.New(a.Metadata, a.Artifacts, a.Logger)
	a.Sweeper = sweep.New(a.Artifacts, a.Metadata, sweep.Config{
		Interval:    time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
		GracePeriod: time.Duration(cfg.SweepGraceMinutes) * time.Minute,
	}, a.Logger)

	a.Logger.Debug("application initialized",
		"provider", cfg.APIBaseURL,
		"blob_bucket", cfg.BlobBucket)
	return a, nil
}

func provideLogger(cfg *config.Config) log.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
