// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: the provider
// client, the blob store, the metadata store, and the coordinators built on
// top of them. Construction is explicit in Setup; there is no global state.
package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/blob"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
	"github.com/kestrelhq/kestrel/internal/provider"
	"github.com/kestrelhq/kestrel/internal/resolve"
	"github.com/kestrelhq/kestrel/internal/run"
	"github.com/kestrelhq/kestrel/internal/sweep"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Stores
	DBPool   *pgxpool.Pool
	Provider *provider.Client
	Blobs    *blob.Store
	Metadata *metadata.Store

	// Coordinators
	Artifacts *artifact.Manager
	Runs      *run.Orchestrator
	Resolver  *resolve.Resolver
	Sweeper   *sweep.Sweeper

	otelShutdown func(context.Context) error
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			slog.Warn("trace exporter shutdown failed", "error", err)
		}
	}

	return nil
}
