// Package cmd provides CLI commands for kestrel.
//
// Commands:
//   - send: run a message through a conversation and print the rewritten output
//   - serve: run the HTTP API and the background placeholder sweeper
//   - upload: register a local file as an artifact
//   - artifacts: list, inspect, delete, and sweep artifacts
//   - threads: inspect and delete threads
//   - migrate: apply database schema migrations
//
// Signal handling and graceful shutdown are implemented for all commands
// via context cancellation.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/app"
	"github.com/kestrelhq/kestrel/internal/config"
)

// Execute is the main entry point for the kestrel CLI application.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "kestrel",
		Short:         "kestrel - durable artifacts for assistant conversations",
		Long:          "kestrel runs messages through a hosted assistant service and\nrewrites the transient file references in its output into durable URLs\nbacked by an object store and a relational catalog.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		NewSendCmd(),
		NewServeCmd(),
		NewUploadCmd(),
		NewArtifactsCmd(),
		NewThreadsCmd(),
		NewMigrateCmd(),
		NewVersionCmd(),
	)

	return root.ExecuteContext(ctx)
}

// withApp loads configuration, builds the application container, runs fn,
// and releases resources.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", cerr)
		}
	}()

	return fn(ctx, a)
}
