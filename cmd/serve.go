package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelhq/kestrel/api"
	"github.com/kestrelhq/kestrel/internal/app"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  "Serve the REST API and run the placeholder sweeper until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runServe(ctx, a, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", api.DefaultAddr, "listen address")

	return cmd
}

func runServe(ctx context.Context, a *app.App, addr string) error {
	server := api.NewServer(
		api.NewHealthHandler(a.DBPool, a.Logger),
		api.NewFilesHandler(a.Artifacts, a.Logger),
		api.NewMessageHandler(a.Runs, a.Resolver, a.Metadata, a.Logger),
		a.Logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, addr)
	})
	g.Go(func() error {
		return a.Sweeper.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
