package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/app"
)

// NewArtifactsCmd creates the artifacts command (factory pattern).
func NewArtifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Manage artifacts",
	}

	cmd.AddCommand(
		newArtifactsListCmd(),
		newArtifactsShowCmd(),
		newArtifactsDeleteCmd(),
		newArtifactsSweepCmd(),
	)
	return cmd
}

func newArtifactsListCmd() *cobra.Command {
	var (
		threadID string
		limit    int32
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a thread's artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				arts, err := a.Metadata.ListArtifactsByThread(ctx, threadID, limit)
				if err != nil {
					return err
				}
				if len(arts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no artifacts")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tFILENAME\tBYTES\tSTATE\tURL")
				for _, art := range arts {
					state := "stored"
					if art.Placeholder() {
						state = "pending"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", art.ID, art.Filename, art.ByteSize, state, art.BlobURL)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread id (required)")
	cmd.Flags().Int32Var(&limit, "limit", 100, "maximum artifacts to list")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func newArtifactsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <artifact-id>",
		Short: "Show one artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid artifact id %q: %w", args[0], err)
				}

				art, err := a.Artifacts.Get(ctx, id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:           %s\n", art.ID)
				fmt.Fprintf(out, "thread:       %s\n", art.ThreadID)
				fmt.Fprintf(out, "filename:     %s\n", art.Filename)
				fmt.Fprintf(out, "content-type: %s\n", art.ContentType)
				fmt.Fprintf(out, "bytes:        %d\n", art.ByteSize)
				fmt.Fprintf(out, "url:          %s\n", art.BlobURL)
				if art.Placeholder() {
					fmt.Fprintln(out, "state:        pending byte transfer")
				} else {
					fmt.Fprintf(out, "stored-at:    %s\n", art.StoredAt)
				}
				return nil
			})
		},
	}
}

func newArtifactsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <artifact-id>",
		Short: "Delete an artifact from every store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid artifact id %q: %w", args[0], err)
				}
				if err := a.Artifacts.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				return nil
			})
		},
	}
}

func newArtifactsSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass over stale placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Sweeper.SweepOnce(ctx)
			})
		},
	}
}
