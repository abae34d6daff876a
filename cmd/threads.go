package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/app"
	"github.com/kestrelhq/kestrel/internal/metadata"
)

// NewThreadsCmd creates the threads command (factory pattern).
func NewThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage threads",
	}

	cmd.AddCommand(
		newThreadsShowCmd(),
		newThreadsDeleteCmd(),
	)
	return cmd
}

func newThreadsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show one thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				thread, err := a.Metadata.GetThread(ctx, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:           %s\n", thread.ID)
				fmt.Fprintf(out, "conversation: %s\n", thread.ConversationID)
				fmt.Fprintf(out, "title:        %s\n", thread.Title)
				fmt.Fprintf(out, "created:      %s\n", thread.CreatedAt)
				return nil
			})
		},
	}
}

func newThreadsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread, its artifacts, and its remote conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				threadID := args[0]

				thread, err := a.Metadata.GetThread(ctx, threadID)
				if err != nil && !errors.Is(err, metadata.ErrNotFound) {
					return err
				}

				// Artifacts go through the manager so their blob objects
				// and provider files are released too.
				arts, err := a.Metadata.ListArtifactsByThread(ctx, threadID, 1000)
				if err != nil {
					return err
				}
				for _, art := range arts {
					if err := a.Artifacts.Delete(ctx, art.ID); err != nil {
						return err
					}
				}

				if thread != nil && thread.ConversationID != "" {
					if err := a.Provider.DeleteConversation(ctx, thread.ConversationID); err != nil {
						a.Logger.Warn("remote conversation delete failed",
							"conversation_id", thread.ConversationID, "error", err)
					}
				}

				if err := a.Metadata.DeleteThread(ctx, threadID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				return nil
			})
		},
	}
}
