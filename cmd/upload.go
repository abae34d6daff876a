package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/app"
)

// NewUploadCmd creates the upload command (factory pattern).
func NewUploadCmd() *cobra.Command {
	var (
		threadID    string
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Register a local file as an artifact on a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				path := args[0]

				data, err := os.ReadFile(path) // #nosec G304 -- user-supplied path is the point of the command
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}

				filename := filepath.Base(path)
				ct := contentType
				if ct == "" {
					if ct = mime.TypeByExtension(filepath.Ext(filename)); ct == "" {
						ct = "application/octet-stream"
					}
				}

				art, err := a.Artifacts.Create(ctx, data, filename, ct, threadID)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "artifact %s\n  url: %s\n  bytes: %d\n", art.ID, art.BlobURL, art.ByteSize)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread id (required)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type (inferred from extension when omitted)")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}
