package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/app"
	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/metadata"
	"github.com/kestrelhq/kestrel/internal/run"
)

// NewSendCmd creates the send command (factory pattern).
func NewSendCmd() *cobra.Command {
	var (
		threadID     string
		augmentation string
		instructions string
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message through a conversation and print the output",
		Long: `Send runs a message through the assistant service. The thread's
conversation is reused when one exists; otherwise a conversation is created
and recorded on the thread. Transient file references in the output are
rewritten to durable URLs before printing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runSend(ctx, a, sendOptions{
					threadID:         threadID,
					input:            args[0],
					augmentation:     augmentation,
					instructions:     instructions,
					structuredOutput: jsonOutput,
				}, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread id (new thread when omitted)")
	cmd.Flags().StringVar(&augmentation, "augment", "", "extra context folded into the message")
	cmd.Flags().StringVar(&instructions, "instructions", "", "additional instructions for this run only")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "request a JSON object reply")
	return cmd
}

type sendOptions struct {
	threadID         string
	input            string
	augmentation     string
	instructions     string
	structuredOutput bool
}

func runSend(ctx context.Context, a *app.App, opts sendOptions, out io.Writer) error {
	threadID := opts.threadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	conversationID := ""
	thread, err := a.Metadata.GetThread(ctx, threadID)
	switch {
	case err == nil:
		conversationID = thread.ConversationID
	case errors.Is(err, metadata.ErrNotFound):
		// First message on this thread.
	default:
		return err
	}

	res, err := a.Runs.Execute(ctx, run.ExecuteInput{
		ConversationID:   conversationID,
		Input:            opts.input,
		Augmentation:     opts.augmentation,
		Instructions:     opts.instructions,
		StructuredOutput: opts.structuredOutput,
	})
	if err != nil {
		// A conversation allocated before the failure is still recorded so
		// a retry reuses it instead of leaking it.
		if id := fault.ConversationID(err); id != "" && id != conversationID {
			if serr := saveThread(ctx, a, threadID, id, opts.input); serr != nil {
				a.Logger.Warn("recording conversation after failed run", "error", serr)
			}
		}
		return err
	}

	if res.ConversationID != conversationID {
		if serr := saveThread(ctx, a, threadID, res.ConversationID, opts.input); serr != nil {
			return serr
		}
	}

	text, err := a.Resolver.Resolve(ctx, res.Text, threadID, res.RunID)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, text)
	for _, ref := range res.Files {
		fmt.Fprintf(out, "attachment: %s (%s)\n", ref.Filename, ref.FileID)
	}
	fmt.Fprintf(out, "thread: %s\n", threadID)
	return nil
}

func saveThread(ctx context.Context, a *app.App, threadID, conversationID, title string) error {
	return a.Metadata.UpsertThread(ctx, &metadata.ThreadRecord{
		ID:             threadID,
		ConversationID: conversationID,
		Title:          truncateTitle(title),
	})
}

// truncateTitle shortens a message to a list-friendly thread title.
func truncateTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const maxTitle = 80
	runes := []rune(s)
	if len(runes) <= maxTitle {
		return s
	}
	return string(runes[:maxTitle-3]) + "..."
}
