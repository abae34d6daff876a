// Package run drives one asynchronous provider run from input to extracted
// output. The provider executes runs remotely; this package owns the
// conversation setup, the bounded polling loop, and the reading of the
// run's output messages.
package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/provider"
)

// ConversationAPI is the provider surface the orchestrator consumes.
type ConversationAPI interface {
	CreateConversation(ctx context.Context) (string, error)
	AppendInput(ctx context.Context, conversationID, text string) error
	StartRun(ctx context.Context, conversationID string, opts provider.RunOptions) (*provider.Run, error)
	GetRun(ctx context.Context, conversationID, runID string) (*provider.Run, error)
	ListOutput(ctx context.Context, conversationID string) ([]provider.Message, error)
}

// Config bounds the polling loop.
type Config struct {
	// Interval is the fixed wait between status polls.
	Interval time.Duration

	// MaxAttempts caps the number of status polls before giving up.
	MaxAttempts int
}

// DefaultConfig returns the polling bounds used in production: a two minute
// ceiling at one poll per second.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		MaxAttempts: 120,
	}
}

// ExecuteInput is one request to run against a conversation.
type ExecuteInput struct {
	// ConversationID reuses an existing conversation. Empty means create one.
	ConversationID string

	// Input is the user's message text. Required.
	Input string

	// Augmentation is extra context (e.g. search results) folded into the
	// same input message. It is never sent as a separate message because
	// the provider replies to the latest message only.
	Augmentation string

	// Instructions is additional-instructions text attached to the run
	// itself rather than the conversation history.
	Instructions string

	// StructuredOutput asks the provider for a single JSON object reply.
	StructuredOutput bool
}

// FileReference is a provider file mentioned in a run's structured output.
type FileReference struct {
	FileID   string
	Filename string
}

// Result is the extracted output of a completed run.
type Result struct {
	ConversationID string
	RunID          string
	Text           string
	Files          []FileReference
}

// Orchestrator executes runs against the provider conversation API.
type Orchestrator struct {
	api    ConversationAPI
	cfg    Config
	logger log.Logger
}

// New creates an Orchestrator. Zero Config fields fall back to defaults,
// logger may be nil.
func New(api ConversationAPI, cfg Config, logger log.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{api: api, cfg: cfg, logger: logger}
}

// Execute appends the input to a conversation, starts a run, polls it to a
// terminal status, and extracts the output.
//
// If a conversation had to be created, its id is carried both in the Result
// and on every returned error, so the caller can reuse or clean it up. A
// Timeout error means the attempt budget ran out with the run still in
// flight remotely; the run is left running and the same conversation id can
// be polled again later.
func (o *Orchestrator) Execute(ctx context.Context, in ExecuteInput) (*Result, error) {
	const op = "run.execute"

	if strings.TrimSpace(in.Input) == "" {
		return nil, fault.Validationf(op, "input text is required")
	}

	conversationID := in.ConversationID
	if conversationID == "" {
		id, err := o.api.CreateConversation(ctx)
		if err != nil {
			return nil, fault.Restamp(op, "create_conversation", err)
		}
		conversationID = id
		o.logger.Debug("conversation created", "conversation_id", conversationID)
	}

	text := in.Input
	if in.Augmentation != "" {
		text = in.Input + "\n\n" + in.Augmentation
	}
	if err := o.api.AppendInput(ctx, conversationID, text); err != nil {
		return nil, fault.Restamp(op, "append_input", err).WithConversation(conversationID)
	}

	opts := provider.RunOptions{Instructions: in.Instructions}
	if in.StructuredOutput {
		opts.ResponseFormat = "json_object"
	}

	// The extraction window opens slightly before the run starts so that
	// output written while our clock lags the provider's is not missed.
	windowStart := time.Now().UTC().Add(-2 * time.Second)

	started, err := o.api.StartRun(ctx, conversationID, opts)
	if err != nil {
		return nil, fault.Restamp(op, "start_run", err).WithConversation(conversationID)
	}

	final, err := o.poll(ctx, conversationID, started)
	if err != nil {
		return nil, err
	}

	result, err := o.extract(ctx, conversationID, final.ID, windowStart)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// poll re-reads the run status at a fixed interval until it reaches a
// terminal state or the attempt budget runs out. Any status read failure
// is fatal to the call; only completed runs return without error.
func (o *Orchestrator) poll(ctx context.Context, conversationID string, run *provider.Run) (*provider.Run, error) {
	const op = "run.poll"

	current := run
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		switch current.Status {
		case provider.RunCompleted:
			o.logger.Debug("run completed",
				"conversation_id", conversationID,
				"run_id", current.ID,
				"polls", attempt-1)
			return current, nil

		case provider.RunFailed, provider.RunCancelled, provider.RunExpired:
			reason := current.FailureReason
			if reason == "" {
				reason = "no failure reason reported"
			}
			return nil, fault.Terminal(op, string(current.Status),
				fmt.Errorf("run %s: %s", current.Status, reason)).
				WithConversation(conversationID)

		case provider.RunRequiresAction:
			// The run is waiting on client-side tool execution, which
			// this pipeline does not provide. Waiting longer cannot help.
			return nil, fault.Terminal(op, "requires_action",
				errors.New("run requested tool execution, which is not supported")).
				WithConversation(conversationID)
		}

		select {
		case <-ctx.Done():
			// Cancellation comes from the caller, not the remote side;
			// it must not look retryable.
			return nil, fault.Terminal(op, "wait", ctx.Err()).WithConversation(conversationID)
		case <-time.After(o.cfg.Interval):
		}

		next, err := o.api.GetRun(ctx, conversationID, current.ID)
		if err != nil {
			// Any read failure is fatal to this call. The run keeps
			// executing remotely; the conversation id lets the caller
			// pick it up.
			return nil, fault.Restamp(op, "get_run", err).WithConversation(conversationID)
		}
		current = next
	}

	// Budget exhausted with the run still in flight. The run is left
	// running remotely; the conversation id lets the caller pick it up.
	return nil, fault.Timeout(op, o.cfg.MaxAttempts).WithConversation(conversationID)
}

// extract reads the conversation's output messages and folds the run's
// assistant output into a Result. Only messages created at or after
// windowStart count as this run's output. Text segments are concatenated in
// document order; file references come from structured segments only, never
// from scanning the text.
func (o *Orchestrator) extract(ctx context.Context, conversationID, runID string, windowStart time.Time) (*Result, error) {
	const op = "run.extract"

	messages, err := o.api.ListOutput(ctx, conversationID)
	if err != nil {
		return nil, fault.Restamp(op, "list_output", err).WithConversation(conversationID)
	}

	var (
		parts []string
		files []FileReference
	)
	// ListOutput returns newest first; walk backwards for document order.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != "assistant" || msg.CreatedAt.Before(windowStart) {
			continue
		}
		for _, seg := range msg.Segments {
			switch seg.Type {
			case provider.SegmentText:
				parts = append(parts, seg.Text)
			case provider.SegmentFileRef:
				files = append(files, FileReference{
					FileID:   seg.FileID,
					Filename: seg.Filename,
				})
			}
		}
	}

	return &Result{
		ConversationID: conversationID,
		RunID:          runID,
		Text:           strings.Join(parts, ""),
		Files:          files,
	}, nil
}
