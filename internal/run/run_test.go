package run_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/provider"
	"github.com/kestrelhq/kestrel/internal/run"
	"github.com/kestrelhq/kestrel/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig(maxAttempts int) run.Config {
	return run.Config{Interval: time.Millisecond, MaxAttempts: maxAttempts}
}

func assistantMessage(id string, createdAt time.Time, segments ...provider.Segment) provider.Message {
	return provider.Message{
		ID:        id,
		Role:      "assistant",
		Segments:  segments,
		CreatedAt: createdAt,
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunInProgress, provider.RunCompleted}

	now := time.Now().UTC()
	api.Messages = []provider.Message{
		// Newest first, as the provider lists them.
		assistantMessage("msg-3", now,
			provider.TextSegment("part two."),
			provider.Segment{Type: provider.SegmentFileRef, FileID: "file-7", Filename: "chart.png"},
		),
		assistantMessage("msg-2", now, provider.TextSegment("Part one, ")),
		assistantMessage("msg-1", now.Add(-time.Hour), provider.TextSegment("stale reply")),
		{ID: "msg-0", Role: "user", Segments: []provider.Segment{provider.TextSegment("question")}, CreatedAt: now},
	}

	orch := run.New(api, fastConfig(10), log.NewNop())
	res, err := orch.Execute(context.Background(), run.ExecuteInput{Input: "question"})
	require.NoError(t, err)

	assert.Equal(t, "conv-1", res.ConversationID)
	assert.Equal(t, "run-1", res.RunID)
	// Text segments concatenated in document order; the user message and the
	// assistant reply from before this run are excluded.
	assert.Equal(t, "Part one, part two.", res.Text)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "file-7", res.Files[0].FileID)
	assert.Equal(t, "chart.png", res.Files[0].Filename)
}

func TestExecuteReusesConversation(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunCompleted}

	orch := run.New(api, fastConfig(10), log.NewNop())
	res, err := orch.Execute(context.Background(), run.ExecuteInput{
		ConversationID: "conv-existing",
		Input:          "question",
	})
	require.NoError(t, err)
	assert.Equal(t, "conv-existing", res.ConversationID)
}

func TestExecuteConcatenatesAugmentation(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunCompleted}

	orch := run.New(api, fastConfig(10), log.NewNop())
	_, err := orch.Execute(context.Background(), run.ExecuteInput{
		Input:        "question",
		Augmentation: "search context",
	})
	require.NoError(t, err)

	// A single message carries both parts.
	require.Len(t, api.Inputs, 1)
	assert.Equal(t, "question\n\nsearch context", api.Inputs[0])
}

func TestExecuteValidatesInput(t *testing.T) {
	t.Parallel()

	orch := run.New(testutil.NewFakeConversationAPI(), fastConfig(10), log.NewNop())
	_, err := orch.Execute(context.Background(), run.ExecuteInput{Input: "   "})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestExecuteTimeoutLeavesRunInFlight(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunInProgress}

	orch := run.New(api, fastConfig(3), log.NewNop())
	_, err := orch.Execute(context.Background(), run.ExecuteInput{Input: "question"})
	require.Error(t, err)

	assert.Equal(t, fault.KindTimeout, fault.KindOf(err))
	// The conversation id is carried so the caller can resume polling.
	assert.Equal(t, "conv-1", fault.ConversationID(err))
	// The budget was spent without any cancel call: exactly MaxAttempts polls.
	assert.Equal(t, 3, api.GetCalls)
}

func TestExecuteRequiresActionIsTerminal(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunRequiresAction}

	orch := run.New(api, fastConfig(10), log.NewNop())
	_, err := orch.Execute(context.Background(), run.ExecuteInput{Input: "question"})
	require.Error(t, err)

	assert.Equal(t, fault.KindRemoteTerminal, fault.KindOf(err))
	assert.Contains(t, err.Error(), "tool execution")
	// A single poll settled it; no further attempts were spent.
	assert.Equal(t, 1, api.GetCalls)
}

func TestExecuteSurfacesRunFailure(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunFailed}
	api.RunFailure = "sandbox crashed"

	orch := run.New(api, fastConfig(10), log.NewNop())
	_, err := orch.Execute(context.Background(), run.ExecuteInput{Input: "question"})
	require.Error(t, err)

	assert.Equal(t, fault.KindRemoteTerminal, fault.KindOf(err))
	assert.Contains(t, err.Error(), "sandbox crashed")
}

func TestExecuteFailsFastOnPollError(t *testing.T) {
	t.Parallel()

	// The first status read fails at the transport level; the run would
	// complete on the next read, but no further read happens.
	api := testutil.NewFakeConversationAPI()
	api.GetErrOnce = errors.New("connection reset by peer")
	api.Statuses = []provider.RunStatus{provider.RunCompleted}

	orch := run.New(api, fastConfig(10), log.NewNop())
	_, err := orch.Execute(context.Background(), run.ExecuteInput{Input: "question"})
	require.Error(t, err)

	assert.Equal(t, 1, api.GetCalls)
	assert.Equal(t, fault.KindRemoteTransient, fault.KindOf(err))
	assert.Equal(t, "conv-1", fault.ConversationID(err))
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestExecuteAbortsOnTerminalPollError(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.GetErr = fault.Terminal("provider.get_run", "not_found", errors.New("run not found"))

	orch := run.New(api, fastConfig(10), log.NewNop())
	_, err := orch.Execute(context.Background(), run.ExecuteInput{Input: "question"})
	require.Error(t, err)

	assert.Equal(t, fault.KindRemoteTerminal, fault.KindOf(err))
	assert.Equal(t, "conv-1", fault.ConversationID(err))
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunInProgress}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := run.New(api, run.Config{Interval: time.Minute, MaxAttempts: 10}, log.NewNop())
	_, err := orch.Execute(ctx, run.ExecuteInput{Input: "question"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Cancellation is the caller's decision, not a remote hiccup.
	assert.Equal(t, fault.KindRemoteTerminal, fault.KindOf(err))
	assert.False(t, fault.IsRetryable(err))
}

func TestExecuteStructuredOutput(t *testing.T) {
	t.Parallel()

	api := testutil.NewFakeConversationAPI()
	api.Statuses = []provider.RunStatus{provider.RunCompleted}
	api.Messages = []provider.Message{
		assistantMessage("msg-1", time.Now().UTC(), provider.TextSegment(`{"ok":true}`)),
	}

	orch := run.New(api, fastConfig(10), log.NewNop())
	res, err := orch.Execute(context.Background(), run.ExecuteInput{
		Input:            "question",
		StructuredOutput: true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, res.Text)
	require.Len(t, api.StartOpts, 1)
	assert.Equal(t, "json_object", api.StartOpts[0].ResponseFormat)
}
