package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
	"github.com/kestrelhq/kestrel/internal/run"
)

// RunExecutor drives one run to completion.
type RunExecutor interface {
	Execute(ctx context.Context, in run.ExecuteInput) (*run.Result, error)
}

// ReferenceRewriter rewrites transient locators in run output.
type ReferenceRewriter interface {
	Resolve(ctx context.Context, rawText, threadID, messageID string) (string, error)
}

// ThreadDirectory maps threads to their provider conversations.
type ThreadDirectory interface {
	GetThread(ctx context.Context, threadID string) (*metadata.ThreadRecord, error)
	UpsertThread(ctx context.Context, rec *metadata.ThreadRecord) error
}

// MessageHandler runs messages through the provider and returns rewritten
// output.
type MessageHandler struct {
	runs     RunExecutor
	rewriter ReferenceRewriter
	threads  ThreadDirectory
	logger   log.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(runs RunExecutor, rewriter ReferenceRewriter, threads ThreadDirectory, logger log.Logger) *MessageHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &MessageHandler{runs: runs, rewriter: rewriter, threads: threads, logger: logger}
}

// RegisterRoutes registers message routes on the given mux.
func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/messages", h.send)
}

// MessageRequest is the POST /api/messages request body.
type MessageRequest struct {
	ThreadID         string `json:"thread_id,omitempty"`
	Input            string `json:"input"`
	Augmentation     string `json:"augmentation,omitempty"`
	Instructions     string `json:"instructions,omitempty"`
	StructuredOutput bool   `json:"structured_output,omitempty"`
}

// MessageFile is one file reference in a message response.
type MessageFile struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

// MessageResponse is the POST /api/messages response body.
type MessageResponse struct {
	ThreadID string        `json:"thread_id"`
	RunID    string        `json:"run_id"`
	Text     string        `json:"text"`
	Files    []MessageFile `json:"files,omitempty"`
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	conversationID := ""
	thread, err := h.threads.GetThread(r.Context(), threadID)
	switch {
	case err == nil:
		conversationID = thread.ConversationID
	case errors.Is(err, metadata.ErrNotFound):
	default:
		h.logger.Error("thread lookup failed", "thread_id", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage_error", "thread lookup failed")
		return
	}

	res, err := h.runs.Execute(r.Context(), run.ExecuteInput{
		ConversationID:   conversationID,
		Input:            req.Input,
		Augmentation:     req.Augmentation,
		Instructions:     req.Instructions,
		StructuredOutput: req.StructuredOutput,
	})
	if err != nil {
		// Keep a conversation allocated before the failure so a retry on
		// this thread resumes it.
		if id := fault.ConversationID(err); id != "" && id != conversationID {
			h.recordThread(r.Context(), threadID, id, req.Input)
		}
		h.writeRunError(w, err)
		return
	}

	if res.ConversationID != conversationID {
		h.recordThread(r.Context(), threadID, res.ConversationID, req.Input)
	}

	text, err := h.rewriter.Resolve(r.Context(), res.Text, threadID, res.RunID)
	if err != nil {
		h.logger.Error("reference rewrite failed", "thread_id", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, "rewrite_error", "output rewriting failed")
		return
	}

	resp := MessageResponse{
		ThreadID: threadID,
		RunID:    res.RunID,
		Text:     text,
	}
	for _, f := range res.Files {
		resp.Files = append(resp.Files, MessageFile{FileID: f.FileID, Filename: f.Filename})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) recordThread(ctx context.Context, threadID, conversationID, title string) {
	const maxTitle = 80
	if runes := []rune(title); len(runes) > maxTitle {
		title = string(runes[:maxTitle])
	}
	err := h.threads.UpsertThread(ctx, &metadata.ThreadRecord{
		ID:             threadID,
		ConversationID: conversationID,
		Title:          title,
	})
	if err != nil {
		h.logger.Warn("recording thread failed", "thread_id", threadID, "error", err)
	}
}

func (h *MessageHandler) writeRunError(w http.ResponseWriter, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case fault.KindRemoteTerminal:
		writeError(w, http.StatusUnprocessableEntity, "run_failed", err.Error())
	case fault.KindTimeout:
		writeError(w, http.StatusGatewayTimeout, "run_timeout", "run did not finish within the polling budget")
	default:
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}
