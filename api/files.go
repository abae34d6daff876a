package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
)

// ArtifactSource is the artifact manager surface the files handler consumes.
type ArtifactSource interface {
	Get(ctx context.Context, id uuid.UUID) (*artifact.Artifact, error)
	Materialize(ctx context.Context, id uuid.UUID) (*artifact.Artifact, error)
}

// FilesHandler resolves durable artifact URLs.
//
// Text rewritten by the resolver points readers at /files/{id}. For stored
// artifacts the handler redirects to the blob URL. A placeholder whose bytes
// are still on the provider side is materialized on first access, so a
// durable URL works the moment it is handed out.
type FilesHandler struct {
	artifacts ArtifactSource
	logger    log.Logger
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(artifacts ArtifactSource, logger log.Logger) *FilesHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &FilesHandler{artifacts: artifacts, logger: logger}
}

// RegisterRoutes registers file routes on the given mux.
func (h *FilesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /files/{id}", h.resolve)
}

func (h *FilesHandler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "artifact id must be a UUID")
		return
	}

	art, err := h.artifacts.Get(r.Context(), id)
	if err != nil {
		h.writeFault(w, id, err)
		return
	}

	if art.Placeholder() {
		art, err = h.artifacts.Materialize(r.Context(), id)
		if err != nil {
			h.writeFault(w, id, err)
			return
		}
	}

	http.Redirect(w, r, art.BlobURL, http.StatusTemporaryRedirect)
}

func (h *FilesHandler) writeFault(w http.ResponseWriter, id uuid.UUID, err error) {
	switch fault.KindOf(err) {
	case fault.KindRemoteTerminal:
		writeError(w, http.StatusNotFound, "not_found", "artifact does not exist or its bytes are gone")
	case fault.KindValidation:
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error("artifact resolution failed", "artifact_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "artifact temporarily unavailable")
	}
}
