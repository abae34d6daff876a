package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
)

// FileStore is the provider-side file API consumed by the manager.
type FileStore interface {
	UploadFile(ctx context.Context, data []byte, filename string) (string, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// BlobStore is the durable object store consumed by the manager.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// MetadataStore is the relational record store consumed by the manager.
type MetadataStore interface {
	UpsertArtifact(ctx context.Context, rec *metadata.ArtifactRecord) error
	FindArtifactByID(ctx context.Context, id uuid.UUID) (*metadata.ArtifactRecord, error)
	DeleteArtifact(ctx context.Context, id uuid.UUID) error
}

// Manager coordinates artifact state across the provider file API, the blob
// store, and the metadata store. None of the three participate in a shared
// transaction, so every multi-store operation orders its writes to keep the
// metadata record authoritative: it is written last on create and removed
// first on delete. A record therefore never points at bytes that were not
// written, and orphaned bytes are reclaimed by the sweeper rather than
// blocking the caller.
type Manager struct {
	files  FileStore
	blobs  BlobStore
	meta   MetadataStore
	logger log.Logger
}

// NewManager creates a Manager. logger may be nil.
func NewManager(files FileStore, blobs BlobStore, meta MetadataStore, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{files: files, blobs: blobs, meta: meta, logger: logger}
}

// Create registers a new artifact in all three stores.
//
// Write order is provider upload, blob put, metadata upsert. If a later step
// fails, the earlier writes are compensated with best-effort deletes; a
// compensation failure is attached to the returned error as a
// ConsistencyWarning instead of masking the original failure.
//
// Registering an existing (threadID, filename) pair replaces the previous
// record in place.
func (m *Manager) Create(ctx context.Context, data []byte, filename, contentType, threadID string) (*Artifact, error) {
	const op = "artifact.create"

	if threadID == "" {
		return nil, fault.Validationf(op, "thread id is required")
	}
	if err := ValidateFilename(filename); err != nil {
		return nil, fault.Validationf(op, "filename %q: %v", filename, err)
	}

	fileID, err := m.files.UploadFile(ctx, data, filename)
	if err != nil {
		return nil, fault.Restamp(op, "provider_upload", err)
	}

	objectPath := ObjectPath(threadID, filename)
	blobURL, err := m.blobs.Put(ctx, objectPath, data, contentType)
	if err != nil {
		ferr := fault.Restamp(op, "blob_put", err)
		m.compensateFile(ctx, ferr, fileID)
		return nil, ferr
	}

	now := time.Now().UTC()
	rec := &metadata.ArtifactRecord{
		ThreadID:       threadID,
		Filename:       filename,
		ContentType:    contentType,
		ByteSize:       int64(len(data)),
		ExternalFileID: fileID,
		BlobPath:       objectPath,
		BlobURL:        blobURL,
		StoredAt:       &now,
	}
	if err := m.meta.UpsertArtifact(ctx, rec); err != nil {
		ferr := fault.Restamp(op, "metadata_upsert", err)
		m.compensateBlob(ctx, ferr, objectPath)
		m.compensateFile(ctx, ferr, fileID)
		return nil, ferr
	}

	m.logger.Debug("artifact created",
		"artifact_id", rec.ID,
		"thread_id", threadID,
		"filename", filename,
		"bytes", len(data))
	return fromRecord(rec), nil
}

// CreatePlaceholder registers an artifact whose bytes are still on the
// provider side. The returned artifact carries a durable /files/{id} URL
// that is valid immediately; the bytes are copied later by Materialize or
// reaped by the sweeper if materialization never happens.
func (m *Manager) CreatePlaceholder(ctx context.Context, filename, contentType, threadID, transientLocator, externalFileID string) (*Artifact, error) {
	const op = "artifact.create_placeholder"

	if threadID == "" {
		return nil, fault.Validationf(op, "thread id is required")
	}
	if err := ValidateFilename(filename); err != nil {
		return nil, fault.Validationf(op, "filename %q: %v", filename, err)
	}

	id := uuid.New()
	rec := &metadata.ArtifactRecord{
		ID:               id,
		ThreadID:         threadID,
		Filename:         filename,
		ContentType:      contentType,
		ExternalFileID:   externalFileID,
		BlobPath:         ObjectPath(threadID, filename),
		BlobURL:          DurableURL(id),
		TransientLocator: transientLocator,
	}
	if err := m.meta.UpsertArtifact(ctx, rec); err != nil {
		return nil, fault.Restamp(op, "metadata_upsert", err)
	}

	m.logger.Debug("placeholder registered",
		"artifact_id", rec.ID,
		"thread_id", threadID,
		"filename", filename,
		"locator", transientLocator)
	return fromRecord(rec), nil
}

// Materialize copies a placeholder's bytes from the provider file API into
// the blob store and marks the record as stored. Calling it on an artifact
// that is already stored is a no-op.
func (m *Manager) Materialize(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	const op = "artifact.materialize"

	rec, err := m.meta.FindArtifactByID(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, fault.Terminal(op, "metadata_lookup", ErrNotFound)
		}
		return nil, fault.Restamp(op, "metadata_lookup", err)
	}
	if !rec.Placeholder() {
		return fromRecord(rec), nil
	}
	if rec.ExternalFileID == "" {
		return nil, fault.Terminal(op, "provider_download",
			errors.New("placeholder has no provider file id"))
	}

	data, err := m.files.DownloadFile(ctx, rec.ExternalFileID)
	if err != nil {
		return nil, fault.Restamp(op, "provider_download", err)
	}
	blobURL, err := m.blobs.Put(ctx, rec.BlobPath, data, rec.ContentType)
	if err != nil {
		return nil, fault.Restamp(op, "blob_put", err)
	}

	now := time.Now().UTC()
	rec.ByteSize = int64(len(data))
	rec.BlobURL = blobURL
	rec.StoredAt = &now
	if err := m.meta.UpsertArtifact(ctx, rec); err != nil {
		ferr := fault.Restamp(op, "metadata_upsert", err)
		m.compensateBlob(ctx, ferr, rec.BlobPath)
		return nil, ferr
	}

	m.logger.Debug("placeholder materialized",
		"artifact_id", rec.ID,
		"bytes", len(data))
	return fromRecord(rec), nil
}

// Get returns the artifact with the given id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	const op = "artifact.get"

	rec, err := m.meta.FindArtifactByID(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, fault.Terminal(op, "metadata_lookup", ErrNotFound)
		}
		return nil, fault.Restamp(op, "metadata_lookup", err)
	}
	return fromRecord(rec), nil
}

// Delete removes an artifact from all three stores.
//
// The metadata record is removed first so readers stop resolving the
// artifact immediately. The blob object and provider file are then deleted
// best-effort: once the record is gone, Delete reports success, and any
// bytes that could not be removed are logged for the sweeper.
//
// Deleting an artifact that does not exist is a no-op.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "artifact.delete"

	rec, err := m.meta.FindArtifactByID(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil
		}
		return fault.Restamp(op, "metadata_lookup", err)
	}

	if err := m.meta.DeleteArtifact(ctx, rec.ID); err != nil {
		return fault.Restamp(op, "metadata_delete", err)
	}

	if err := m.blobs.Delete(ctx, rec.BlobPath); err != nil {
		m.logger.Warn("blob delete failed, leaving orphan for sweeper",
			"artifact_id", rec.ID,
			"path", rec.BlobPath,
			"error", err)
	}
	if rec.ExternalFileID != "" {
		if err := m.files.DeleteFile(ctx, rec.ExternalFileID); err != nil {
			m.logger.Warn("provider file delete failed, leaving orphan for sweeper",
				"artifact_id", rec.ID,
				"file_id", rec.ExternalFileID,
				"error", err)
		}
	}

	m.logger.Debug("artifact deleted", "artifact_id", rec.ID)
	return nil
}

func (m *Manager) compensateFile(ctx context.Context, ferr *fault.Error, fileID string) {
	if err := m.files.DeleteFile(ctx, fileID); err != nil {
		ferr.WithWarning("provider", "delete_file", err)
		m.logger.Warn("compensating provider delete failed",
			"file_id", fileID, "error", err)
	}
}

func (m *Manager) compensateBlob(ctx context.Context, ferr *fault.Error, path string) {
	if err := m.blobs.Delete(ctx, path); err != nil {
		ferr.WithWarning("blob", "delete_object", err)
		m.logger.Warn("compensating blob delete failed",
			"path", path, "error", err)
	}
}
