package artifact

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/metadata"
)

// Artifact represents a file produced by an assistant run or uploaded by a
// user, after it has been registered across the three stores.
//
// Each artifact is identified by (ThreadID, Filename). Filename must be
// unique within a thread; registering the same pair again replaces the
// earlier record.
//
// Zero values:
//   - ID: uuid.Nil (invalid, generated on create)
//   - ThreadID: "" (invalid, required)
//   - Filename: "" (invalid, required)
//   - ContentType: "" (served as application/octet-stream)
//   - ExternalFileID: "" (no provider-side copy)
//   - TransientLocator: "" (not produced by a sandbox run)
//   - StoredAt: nil (placeholder, bytes not yet in the blob store)
type Artifact struct {
	ID               uuid.UUID
	ThreadID         string
	Filename         string
	ContentType      string
	ByteSize         int64
	ExternalFileID   string
	BlobPath         string
	BlobURL          string
	TransientLocator string
	StoredAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Placeholder reports whether the artifact's bytes have not yet been copied
// into the blob store.
func (a *Artifact) Placeholder() bool {
	return a.StoredAt == nil
}

func fromRecord(rec *metadata.ArtifactRecord) *Artifact {
	return &Artifact{
		ID:               rec.ID,
		ThreadID:         rec.ThreadID,
		Filename:         rec.Filename,
		ContentType:      rec.ContentType,
		ByteSize:         rec.ByteSize,
		ExternalFileID:   rec.ExternalFileID,
		BlobPath:         rec.BlobPath,
		BlobURL:          rec.BlobURL,
		TransientLocator: rec.TransientLocator,
		StoredAt:         rec.StoredAt,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

// ObjectPath returns the blob store object name for an artifact.
// Objects are grouped by thread so a thread's files can be listed
// and reaped together.
func ObjectPath(threadID, filename string) string {
	return "threads/" + threadID + "/" + filename
}

// DurableURL returns the stable URL handed to readers for an artifact whose
// bytes are not yet in the blob store. It resolves through the metadata
// record, so it stays valid after materialization.
func DurableURL(id uuid.UUID) string {
	return "/files/" + id.String()
}
