// Package metadata persists artifact and thread records in PostgreSQL.
//
// This is the authoritative index readers see: an artifact is only
// discoverable once its row exists, and stops being discoverable the moment
// the row is deleted. The lifecycle manager relies on that ordering:
// metadata is written last on create and removed first on delete.
//
// Uniqueness is enforced by natural-key upserts (transient locator, or
// thread + filename), not application locks. Two concurrent writers may
// race; the last write wins and duplicates upstream are tolerated.
package metadata

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by by-ID lookups when no record exists.
// Dedupe probes (FindArtifactBy*) return (nil, nil) instead.
var ErrNotFound = errors.New("metadata: record not found")

// ArtifactRecord is the relational row describing an artifact across the
// three stores.
type ArtifactRecord struct {
	ID               uuid.UUID
	ThreadID         string
	Filename         string
	ContentType      string
	ByteSize         int64
	ExternalFileID   string // provider file id; empty for unmaterialized placeholders
	BlobPath         string // object key in the blob store
	BlobURL          string // durable URL handed to readers
	TransientLocator string // provider-private locator the artifact was discovered under, if any

	// StoredAt is when the artifact's bytes landed in the blob store.
	// Nil for placeholder rows whose byte transfer is still deferred.
	StoredAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Placeholder reports whether the record's byte transfer is still pending.
func (r *ArtifactRecord) Placeholder() bool {
	return r.StoredAt == nil
}

// ThreadRecord binds a user-facing thread to its provider conversation.
type ThreadRecord struct {
	ID             string
	ConversationID string
	Title          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
