package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// artifactCols is the standard SELECT column list for scanArtifact.
const artifactCols = `id, thread_id, filename, content_type, byte_size,
	external_file_id, blob_path, blob_url, transient_locator,
	stored_at, created_at, updated_at`

// upsertArtifactSQL inserts a record or, when the (thread_id, filename)
// natural key already exists, replaces the row's store identifiers.
// Last write wins under concurrent resolution of the same file.
const upsertArtifactSQL = `INSERT INTO artifacts
	(id, thread_id, filename, content_type, byte_size,
	 external_file_id, blob_path, blob_url, transient_locator, stored_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (thread_id, filename) DO UPDATE SET
		content_type = EXCLUDED.content_type,
		byte_size = EXCLUDED.byte_size,
		external_file_id = EXCLUDED.external_file_id,
		blob_path = EXCLUDED.blob_path,
		blob_url = EXCLUDED.blob_url,
		transient_locator = EXCLUDED.transient_locator,
		stored_at = EXCLUDED.stored_at,
		updated_at = now()
	RETURNING ` + artifactCols

// Store manages artifact and thread persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: pool, logger: logger}, nil
}

// UpsertArtifact writes the record, generating an id when absent, and
// refreshes the struct from the stored row (timestamps, surviving id under
// a natural-key conflict).
func (s *Store) UpsertArtifact(ctx context.Context, rec *ArtifactRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	row := s.db.QueryRow(ctx, upsertArtifactSQL,
		rec.ID, rec.ThreadID, rec.Filename, rec.ContentType, rec.ByteSize,
		nullable(rec.ExternalFileID), rec.BlobPath, rec.BlobURL,
		nullable(rec.TransientLocator), rec.StoredAt)

	stored, err := scanArtifact(row)
	if err != nil {
		return fmt.Errorf("upsert artifact %s/%s: %w", rec.ThreadID, rec.Filename, err)
	}
	*rec = *stored

	s.logger.Debug("upserted artifact",
		"id", rec.ID,
		"thread_id", rec.ThreadID,
		"filename", rec.Filename)
	return nil
}

// FindArtifactByLocator looks up an artifact by its transient locator.
// Returns (nil, nil) when no record matches.
func (s *Store) FindArtifactByLocator(ctx context.Context, locator string) (*ArtifactRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+artifactCols+` FROM artifacts WHERE transient_locator = $1`, locator)
	rec, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find artifact by locator: %w", err)
	}
	return rec, nil
}

// FindArtifactByThreadAndFilename looks up an artifact by its natural key.
// Returns (nil, nil) when no record matches.
func (s *Store) FindArtifactByThreadAndFilename(ctx context.Context, threadID, filename string) (*ArtifactRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+artifactCols+` FROM artifacts WHERE thread_id = $1 AND filename = $2`,
		threadID, filename)
	rec, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find artifact %s/%s: %w", threadID, filename, err)
	}
	return rec, nil
}

// FindArtifactByID retrieves a record by primary key.
// Returns ErrNotFound when the record does not exist.
func (s *Store) FindArtifactByID(ctx context.Context, id uuid.UUID) (*ArtifactRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+artifactCols+` FROM artifacts WHERE id = $1`, id)
	rec, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find artifact %s: %w", id, err)
	}
	return rec, nil
}

// DeleteArtifact removes the record. Deleting a missing record succeeds;
// delete is the first step of teardown and must be idempotent.
func (s *Store) DeleteArtifact(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("artifact already absent", "id", id)
		return nil
	}
	s.logger.Debug("deleted artifact", "id", id)
	return nil
}

// ListArtifactsByThread returns a thread's artifacts, newest first.
func (s *Store) ListArtifactsByThread(ctx context.Context, threadID string, limit int32) ([]*ArtifactRecord, error) {
	const maxListLimit = 1000
	if limit <= 0 || limit > maxListLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxListLimit, limit)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+artifactCols+` FROM artifacts
		 WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	return collectArtifacts(rows)
}

// ListPlaceholdersOlderThan returns unmaterialized records created before
// the cutoff. Used by the orphan sweep.
func (s *Store) ListPlaceholdersOlderThan(ctx context.Context, cutoff time.Time, limit int32) ([]*ArtifactRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+artifactCols+` FROM artifacts
		 WHERE stored_at IS NULL AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list placeholder artifacts: %w", err)
	}
	defer rows.Close()

	return collectArtifacts(rows)
}

// UpsertThread records the provider conversation backing a thread.
func (s *Store) UpsertThread(ctx context.Context, rec *ThreadRecord) error {
	row := s.db.QueryRow(ctx,
		`INSERT INTO threads (id, conversation_id, title)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE threads.title END,
			updated_at = now()
		 RETURNING created_at, updated_at`,
		rec.ID, rec.ConversationID, rec.Title)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert thread %s: %w", rec.ID, err)
	}

	s.logger.Debug("upserted thread", "id", rec.ID, "conversation_id", rec.ConversationID)
	return nil
}

// GetThread retrieves a thread record. Returns ErrNotFound when absent.
func (s *Store) GetThread(ctx context.Context, threadID string) (*ThreadRecord, error) {
	var rec ThreadRecord
	err := s.db.QueryRow(ctx,
		`SELECT id, conversation_id, title, created_at, updated_at
		 FROM threads WHERE id = $1`, threadID).
		Scan(&rec.ID, &rec.ConversationID, &rec.Title, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", threadID, err)
	}
	return &rec, nil
}

// DeleteThread removes a thread row along with its artifact rows.
// Deleting a missing thread succeeds.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM artifacts WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete thread artifacts %s: %w", threadID, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM threads WHERE id = $1`, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// scanArtifact reads one artifact row in artifactCols order.
func scanArtifact(row pgx.Row) (*ArtifactRecord, error) {
	var (
		rec            ArtifactRecord
		externalFileID *string
		locator        *string
	)
	err := row.Scan(
		&rec.ID, &rec.ThreadID, &rec.Filename, &rec.ContentType, &rec.ByteSize,
		&externalFileID, &rec.BlobPath, &rec.BlobURL, &locator,
		&rec.StoredAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if externalFileID != nil {
		rec.ExternalFileID = *externalFileID
	}
	if locator != nil {
		rec.TransientLocator = *locator
	}
	return &rec, nil
}

func collectArtifacts(rows pgx.Rows) ([]*ArtifactRecord, error) {
	var recs []*ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact rows: %w", err)
	}
	return recs, nil
}

// nullable maps "" to NULL so partial unique indexes on the column only
// cover populated values.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
