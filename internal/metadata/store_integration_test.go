//go:build integration

package metadata_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
	"github.com/kestrelhq/kestrel/internal/testutil"
)

func setupStore(t *testing.T) *metadata.Store {
	t.Helper()

	tdb, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := metadata.New(tdb.Pool, log.NewNop())
	require.NoError(t, err)
	return store
}

func storedRecord(threadID, filename string) *metadata.ArtifactRecord {
	now := time.Now().UTC()
	return &metadata.ArtifactRecord{
		ThreadID:       threadID,
		Filename:       filename,
		ContentType:    "text/plain",
		ByteSize:       5,
		ExternalFileID: "file-1",
		BlobPath:       "threads/" + threadID + "/" + filename,
		BlobURL:        "https://blobs.test/threads/" + threadID + "/" + filename,
		StoredAt:       &now,
	}
}

func TestUpsertArtifactAssignsIdentity(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	rec := storedRecord("T1", "a.txt")
	require.NoError(t, store.UpsertArtifact(ctx, rec))

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	found, err := store.FindArtifactByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", found.Filename)
	assert.NotNil(t, found.StoredAt)
}

func TestUpsertArtifactReplacesOnNaturalKey(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	first := storedRecord("T1", "a.txt")
	require.NoError(t, store.UpsertArtifact(ctx, first))

	second := storedRecord("T1", "a.txt")
	second.ByteSize = 99
	require.NoError(t, store.UpsertArtifact(ctx, second))

	// Same natural key keeps the original row identity.
	assert.Equal(t, first.ID, second.ID)

	found, err := store.FindArtifactByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99), found.ByteSize)

	all, err := store.ListArtifactsByThread(ctx, "T1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFindArtifactByLocator(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	rec := storedRecord("T1", "chart.png")
	rec.TransientLocator = "sandbox:/mnt/data/chart.png"
	rec.StoredAt = nil
	require.NoError(t, store.UpsertArtifact(ctx, rec))

	found, err := store.FindArtifactByLocator(ctx, "sandbox:/mnt/data/chart.png")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)
	assert.True(t, found.Placeholder())

	missing, err := store.FindArtifactByLocator(ctx, "sandbox:/mnt/data/other.png")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindArtifactByThreadAndFilename(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertArtifact(ctx, storedRecord("T1", "a.txt")))

	found, err := store.FindArtifactByThreadAndFilename(ctx, "T1", "a.txt")
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := store.FindArtifactByThreadAndFilename(ctx, "T2", "a.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteArtifactIsIdempotent(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	rec := storedRecord("T1", "a.txt")
	require.NoError(t, store.UpsertArtifact(ctx, rec))

	require.NoError(t, store.DeleteArtifact(ctx, rec.ID))
	require.NoError(t, store.DeleteArtifact(ctx, rec.ID))

	_, err := store.FindArtifactByID(ctx, rec.ID)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestListPlaceholdersOlderThan(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	placeholder := storedRecord("T1", "pending.txt")
	placeholder.StoredAt = nil
	require.NoError(t, store.UpsertArtifact(ctx, placeholder))
	require.NoError(t, store.UpsertArtifact(ctx, storedRecord("T1", "done.txt")))

	stale, err := store.ListPlaceholdersOlderThan(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "pending.txt", stale[0].Filename)

	none, err := store.ListPlaceholdersOlderThan(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestThreadLifecycle(t *testing.T) {
	t.Parallel()

	store := setupStore(t)
	ctx := context.Background()

	thread := &metadata.ThreadRecord{
		ID:             "T1",
		ConversationID: "conv-1",
		Title:          "first question",
	}
	require.NoError(t, store.UpsertThread(ctx, thread))
	assert.False(t, thread.CreatedAt.IsZero())

	// Re-upserting updates in place.
	thread.Title = "renamed"
	require.NoError(t, store.UpsertThread(ctx, thread))

	found, err := store.GetThread(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", found.Title)
	assert.Equal(t, "conv-1", found.ConversationID)

	// Deleting a thread removes its artifact rows too.
	require.NoError(t, store.UpsertArtifact(ctx, storedRecord("T1", "a.txt")))
	require.NoError(t, store.DeleteThread(ctx, "T1"))

	_, err = store.GetThread(ctx, "T1")
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	arts, err := store.ListArtifactsByThread(ctx, "T1", 10)
	require.NoError(t, err)
	assert.Empty(t, arts)
}
