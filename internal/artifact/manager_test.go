package artifact_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/testutil"
)

func newManager() (*artifact.Manager, *testutil.FakeFileStore, *testutil.FakeBlobStore, *testutil.FakeMetadataStore) {
	files := testutil.NewFakeFileStore()
	blobs := testutil.NewFakeBlobStore()
	meta := testutil.NewFakeMetadataStore()
	return artifact.NewManager(files, blobs, meta, log.NewNop()), files, blobs, meta
}

func TestValidateFilename(t *testing.T) {
	t.Parallel()

	valid := []string{"report.md", "data.csv", "a", "file with spaces.txt"}
	for _, name := range valid {
		assert.NoError(t, artifact.ValidateFilename(name), name)
	}

	invalid := []string{"", ".", "..", "a/b.txt", `a\b.txt`, "nul\x00byte", string(make([]byte, 256))}
	for _, name := range invalid {
		assert.ErrorIs(t, artifact.ValidateFilename(name), artifact.ErrInvalidFilename, name)
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	mgr, files, blobs, meta := newManager()

	art, err := mgr.Create(context.Background(), []byte("hello"), "report.md", "text/markdown", "thread-1")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, art.ID)
	assert.Equal(t, "thread-1", art.ThreadID)
	assert.Equal(t, "report.md", art.Filename)
	assert.Equal(t, int64(5), art.ByteSize)
	assert.NotEmpty(t, art.ExternalFileID)
	assert.NotEmpty(t, art.BlobURL)
	assert.False(t, art.Placeholder())

	// Bytes landed in both remote stores and the record points at them.
	assert.Len(t, files.Files, 1)
	assert.Equal(t, []byte("hello"), blobs.Objects["threads/thread-1/report.md"])
	require.Len(t, meta.Records, 1)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	mgr, files, _, _ := newManager()

	_, err := mgr.Create(context.Background(), []byte("x"), "../escape", "text/plain", "thread-1")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = mgr.Create(context.Background(), []byte("x"), "ok.txt", "text/plain", "")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	// Nothing reached the remote stores.
	assert.Zero(t, files.Uploads)
}

func TestCreateReplacesSameThreadAndFilename(t *testing.T) {
	t.Parallel()

	mgr, _, _, meta := newManager()

	first, err := mgr.Create(context.Background(), []byte("v1"), "report.md", "text/markdown", "thread-1")
	require.NoError(t, err)
	second, err := mgr.Create(context.Background(), []byte("v2 longer"), "report.md", "text/markdown", "thread-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(9), second.ByteSize)
	assert.Len(t, meta.Records, 1)
}

func TestCreateCompensatesOnBlobFailure(t *testing.T) {
	t.Parallel()

	mgr, files, blobs, meta := newManager()
	blobs.PutErr = errors.New("bucket unavailable")

	_, err := mgr.Create(context.Background(), []byte("hello"), "report.md", "text/markdown", "thread-1")
	require.Error(t, err)
	assert.Equal(t, fault.KindRemoteTransient, fault.KindOf(err))

	// The provider upload was rolled back and no record was written.
	assert.Empty(t, files.Files)
	assert.Equal(t, 1, files.Deletes)
	assert.Empty(t, meta.Records)
	assert.Empty(t, fault.WarningsOf(err))
}

func TestCreateCompensatesOnMetadataFailure(t *testing.T) {
	t.Parallel()

	mgr, files, blobs, meta := newManager()
	meta.UpsertErr = errors.New("connection reset")

	_, err := mgr.Create(context.Background(), []byte("hello"), "report.md", "text/markdown", "thread-1")
	require.Error(t, err)

	assert.Empty(t, files.Files)
	assert.Empty(t, blobs.Objects)
	assert.Empty(t, meta.Records)
}

func TestCreateReportsFailedCompensation(t *testing.T) {
	t.Parallel()

	mgr, files, _, meta := newManager()
	meta.UpsertErr = errors.New("connection reset")
	files.DeleteErr = errors.New("provider outage")

	_, err := mgr.Create(context.Background(), []byte("hello"), "report.md", "text/markdown", "thread-1")
	require.Error(t, err)

	// The original failure is reported, with the stuck provider file
	// surfaced as a consistency warning rather than a second error.
	assert.Equal(t, fault.KindRemoteTransient, fault.KindOf(err))
	warnings := fault.WarningsOf(err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "provider", warnings[0].Store)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestDelete(t *testing.T) {
	t.Parallel()

	mgr, files, blobs, meta := newManager()
	art, err := mgr.Create(context.Background(), []byte("hello"), "report.md", "text/markdown", "thread-1")
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(context.Background(), art.ID))
	assert.Empty(t, meta.Records)
	assert.Empty(t, blobs.Objects)
	assert.Empty(t, files.Files)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	t.Parallel()

	mgr, _, _, _ := newManager()
	assert.NoError(t, mgr.Delete(context.Background(), uuid.New()))
}

func TestDeleteSucceedsWhenRemoteCleanupFails(t *testing.T) {
	t.Parallel()

	mgr, files, blobs, meta := newManager()
	art, err := mgr.Create(context.Background(), []byte("hello"), "report.md", "text/markdown", "thread-1")
	require.NoError(t, err)

	blobs.DeleteErr = errors.New("bucket unavailable")
	files.DeleteErr = errors.New("provider outage")

	// Once the metadata record is gone the delete is a success; the
	// orphaned bytes are the sweeper's problem.
	require.NoError(t, mgr.Delete(context.Background(), art.ID))
	assert.Empty(t, meta.Records)
	assert.NotEmpty(t, blobs.Objects)
}

func TestCreatePlaceholder(t *testing.T) {
	t.Parallel()

	mgr, _, blobs, _ := newManager()

	art, err := mgr.CreatePlaceholder(context.Background(), "chart.png", "image/png", "thread-1", "sandbox:/mnt/data/chart.png", "file-9")
	require.NoError(t, err)

	assert.True(t, art.Placeholder())
	assert.Equal(t, "/files/"+art.ID.String(), art.BlobURL)
	assert.Equal(t, "sandbox:/mnt/data/chart.png", art.TransientLocator)
	assert.Empty(t, blobs.Objects)
}

func TestMaterialize(t *testing.T) {
	t.Parallel()

	mgr, files, blobs, _ := newManager()

	fileID, err := files.UploadFile(context.Background(), []byte("png-bytes"), "chart.png")
	require.NoError(t, err)

	art, err := mgr.CreatePlaceholder(context.Background(), "chart.png", "image/png", "thread-1", "sandbox:/mnt/data/chart.png", fileID)
	require.NoError(t, err)

	stored, err := mgr.Materialize(context.Background(), art.ID)
	require.NoError(t, err)

	assert.False(t, stored.Placeholder())
	assert.Equal(t, int64(9), stored.ByteSize)
	assert.Equal(t, []byte("png-bytes"), blobs.Objects["threads/thread-1/chart.png"])
	assert.NotEqual(t, art.BlobURL, stored.BlobURL)

	// Materializing again is a no-op.
	again, err := mgr.Materialize(context.Background(), art.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ByteSize, again.ByteSize)
}

func TestMaterializeWithoutProviderFile(t *testing.T) {
	t.Parallel()

	mgr, _, _, _ := newManager()

	art, err := mgr.CreatePlaceholder(context.Background(), "chart.png", "image/png", "thread-1", "sandbox:/mnt/data/chart.png", "")
	require.NoError(t, err)

	_, err = mgr.Materialize(context.Background(), art.ID)
	require.Error(t, err)
	assert.Equal(t, fault.KindRemoteTerminal, fault.KindOf(err))
}
