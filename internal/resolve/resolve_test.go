package resolve_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
	"github.com/kestrelhq/kestrel/internal/resolve"
	"github.com/kestrelhq/kestrel/internal/testutil"
)

func newResolver() (*resolve.Resolver, *testutil.FakeMetadataStore) {
	meta := testutil.NewFakeMetadataStore()
	mgr := artifact.NewManager(testutil.NewFakeFileStore(), testutil.NewFakeBlobStore(), meta, log.NewNop())
	return resolve.New(meta, mgr, log.NewNop()), meta
}

func TestResolveMarkdownLink(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()
	raw := "see [report](sandbox://mnt/data/report.csv)"

	out, err := r.Resolve(context.Background(), raw, "T2", "msg-1")
	require.NoError(t, err)

	assert.NotContains(t, out, "sandbox:")
	assert.Contains(t, out, "[report](/files/")
	require.Len(t, meta.Records, 1)
	for _, rec := range meta.Records {
		assert.Equal(t, "report.csv", rec.Filename)
		assert.Equal(t, "sandbox://mnt/data/report.csv", rec.TransientLocator)
		assert.Nil(t, rec.StoredAt)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()
	raw := "see [report](sandbox://mnt/data/report.csv)"

	first, err := r.Resolve(context.Background(), raw, "T2", "msg-1")
	require.NoError(t, err)
	require.Len(t, meta.Records, 1)

	// Resolving the identical raw text again reuses the artifact.
	second, err := r.Resolve(context.Background(), raw, "T2", "msg-2")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, meta.Records, 1)

	// Resolving already-rewritten text changes nothing.
	third, err := r.Resolve(context.Background(), first, "T2", "msg-3")
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Len(t, meta.Records, 1)
}

func TestResolveBareLocator(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()

	out, err := r.Resolve(context.Background(), "saved to sandbox:/mnt/data/chart.png done", "T1", "msg-1")
	require.NoError(t, err)

	assert.NotContains(t, out, "sandbox:")
	assert.Contains(t, out, "/files/")
	assert.Contains(t, out, " done")
	require.Len(t, meta.Records, 1)
}

func TestResolveDeduplicatesWithinPass(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()
	raw := "first sandbox:/mnt/data/a.txt then sandbox:/mnt/data/a.txt again"

	out, err := r.Resolve(context.Background(), raw, "T1", "msg-1")
	require.NoError(t, err)

	assert.NotContains(t, out, "sandbox:")
	assert.Len(t, meta.Records, 1)
}

func TestResolveReusesExistingArtifactByFilename(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()

	// An artifact for (thread, filename) already exists with a stored blob
	// URL but no recorded locator.
	require.NoError(t, meta.UpsertArtifact(context.Background(), &metadata.ArtifactRecord{
		ThreadID: "T1",
		Filename: "report.csv",
		BlobURL:  "https://blobs.test/artifacts/threads/T1/report.csv",
	}))

	out, err := r.Resolve(context.Background(), "see sandbox:/mnt/data/report.csv", "T1", "msg-1")
	require.NoError(t, err)

	assert.Contains(t, out, "https://blobs.test/artifacts/threads/T1/report.csv")
	assert.Len(t, meta.Records, 1)
}

func TestResolveHandlesPrefixLocators(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()
	raw := "sandbox:/mnt/data/a.txt and sandbox:/mnt/data/a.txt.bak"

	out, err := r.Resolve(context.Background(), raw, "T1", "msg-1")
	require.NoError(t, err)

	assert.NotContains(t, out, "sandbox:")
	assert.NotContains(t, out, ".bak.bak")
	assert.Len(t, meta.Records, 2)
}

func TestResolveStripsCitations(t *testing.T) {
	t.Parallel()

	r, _ := newResolver()

	out, err := r.Resolve(context.Background(), "the answer【12†source】 is 42【13†notes】.", "T1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42.", out)
}

func TestResolveDropsUnusableLocators(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()

	out, err := r.Resolve(context.Background(), "broken sandbox:// reference", "T1", "msg-1")
	require.NoError(t, err)

	assert.Equal(t, "broken  reference", out)
	assert.Empty(t, meta.Records)
}

func TestResolveLeavesPlainTextAlone(t *testing.T) {
	t.Parallel()

	r, meta := newResolver()

	out, err := r.Resolve(context.Background(), "nothing to rewrite here", "T1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "nothing to rewrite here", out)
	assert.Empty(t, meta.Records)
}

func TestResolveRequiresThread(t *testing.T) {
	t.Parallel()

	r, _ := newResolver()

	_, err := r.Resolve(context.Background(), "text", "", "msg-1")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}
