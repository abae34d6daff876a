package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/api"
	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/testutil"
)

type filesHarness struct {
	mux   *http.ServeMux
	files *testutil.FakeFileStore
	blobs *testutil.FakeBlobStore
	mgr   *artifact.Manager
}

func newFilesHarness() *filesHarness {
	files := testutil.NewFakeFileStore()
	blobs := testutil.NewFakeBlobStore()
	meta := testutil.NewFakeMetadataStore()
	mgr := artifact.NewManager(files, blobs, meta, log.NewNop())

	mux := http.NewServeMux()
	api.NewFilesHandler(mgr, log.NewNop()).RegisterRoutes(mux)
	return &filesHarness{mux: mux, files: files, blobs: blobs, mgr: mgr}
}

func (h *filesHarness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestFilesRedirectsToBlobURL(t *testing.T) {
	t.Parallel()

	h := newFilesHarness()
	art, err := h.mgr.Create(context.Background(), []byte("hello"), "a.txt", "text/plain", "T1")
	require.NoError(t, err)

	rec := h.get(t, "/files/"+art.ID.String())
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, art.BlobURL, rec.Header().Get("Location"))
}

func TestFilesMaterializesPlaceholderOnAccess(t *testing.T) {
	t.Parallel()

	h := newFilesHarness()
	fileID, err := h.files.UploadFile(context.Background(), []byte("png"), "chart.png")
	require.NoError(t, err)
	art, err := h.mgr.CreatePlaceholder(context.Background(), "chart.png", "image/png", "T1", "sandbox:/mnt/data/chart.png", fileID)
	require.NoError(t, err)

	rec := h.get(t, "/files/"+art.ID.String())
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	// The redirect goes to the freshly stored blob, not back to /files/{id}.
	location := rec.Header().Get("Location")
	assert.NotEqual(t, art.BlobURL, location)
	assert.Contains(t, location, "threads/T1/chart.png")
	assert.Equal(t, []byte("png"), h.blobs.Objects["threads/T1/chart.png"])
}

func TestFilesUnknownArtifact(t *testing.T) {
	t.Parallel()

	h := newFilesHarness()
	rec := h.get(t, "/files/1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFilesInvalidID(t *testing.T) {
	t.Parallel()

	h := newFilesHarness()
	rec := h.get(t, "/files/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
