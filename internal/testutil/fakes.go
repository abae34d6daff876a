package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/metadata"
	"github.com/kestrelhq/kestrel/internal/provider"
)

// FakeFileStore is an in-memory stand-in for the provider file API.
// Error fields, when set, are returned by the corresponding method.
type FakeFileStore struct {
	mu      sync.Mutex
	nextID  int
	Files   map[string][]byte
	Uploads int
	Deletes int

	UploadErr   error
	DownloadErr error
	DeleteErr   error
}

func NewFakeFileStore() *FakeFileStore {
	return &FakeFileStore{Files: make(map[string][]byte)}
}

func (f *FakeFileStore) UploadFile(_ context.Context, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads++
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	f.nextID++
	id := fmt.Sprintf("file-%d", f.nextID)
	f.Files[id] = append([]byte(nil), data...)
	return id, nil
}

func (f *FakeFileStore) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DownloadErr != nil {
		return nil, f.DownloadErr
	}
	data, ok := f.Files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeFileStore) DeleteFile(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Files, fileID)
	return nil
}

// FakeBlobStore is an in-memory stand-in for the durable object store.
type FakeBlobStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	BaseURL string
	Deletes int

	PutErr    error
	DeleteErr error
}

func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{
		Objects: make(map[string][]byte),
		BaseURL: "https://blobs.test/artifacts",
	}
}

func (f *FakeBlobStore) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PutErr != nil {
		return "", f.PutErr
	}
	f.Objects[path] = append([]byte(nil), data...)
	return f.BaseURL + "/" + path, nil
}

func (f *FakeBlobStore) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Objects, path)
	return nil
}

// FakeMetadataStore is an in-memory stand-in for the relational store.
// It mirrors the upsert semantics of metadata.Store: rows are keyed by
// (thread id, filename), and upserting an existing key keeps the original
// id and creation time.
type FakeMetadataStore struct {
	mu      sync.Mutex
	Records map[uuid.UUID]*metadata.ArtifactRecord
	Threads map[string]*metadata.ThreadRecord

	UpsertErr error
	FindErr   error
	DeleteErr error
}

func NewFakeMetadataStore() *FakeMetadataStore {
	return &FakeMetadataStore{
		Records: make(map[uuid.UUID]*metadata.ArtifactRecord),
		Threads: make(map[string]*metadata.ThreadRecord),
	}
}

func (f *FakeMetadataStore) UpsertArtifact(_ context.Context, rec *metadata.ArtifactRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	now := time.Now().UTC()
	for _, existing := range f.Records {
		if existing.ThreadID == rec.ThreadID && existing.Filename == rec.Filename {
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
			rec.UpdatedAt = now
			f.Records[rec.ID] = cloneRecord(rec)
			return nil
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	f.Records[rec.ID] = cloneRecord(rec)
	return nil
}

func (f *FakeMetadataStore) FindArtifactByID(_ context.Context, id uuid.UUID) (*metadata.ArtifactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	rec, ok := f.Records[id]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (f *FakeMetadataStore) FindArtifactByLocator(_ context.Context, locator string) (*metadata.ArtifactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	for _, rec := range f.Records {
		if rec.TransientLocator == locator {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (f *FakeMetadataStore) FindArtifactByThreadAndFilename(_ context.Context, threadID, filename string) (*metadata.ArtifactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	for _, rec := range f.Records {
		if rec.ThreadID == threadID && rec.Filename == filename {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (f *FakeMetadataStore) DeleteArtifact(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Records, id)
	return nil
}

func (f *FakeMetadataStore) ListPlaceholdersOlderThan(_ context.Context, cutoff time.Time, limit int32) ([]*metadata.ArtifactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	var out []*metadata.ArtifactRecord
	for _, rec := range f.Records {
		if rec.StoredAt == nil && rec.CreatedAt.Before(cutoff) {
			out = append(out, cloneRecord(rec))
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *FakeMetadataStore) UpsertThread(_ context.Context, rec *metadata.ThreadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	now := time.Now().UTC()
	if existing, ok := f.Threads[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	cp := *rec
	f.Threads[rec.ID] = &cp
	return nil
}

func (f *FakeMetadataStore) GetThread(_ context.Context, threadID string) (*metadata.ThreadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	rec, ok := f.Threads[threadID]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *FakeMetadataStore) DeleteThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	for id, rec := range f.Records {
		if rec.ThreadID == threadID {
			delete(f.Records, id)
		}
	}
	delete(f.Threads, threadID)
	return nil
}

func cloneRecord(rec *metadata.ArtifactRecord) *metadata.ArtifactRecord {
	cp := *rec
	if rec.StoredAt != nil {
		t := *rec.StoredAt
		cp.StoredAt = &t
	}
	return &cp
}

// FakeConversationAPI is a scriptable stand-in for the provider conversation
// API. GetRun returns Statuses in order, repeating the final entry once the
// script is exhausted.
type FakeConversationAPI struct {
	mu        sync.Mutex
	nextID    int
	Inputs    []string
	Statuses  []provider.RunStatus
	Messages  []provider.Message
	GetCalls  int
	StartOpts []provider.RunOptions

	CreateErr  error
	AppendErr  error
	StartErr   error
	GetErr     error
	GetErrOnce error
	ListErr    error
	RunFailure string
}

func NewFakeConversationAPI() *FakeConversationAPI {
	return &FakeConversationAPI{}
}

func (f *FakeConversationAPI) CreateConversation(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	return fmt.Sprintf("conv-%d", f.nextID), nil
}

func (f *FakeConversationAPI) AppendInput(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AppendErr != nil {
		return f.AppendErr
	}
	f.Inputs = append(f.Inputs, text)
	return nil
}

func (f *FakeConversationAPI) StartRun(_ context.Context, conversationID string, opts provider.RunOptions) (*provider.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	f.StartOpts = append(f.StartOpts, opts)
	return &provider.Run{
		ID:             "run-1",
		ConversationID: conversationID,
		Status:         provider.RunQueued,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (f *FakeConversationAPI) GetRun(_ context.Context, conversationID, runID string) (*provider.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErrOnce != nil {
		err := f.GetErrOnce
		f.GetErrOnce = nil
		f.GetCalls++
		return nil, err
	}
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	idx := f.GetCalls
	f.GetCalls++
	if idx >= len(f.Statuses) {
		idx = len(f.Statuses) - 1
	}
	status := provider.RunInProgress
	if len(f.Statuses) > 0 {
		status = f.Statuses[idx]
	}
	return &provider.Run{
		ID:             runID,
		ConversationID: conversationID,
		Status:         status,
		FailureReason:  f.RunFailure,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (f *FakeConversationAPI) ListOutput(_ context.Context, _ string) ([]provider.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]provider.Message(nil), f.Messages...), nil
}
