package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudgate/cloudgate/internal/catalog"
	"github.com/cloudgate/cloudgate/internal/crypto"
	"github.com/cloudgate/cloudgate/internal/metrics"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
	"github.com/cloudgate/cloudgate/pkg/retry"
)

type fakeProvider struct {
	mu        sync.Mutex
	name      string
	uploadErr error
	failTimes int
	uploads   []string
	deletes   []string
	objects   map[string][]byte
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, objects: make(map[string][]byte)}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Upload(ctx context.Context, content []byte, name, folder string) (*provider.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTimes > 0 {
		f.failTimes--
		return nil, gwerrors.NewProvider(f.name, "upload", errors.New("transient failure"))
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	key := provider.RemotePath(folder, name)
	f.uploads = append(f.uploads, key)
	f.objects[key] = content
	return &provider.UploadResult{
		URL:         "https://" + f.name + ".example/" + key,
		StorageName: name,
	}, nil
}

func (f *fakeProvider) List(ctx context.Context, folder string) ([]provider.FileListItem, error) {
	return nil, nil
}

func (f *fakeProvider) Download(ctx context.Context, fileID, folder string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := provider.RemotePath(folder, fileID)
	data, ok := f.objects[key]
	if !ok {
		return nil, gwerrors.NewNotFound(f.name, key)
	}
	return data, nil
}

func (f *fakeProvider) Delete(ctx context.Context, fileID, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := provider.RemotePath(folder, fileID)
	f.deletes = append(f.deletes, key)
	if _, ok := f.objects[key]; !ok {
		return gwerrors.NewNotFound(f.name, key)
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeProvider) DeleteFolder(ctx context.Context, folder string) error { return nil }

func (f *fakeProvider) Credentials() map[string]string {
	return map[string]string{"TOKEN": "secret-" + f.name}
}

type fakeStore struct {
	mu             sync.Mutex
	records        map[string]*catalog.FileRecord
	refs           map[string][]catalog.CloudStorageRef
	createErr      error
	refErrProvider string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*catalog.FileRecord),
		refs:    make(map[string][]catalog.CloudStorageRef),
	}
}

func (s *fakeStore) Create(ctx context.Context, record *catalog.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*catalog.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.ErrCodeNotFound, "file %q not found in catalog", id)
	}
	clone := *record
	clone.StorageRefs = append([]catalog.CloudStorageRef(nil), s.refs[id]...)
	return &clone, nil
}

func (s *fakeStore) Update(ctx context.Context, record *catalog.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		return gwerrors.Newf(gwerrors.ErrCodeNotFound, "file %q not found in catalog", record.ID)
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return gwerrors.Newf(gwerrors.ErrCodeNotFound, "file %q not found in catalog", id)
	}
	delete(s.records, id)
	delete(s.refs, id)
	return nil
}

func (s *fakeStore) AddStorageRef(ctx context.Context, ref *catalog.CloudStorageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refErrProvider != "" && ref.Provider == s.refErrProvider {
		return gwerrors.NewCatalog("add_storage_ref", errors.New("db down"))
	}
	s.refs[ref.FileID] = append(s.refs[ref.FileID], *ref)
	return nil
}

func (s *fakeStore) Search(ctx context.Context, query catalog.SearchQuery) (*catalog.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*catalog.FileRecord
	for _, r := range s.records {
		clone := *r
		items = append(items, &clone)
	}
	return &catalog.SearchResult{Items: items, Total: len(items), Page: 1, Limit: 20, TotalPages: 1}, nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

type fixture struct {
	service  *Service
	store    *fakeStore
	registry *provider.Registry
}

func newFixture(t *testing.T, providers ...*fakeProvider) *fixture {
	t.Helper()

	registry := provider.NewRegistry()
	for _, p := range providers {
		p := p
		registry.Register(p.name, func() (provider.Provider, error) { return p, nil })
	}

	store := newFakeStore()
	retryer := retry.New(retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond}).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	service := NewService(registry, store, crypto.New("test-secret"),
		metrics.NewCollector(&metrics.Config{Capacity: 100}), retryer,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &fixture{service: service, store: store, registry: registry}
}

func uploadReq(name string) UploadRequest {
	return UploadRequest{Content: []byte("payload"), Name: name, Folder: "docs"}
}

func TestUploadPersistsRecordAndRef(t *testing.T) {
	p := newFakeProvider("dropbox")
	f := newFixture(t, p)

	record, err := f.service.Upload(context.Background(), "dropbox", uploadReq("report.pdf"))
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, "report.pdf", record.OriginalName)
	assert.Equal(t, "dropbox", record.Provider)
	assert.Equal(t, "docs", record.FolderPath)
	assert.Equal(t, int64(7), record.Size)
	require.Len(t, record.StorageRefs, 1)
	assert.NotEmpty(t, record.StorageRefs[0].EncryptedCredentials)
	assert.NotEqual(t, "secret-dropbox", record.StorageRefs[0].EncryptedCredentials)

	stored, err := f.store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, newFakeProvider("dropbox"))

	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"empty content", UploadRequest{Name: "a.txt"}},
		{"empty name", UploadRequest{Content: []byte("x")}},
		{"path traversal", UploadRequest{Content: []byte("x"), Name: "a.txt", Folder: "../etc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Upload(context.Background(), "dropbox", tt.req)
			require.Error(t, err)
			assert.True(t, gwerrors.IsValidation(err))
		})
	}
}

func TestUploadFailureLeavesNoRecord(t *testing.T) {
	p := newFakeProvider("mega")
	p.uploadErr = gwerrors.NewProvider("mega", "upload", errors.New("quota exceeded"))
	f := newFixture(t, p)

	_, err := f.service.Upload(context.Background(), "mega", uploadReq("big.bin"))
	require.Error(t, err)
	assert.Empty(t, f.store.records)
}

func TestUploadOpensCircuitAfterRepeatedFailures(t *testing.T) {
	p := newFakeProvider("mega")
	p.uploadErr = gwerrors.NewProvider("mega", "upload", errors.New("login failed"))
	f := newFixture(t, p)

	for i := 0; i < 5; i++ {
		_, err := f.service.Upload(context.Background(), "mega", uploadReq("big.bin"))
		require.Error(t, err)
	}

	_, err := f.service.Upload(context.Background(), "mega", uploadReq("big.bin"))
	require.Error(t, err)
	gwErr := gwerrors.AsGateway(err)
	require.NotNil(t, gwErr)
	assert.Equal(t, gwerrors.ErrCodeServiceUnavailable, gwErr.Code)
}

func TestUploadCompensatesOnPersistFailure(t *testing.T) {
	p := newFakeProvider("dropbox")
	f := newFixture(t, p)
	f.store.createErr = gwerrors.NewCatalog("create", errors.New("db down"))

	_, err := f.service.Upload(context.Background(), "dropbox", uploadReq("report.pdf"))
	require.Error(t, err)

	assert.Empty(t, f.store.records)
	require.Len(t, p.deletes, 1)
	assert.Equal(t, "docs/report.pdf", p.deletes[0])
	assert.Empty(t, p.objects)
}

func TestUploadMultiPartialFailure(t *testing.T) {
	good1 := newFakeProvider("dropbox")
	good2 := newFakeProvider("backblaze")
	bad := newFakeProvider("mega")
	bad.uploadErr = gwerrors.NewProvider("mega", "upload", errors.New("login failed"))
	f := newFixture(t, good1, good2, bad)

	result, err := f.service.UploadMulti(context.Background(),
		[]string{"dropbox", "mega", "backblaze"}, uploadReq("shared.txt"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Outcomes, 3)
	assert.True(t, result.Outcomes[0].Success)
	assert.False(t, result.Outcomes[1].Success)
	assert.Contains(t, result.Outcomes[1].Error, "login failed")
	assert.True(t, result.Outcomes[2].Success)

	require.NotNil(t, result.Record)
	assert.Len(t, result.Record.StorageRefs, 2)
	assert.Len(t, f.store.records, 1)
}

func TestUploadMultiRefPersistFailureFoldsIntoOutcome(t *testing.T) {
	good := newFakeProvider("dropbox")
	flaky := newFakeProvider("backblaze")
	f := newFixture(t, good, flaky)
	f.store.refErrProvider = "backblaze"

	result, err := f.service.UploadMulti(context.Background(),
		[]string{"dropbox", "backblaze"}, uploadReq("shared.txt"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.Outcomes[0].Success)
	assert.False(t, result.Outcomes[1].Success)
	assert.Contains(t, result.Outcomes[1].Error, "db down")

	// The unreferenced copy is removed; the referenced one survives.
	require.Len(t, flaky.deletes, 1)
	assert.Equal(t, "docs/shared.txt", flaky.deletes[0])
	assert.Empty(t, good.deletes)

	require.NotNil(t, result.Record)
	require.Len(t, result.Record.StorageRefs, 1)
	assert.Equal(t, "dropbox", result.Record.StorageRefs[0].Provider)
	assert.Len(t, f.store.records, 1)
}

func TestUploadMultiAllRefsFailRemovesRecord(t *testing.T) {
	flaky := newFakeProvider("backblaze")
	f := newFixture(t, flaky)
	f.store.refErrProvider = "backblaze"

	result, err := f.service.UploadMulti(context.Background(),
		[]string{"backblaze"}, uploadReq("shared.txt"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Nil(t, result.Record)
	assert.Empty(t, f.store.records)
	require.Len(t, flaky.deletes, 1)
	assert.Equal(t, "docs/shared.txt", flaky.deletes[0])
}

func TestUploadMultiAllFailPersistsNothing(t *testing.T) {
	bad1 := newFakeProvider("dropbox")
	bad1.uploadErr = errors.New("down")
	bad2 := newFakeProvider("mega")
	bad2.uploadErr = errors.New("down")
	f := newFixture(t, bad1, bad2)

	result, err := f.service.UploadMulti(context.Background(),
		[]string{"dropbox", "mega"}, uploadReq("a.txt"))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Nil(t, result.Record)
	assert.Empty(t, f.store.records)
}

func TestUploadMultiValidation(t *testing.T) {
	f := newFixture(t, newFakeProvider("dropbox"))

	t.Run("no providers", func(t *testing.T) {
		_, err := f.service.UploadMulti(context.Background(), nil, uploadReq("a.txt"))
		assert.True(t, gwerrors.IsValidation(err))
	})

	t.Run("duplicate providers", func(t *testing.T) {
		_, err := f.service.UploadMulti(context.Background(),
			[]string{"dropbox", "dropbox"}, uploadReq("a.txt"))
		assert.True(t, gwerrors.IsValidation(err))
	})

	t.Run("too many providers", func(t *testing.T) {
		_, err := f.service.UploadMulti(context.Background(),
			[]string{"a", "b", "c", "d", "e", "f", "g"}, uploadReq("a.txt"))
		assert.True(t, gwerrors.IsValidation(err))
	})
}

func TestBulkUploadAccounting(t *testing.T) {
	p := newFakeProvider("gcs")
	p.failTimes = 1
	f := newFixture(t, p)

	files := []UploadRequest{
		uploadReq("a.txt"), uploadReq("b.txt"), uploadReq("c.txt"),
		uploadReq("d.txt"), uploadReq("e.txt"),
	}
	result, err := f.service.BulkUpload(context.Background(), "gcs", files)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 5)
	assert.Equal(t, "a.txt", result.Items[0].Name)
	assert.NotEmpty(t, result.Items[0].Error)
	for _, item := range result.Items[1:] {
		assert.NotNil(t, item.Record, "item %s", item.Name)
	}
}

func TestRetryFailedUploads(t *testing.T) {
	t.Run("succeeds on second attempt", func(t *testing.T) {
		p := newFakeProvider("onedrive")
		p.failTimes = 1
		f := newFixture(t, p)

		outcomes := f.service.RetryFailedUploads(context.Background(), "onedrive",
			[]UploadRequest{uploadReq("retry.txt")})
		require.Len(t, outcomes, 1)
		assert.Equal(t, 2, outcomes[0].Attempts)
		assert.Empty(t, outcomes[0].Error)
		require.NotNil(t, outcomes[0].Record)
	})

	t.Run("exhausts the ceiling", func(t *testing.T) {
		p := newFakeProvider("onedrive")
		p.failTimes = 10
		f := newFixture(t, p)

		outcomes := f.service.RetryFailedUploads(context.Background(), "onedrive",
			[]UploadRequest{uploadReq("retry.txt")})
		require.Len(t, outcomes, 1)
		assert.Equal(t, 3, outcomes[0].Attempts)
		assert.NotEmpty(t, outcomes[0].Error)
		assert.Nil(t, outcomes[0].Record)
	})
}

func TestDownloadBumpsCounters(t *testing.T) {
	p := newFakeProvider("dropbox")
	f := newFixture(t, p)

	record, err := f.service.Upload(context.Background(), "dropbox", uploadReq("doc.txt"))
	require.NoError(t, err)

	data, got, err := f.service.Download(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, int64(1), got.DownloadCount)
	require.NotNil(t, got.LastAccessedAt)

	stored, err := f.store.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.DownloadCount)
}

func TestDeleteRemovesRemoteThenCatalog(t *testing.T) {
	p := newFakeProvider("dropbox")
	f := newFixture(t, p)

	record, err := f.service.Upload(context.Background(), "dropbox", uploadReq("doc.txt"))
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(context.Background(), record.ID))
	assert.Empty(t, p.objects)
	assert.Empty(t, f.store.records)

	err = f.service.Delete(context.Background(), record.ID)
	assert.True(t, gwerrors.IsNotFound(err))
}

func TestDeleteMulti(t *testing.T) {
	p1 := newFakeProvider("dropbox")
	p2 := newFakeProvider("backblaze")
	f := newFixture(t, p1, p2)

	result, err := f.service.UploadMulti(context.Background(),
		[]string{"dropbox", "backblaze"}, uploadReq("shared.txt"))
	require.NoError(t, err)
	require.NotNil(t, result.Record)

	del, err := f.service.DeleteMulti(context.Background(), result.Record.ID,
		[]string{"dropbox", "backblaze"})
	require.NoError(t, err)
	assert.Equal(t, 2, del.Succeeded)
	assert.Equal(t, 0, del.Failed)
	assert.Empty(t, f.store.records)
}

func TestUpdateMetadata(t *testing.T) {
	p := newFakeProvider("dropbox")
	f := newFixture(t, p)

	record, err := f.service.Upload(context.Background(), "dropbox", uploadReq("doc.txt"))
	require.NoError(t, err)

	desc := "quarterly report"
	public := true
	tags := []string{"finance", "q3"}
	updated, err := f.service.UpdateMetadata(context.Background(), record.ID, catalog.MetadataPatch{
		Description: &desc,
		Tags:        &tags,
		IsPublic:    &public,
		Metadata:    map[string]string{"team": "accounting"},
	})
	require.NoError(t, err)

	assert.Equal(t, "quarterly report", updated.Description)
	assert.Equal(t, []string{"finance", "q3"}, updated.Tags)
	assert.True(t, updated.IsPublic)
	assert.Equal(t, "accounting", updated.Metadata["team"])
}

func TestTagHelpers(t *testing.T) {
	p := newFakeProvider("dropbox")
	f := newFixture(t, p)

	record, err := f.service.Upload(context.Background(), "dropbox", uploadReq("doc.txt"))
	require.NoError(t, err)

	updated, err := f.service.AddTags(context.Background(), record.ID, []string{"b", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, updated.Tags)

	updated, err = f.service.RemoveTags(context.Background(), record.ID, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, updated.Tags)
}

func TestCreateFolderRequiresCapability(t *testing.T) {
	p := newFakeProvider("backblaze")
	f := newFixture(t, p)

	err := f.service.CreateFolder(context.Background(), "backblaze", "docs")
	require.Error(t, err)
	assert.True(t, gwerrors.IsValidation(err))
}
