// Package storage orchestrates uploads across providers and keeps the
// catalog consistent with what actually landed remotely.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudgate/cloudgate/internal/catalog"
	"github.com/cloudgate/cloudgate/internal/circuit"
	"github.com/cloudgate/cloudgate/internal/crypto"
	"github.com/cloudgate/cloudgate/internal/metrics"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
	"github.com/cloudgate/cloudgate/pkg/retry"
)

const maxFanOut = 6

// UploadRequest carries one file plus its catalog metadata.
type UploadRequest struct {
	Content     []byte            `json:"-"`
	Name        string            `json:"name"`
	Folder      string            `json:"folder,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IsPublic    bool              `json:"isPublic"`
}

// ProviderOutcome is one provider's result inside a fan-out.
type ProviderOutcome struct {
	Provider    string `json:"provider"`
	Success     bool   `json:"success"`
	URL         string `json:"url,omitempty"`
	StorageName string `json:"storageName,omitempty"`
	Error       string `json:"error,omitempty"`
}

// MultiResult is the outcome of a multi-provider fan-out. Subset failure is
// data, not an error: Record is set whenever at least one provider succeeded.
type MultiResult struct {
	Record    *catalog.FileRecord `json:"record,omitempty"`
	Outcomes  []ProviderOutcome   `json:"outcomes"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// BulkItem is one file's outcome inside a bulk upload.
type BulkItem struct {
	Name   string              `json:"name"`
	Record *catalog.FileRecord `json:"record,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// BulkResult is the outcome of a bulk upload. Per-item failures never abort
// the batch.
type BulkResult struct {
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	Total      int        `json:"total"`
	Items      []BulkItem `json:"items"`
}

// RetryOutcome is one file's outcome from a retried upload, including how
// many attempts it took.
type RetryOutcome struct {
	Name     string              `json:"name"`
	Attempts int                 `json:"attempts"`
	Record   *catalog.FileRecord `json:"record,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Service is the orchestration layer between the HTTP surface, the provider
// adapters and the catalog.
type Service struct {
	registry  *provider.Registry
	store     catalog.Store
	enc       *crypto.Encryptor
	collector *metrics.Collector
	retryer   *retry.Retryer
	breakers  *circuit.Set
	logger    *slog.Logger
}

// NewService wires the orchestration layer. Every remote call runs under a
// per-provider circuit breaker so a dead provider fails fast instead of
// timing out on every request.
func NewService(registry *provider.Registry, store catalog.Store, enc *crypto.Encryptor,
	collector *metrics.Collector, retryer *retry.Retryer, logger *slog.Logger) *Service {
	cfg := circuit.DefaultConfig()
	cfg.OnStateChange = func(providerName string, from, to circuit.State) {
		logger.Warn("provider circuit state changed",
			"provider", providerName, "from", from.String(), "to", to.String())
	}
	return &Service{
		registry:  registry,
		store:     store,
		enc:       enc,
		collector: collector,
		retryer:   retryer,
		breakers:  circuit.NewSet(cfg),
		logger:    logger,
	}
}

func (s *Service) record(op, providerName string, start time.Time, size int64, err error) {
	m := metrics.Metric{
		Operation: op,
		Provider:  providerName,
		Duration:  time.Since(start),
		Success:   err == nil,
		FileSize:  size,
	}
	if err != nil {
		m.Error = err.Error()
	}
	s.collector.Record(m)
}

func validateUpload(req UploadRequest) error {
	if len(req.Content) == 0 {
		return gwerrors.NewValidation("file content must not be empty")
	}
	if req.Name == "" {
		return gwerrors.NewValidation("file name must not be empty")
	}
	return provider.ValidateFolder(req.Folder)
}

// Upload stores one file on one provider and persists the catalog record.
// A failed catalog write after a successful upload triggers a compensating
// remote delete so no unreferenced copies are left behind.
func (s *Service) Upload(ctx context.Context, providerName string, req UploadRequest) (*catalog.FileRecord, error) {
	start := time.Now()
	record, err := s.uploadOne(ctx, providerName, req)
	s.record("upload", providerName, start, int64(len(req.Content)), err)
	return record, err
}

func (s *Service) uploadOne(ctx context.Context, providerName string, req UploadRequest) (*catalog.FileRecord, error) {
	if err := validateUpload(req); err != nil {
		return nil, err
	}

	p, err := s.registry.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	var result *provider.UploadResult
	err = s.breakers.Do(ctx, providerName, func(ctx context.Context) error {
		var upErr error
		result, upErr = p.Upload(ctx, req.Content, req.Name, req.Folder)
		return upErr
	})
	if err != nil {
		return nil, err
	}

	record := s.newRecord(req, providerName, result)
	ref, err := s.newStorageRef(record.ID, p, result)
	if err == nil {
		err = s.store.Create(ctx, record)
	}
	if err == nil {
		err = s.store.AddStorageRef(ctx, ref)
	}
	if err != nil {
		if delErr := p.Delete(ctx, result.StorageName, req.Folder); delErr != nil {
			s.logger.Error("compensating delete failed; remote copy orphaned",
				"provider", providerName, "storage_name", result.StorageName, "error", delErr)
		}
		return nil, err
	}

	record.StorageRefs = []catalog.CloudStorageRef{*ref}
	s.logger.Info("file uploaded", "provider", providerName,
		"name", req.Name, "storage_name", result.StorageName, "size", len(req.Content))
	return record, nil
}

func (s *Service) newRecord(req UploadRequest, providerName string, result *provider.UploadResult) *catalog.FileRecord {
	now := time.Now().UTC()
	return &catalog.FileRecord{
		ID:           uuid.NewString(),
		OriginalName: req.Name,
		Size:         int64(len(req.Content)),
		MimeType:     provider.InferContentType(req.Name),
		StorageName:  result.StorageName,
		Provider:     providerName,
		URL:          result.URL,
		FolderPath:   provider.NormalizeFolder(req.Folder),
		Description:  req.Description,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		IsPublic:     req.IsPublic,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// newStorageRef seals the adapter's credential bundle into the ref so the
// copy stays reachable even after the live configuration rotates.
func (s *Service) newStorageRef(fileID string, p provider.Provider, result *provider.UploadResult) (*catalog.CloudStorageRef, error) {
	blob, err := s.enc.EncryptCredentials(p.Credentials())
	if err != nil {
		return nil, err
	}
	return &catalog.CloudStorageRef{
		ID:                   uuid.NewString(),
		FileID:               fileID,
		Provider:             p.Name(),
		StorageName:          result.StorageName,
		URL:                  result.URL,
		EncryptedCredentials: blob,
		CreatedAt:            time.Now().UTC(),
	}, nil
}

func validateFanOut(providerNames []string) ([]string, error) {
	if len(providerNames) == 0 {
		return nil, gwerrors.NewValidation("at least one provider is required")
	}
	if len(providerNames) > maxFanOut {
		return nil, gwerrors.NewValidation(fmt.Sprintf("at most %d providers per request", maxFanOut))
	}
	seen := make(map[string]bool, len(providerNames))
	for _, name := range providerNames {
		if seen[name] {
			return nil, gwerrors.NewValidation(fmt.Sprintf("duplicate provider %q", name))
		}
		seen[name] = true
	}
	out := make([]string, len(providerNames))
	copy(out, providerNames)
	return out, nil
}

// UploadMulti copies one file to several providers concurrently. The result
// carries one outcome per provider; a subset failing is reported, never
// raised. One FileRecord is created per call, with a CloudStorageRef child
// per provider that succeeded, and nothing is persisted when every provider
// fails.
func (s *Service) UploadMulti(ctx context.Context, providerNames []string, req UploadRequest) (*MultiResult, error) {
	names, err := validateFanOut(providerNames)
	if err != nil {
		return nil, err
	}
	if err := validateUpload(req); err != nil {
		return nil, err
	}

	type remote struct {
		p      provider.Provider
		result *provider.UploadResult
	}

	outcomes := make([]ProviderOutcome, len(names))
	remotes := make([]*remote, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			start := time.Now()

			outcome := ProviderOutcome{Provider: name}
			p, err := s.registry.Resolve(name)
			if err == nil {
				var result *provider.UploadResult
				err = s.breakers.Do(ctx, name, func(ctx context.Context) error {
					var upErr error
					result, upErr = p.Upload(ctx, req.Content, req.Name, req.Folder)
					return upErr
				})
				if err == nil {
					outcome.Success = true
					outcome.URL = result.URL
					outcome.StorageName = result.StorageName
					remotes[i] = &remote{p: p, result: result}
				}
			}
			if err != nil {
				outcome.Error = err.Error()
			}
			s.record("multi_upload", name, start, int64(len(req.Content)), err)
			outcomes[i] = outcome
		}(i, name)
	}
	wg.Wait()

	result := &MultiResult{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	if result.Succeeded == 0 {
		return result, nil
	}

	var first *remote
	for _, r := range remotes {
		if r != nil {
			first = r
			break
		}
	}

	record := s.newRecord(req, first.p.Name(), first.result)
	if err := s.store.Create(ctx, record); err != nil {
		for _, r := range remotes {
			if r == nil {
				continue
			}
			if delErr := r.p.Delete(ctx, r.result.StorageName, req.Folder); delErr != nil {
				s.logger.Error("compensating delete failed; remote copy orphaned",
					"provider", r.p.Name(), "storage_name", r.result.StorageName, "error", delErr)
			}
		}
		return nil, err
	}
	for i, r := range remotes {
		if r == nil {
			continue
		}
		ref, err := s.newStorageRef(record.ID, r.p, r.result)
		if err == nil {
			err = s.store.AddStorageRef(ctx, ref)
		}
		if err != nil {
			// A copy without a persisted ref is unreachable; drop it and
			// fold the failure into this provider's outcome.
			if delErr := r.p.Delete(ctx, r.result.StorageName, req.Folder); delErr != nil {
				s.logger.Error("compensating delete failed; remote copy orphaned",
					"provider", r.p.Name(), "storage_name", r.result.StorageName, "error", delErr)
			}
			outcomes[i].Success = false
			outcomes[i].Error = err.Error()
			result.Succeeded--
			result.Failed++
			continue
		}
		record.StorageRefs = append(record.StorageRefs, *ref)
	}

	if len(record.StorageRefs) == 0 {
		if delErr := s.store.Delete(ctx, record.ID); delErr != nil {
			s.logger.Error("catalog cleanup failed after ref persistence failures",
				"file_id", record.ID, "error", delErr)
		}
		return result, nil
	}

	result.Record = record
	return result, nil
}

// BulkUpload runs independent single-provider uploads for a batch of files.
// Individual failures are collected per item and never abort the batch.
func (s *Service) BulkUpload(ctx context.Context, providerName string, files []UploadRequest) (*BulkResult, error) {
	if len(files) == 0 {
		return nil, gwerrors.NewValidation("at least one file is required")
	}

	start := time.Now()
	result := &BulkResult{Total: len(files), Items: make([]BulkItem, len(files))}
	for i, req := range files {
		item := BulkItem{Name: req.Name}
		record, err := s.uploadOne(ctx, providerName, req)
		if err != nil {
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Record = record
			result.Successful++
		}
		result.Items[i] = item
	}

	var err error
	if result.Successful == 0 {
		err = gwerrors.New(gwerrors.ErrCodeProviderFailure, "all bulk uploads failed")
	}
	s.record("bulk_upload", providerName, start, 0, err)
	return result, nil
}

// RetryFailedUploads reruns failed uploads under the bounded retry policy.
// Each outcome reports the attempt count that settled it.
func (s *Service) RetryFailedUploads(ctx context.Context, providerName string, files []UploadRequest) []RetryOutcome {
	outcomes := make([]RetryOutcome, len(files))
	for i, req := range files {
		var record *catalog.FileRecord
		attempts, err := s.retryer.Do(ctx, func(ctx context.Context) error {
			var upErr error
			record, upErr = s.uploadOne(ctx, providerName, req)
			return upErr
		})

		outcome := RetryOutcome{Name: req.Name, Attempts: attempts}
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Record = record
		}
		outcomes[i] = outcome
	}
	return outcomes
}

// Download fetches the bytes for a catalog entry and bumps its access
// counters. Counter persistence is best-effort; a counter write failure
// never fails a completed download.
func (s *Service) Download(ctx context.Context, fileID string) ([]byte, *catalog.FileRecord, error) {
	start := time.Now()

	record, err := s.store.Get(ctx, fileID)
	if err != nil {
		s.record("download", "", start, 0, err)
		return nil, nil, err
	}

	p, err := s.registry.Resolve(record.Provider)
	if err != nil {
		s.record("download", record.Provider, start, 0, err)
		return nil, nil, err
	}

	var data []byte
	err = s.breakers.Do(ctx, record.Provider, func(ctx context.Context) error {
		var dlErr error
		data, dlErr = p.Download(ctx, record.StorageName, record.FolderPath)
		return dlErr
	})
	s.record("download", record.Provider, start, int64(len(data)), err)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	record.DownloadCount++
	record.LastAccessedAt = &now
	record.UpdatedAt = now
	if err := s.store.Update(ctx, record); err != nil {
		s.logger.Warn("download counter update failed", "file_id", fileID, "error", err)
	}

	return data, record, nil
}

// Delete removes the remote copy first, then the catalog row. A remote copy
// that is already gone still clears the row.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	start := time.Now()

	record, err := s.store.Get(ctx, fileID)
	if err != nil {
		s.record("delete", "", start, 0, err)
		return err
	}

	p, err := s.registry.Resolve(record.Provider)
	if err != nil {
		s.record("delete", record.Provider, start, 0, err)
		return err
	}

	err = s.breakers.Do(ctx, record.Provider, func(ctx context.Context) error {
		return p.Delete(ctx, record.StorageName, record.FolderPath)
	})
	if err != nil && !gwerrors.IsNotFound(err) {
		s.record("delete", record.Provider, start, 0, err)
		return err
	}

	err = s.store.Delete(ctx, fileID)
	s.record("delete", record.Provider, start, record.Size, err)
	return err
}

// DeleteMulti removes a file's copies from several providers concurrently,
// mirroring UploadMulti's partial-failure accounting. The catalog row is
// removed only when every requested copy is gone.
func (s *Service) DeleteMulti(ctx context.Context, fileID string, providerNames []string) (*MultiResult, error) {
	names, err := validateFanOut(providerNames)
	if err != nil {
		return nil, err
	}

	record, err := s.store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]ProviderOutcome, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			start := time.Now()

			outcome := ProviderOutcome{Provider: name}
			p, err := s.registry.Resolve(name)
			if err == nil {
				err = s.breakers.Do(ctx, name, func(ctx context.Context) error {
					return p.Delete(ctx, record.StorageName, record.FolderPath)
				})
				if gwerrors.IsNotFound(err) {
					err = nil
				}
			}
			if err != nil {
				outcome.Error = err.Error()
			} else {
				outcome.Success = true
			}
			s.record("multi_delete", name, start, 0, err)
			outcomes[i] = outcome
		}(i, name)
	}
	wg.Wait()

	result := &MultiResult{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	if result.Failed == 0 {
		if err := s.store.Delete(ctx, fileID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Search queries the catalog only; no provider traffic.
func (s *Service) Search(ctx context.Context, query catalog.SearchQuery) (*catalog.SearchResult, error) {
	return s.store.Search(ctx, query)
}

// UpdateMetadata applies a partial update to a catalog row.
func (s *Service) UpdateMetadata(ctx context.Context, fileID string, patch catalog.MetadataPatch) (*catalog.FileRecord, error) {
	record, err := s.store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if patch.Description != nil {
		record.Description = *patch.Description
	}
	if patch.Tags != nil {
		record.Tags = *patch.Tags
	}
	if patch.Metadata != nil {
		if record.Metadata == nil {
			record.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			record.Metadata[k] = v
		}
	}
	if patch.IsPublic != nil {
		record.IsPublic = *patch.IsPublic
	}
	if patch.ClearExpiresAt {
		record.ExpiresAt = nil
	} else if patch.ExpiresAt != nil {
		record.ExpiresAt = patch.ExpiresAt
	}
	record.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// AddTags appends missing tags to a catalog row, keeping the set sorted.
func (s *Service) AddTags(ctx context.Context, fileID string, tags []string) (*catalog.FileRecord, error) {
	record, err := s.store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(record.Tags))
	for _, t := range record.Tags {
		existing[t] = true
	}
	for _, t := range tags {
		if t != "" && !existing[t] {
			record.Tags = append(record.Tags, t)
			existing[t] = true
		}
	}
	sort.Strings(record.Tags)
	record.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RemoveTags drops tags from a catalog row; absent tags are ignored.
func (s *Service) RemoveTags(ctx context.Context, fileID string, tags []string) (*catalog.FileRecord, error) {
	record, err := s.store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}

	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
	}
	kept := record.Tags[:0]
	for _, t := range record.Tags {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	record.Tags = kept
	record.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// List returns a provider's entries under folder.
func (s *Service) List(ctx context.Context, providerName, folder string) ([]provider.FileListItem, error) {
	start := time.Now()

	p, err := s.registry.Resolve(providerName)
	if err != nil {
		s.record("list", providerName, start, 0, err)
		return nil, err
	}
	var items []provider.FileListItem
	err = s.breakers.Do(ctx, providerName, func(ctx context.Context) error {
		var listErr error
		items, listErr = p.List(ctx, folder)
		return listErr
	})
	s.record("list", providerName, start, 0, err)
	return items, err
}

// CreateFolder creates a folder on providers that support explicit folders;
// prefix-emulated backends report validation failure.
func (s *Service) CreateFolder(ctx context.Context, providerName, folder string) error {
	if err := provider.ValidateFolder(folder); err != nil {
		return err
	}
	if provider.NormalizeFolder(folder) == "" {
		return gwerrors.NewValidation("folder path must not be empty")
	}

	p, err := s.registry.Resolve(providerName)
	if err != nil {
		return err
	}
	creator, ok := p.(provider.FolderCreator)
	if !ok {
		return gwerrors.NewValidation(fmt.Sprintf("provider %q has no real folders; they appear when files are uploaded", providerName))
	}

	start := time.Now()
	err = s.breakers.Do(ctx, providerName, func(ctx context.Context) error {
		return creator.CreateFolder(ctx, folder)
	})
	s.record("create_folder", providerName, start, 0, err)
	return err
}

// DeleteFolder recursively removes a provider folder.
func (s *Service) DeleteFolder(ctx context.Context, providerName, folder string) error {
	if err := provider.ValidateFolder(folder); err != nil {
		return err
	}
	if provider.NormalizeFolder(folder) == "" {
		return gwerrors.NewValidation("folder path must not be empty")
	}

	p, err := s.registry.Resolve(providerName)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.breakers.Do(ctx, providerName, func(ctx context.Context) error {
		return p.DeleteFolder(ctx, folder)
	})
	s.record("delete_folder", providerName, start, 0, err)
	return err
}

// Get returns one catalog row.
func (s *Service) Get(ctx context.Context, fileID string) (*catalog.FileRecord, error) {
	return s.store.Get(ctx, fileID)
}
