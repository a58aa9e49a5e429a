// Package provider defines the uniform capability contract the six storage
// backends implement, the registry that resolves logical provider names to
// live adapters, and the shared helpers for path handling and folder
// emulation over flat object namespaces.
package provider

import (
	"context"
	"time"
)

// Canonical provider names. Registration is explicit and additive; there is
// no dynamic discovery.
const (
	GoogleCloud = "googlecloud"
	Dropbox     = "dropbox"
	Mega        = "mega"
	GoogleDrive = "googledrive"
	Backblaze   = "backblaze"
	OneDrive    = "onedrive"
)

// Provider is the capability set every storage backend implements.
//
// Implementations are stateless per call: every operation re-resolves its
// credential bundle and re-derives transient auth (token refresh, session
// login) rather than caching it, because tokens expire between calls and
// adapters run no refresh scheduler. All transport errors are wrapped into
// a provider-tagged gateway error before returning.
type Provider interface {
	// Name returns the canonical provider name.
	Name() string

	// Upload stores content under folder/name and returns the storage name
	// actually used plus a shareable URL. Link creation happens after the
	// upload completes; a link failure fails the whole operation.
	Upload(ctx context.Context, content []byte, name, folder string) (*UploadResult, error)

	// List returns the entries directly under folder, or under the
	// backend's root when folder is empty. Prefix-based backends synthesize
	// immediate child folders as single pseudo-entries.
	List(ctx context.Context, folder string) ([]FileListItem, error)

	// Download resolves fileID (a name for path-addressed backends, matched
	// against listings for id-addressed ones) and returns the file bytes.
	Download(ctx context.Context, fileID, folder string) ([]byte, error)

	// Delete removes one file. Deleting twice surfaces NOT_FOUND on the
	// second call.
	Delete(ctx context.Context, fileID, folder string) error

	// DeleteFolder recursively removes everything under folder. For
	// prefix-based backends this is list-then-delete-each; partial
	// completion on a mid-loop failure is reported, not swallowed.
	DeleteFolder(ctx context.Context, folder string) error

	// Credentials returns the encryptable credential bundle this adapter
	// was built with. Consumed by the orchestration layer at persistence
	// time only; adapters stay ignorant of the catalog's encryption secret.
	Credentials() map[string]string
}

// FolderCreator is the optional explicit-folder capability. CreateFolder is
// the one operation the gateway treats as explicitly idempotent: creating an
// existing folder is a no-op success.
type FolderCreator interface {
	CreateFolder(ctx context.Context, folder string) error
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	URL         string `json:"url"`
	StorageName string `json:"storageName"`
}

// FileListItem is one listing entry, normalized across backends. Size is
// passed through as reported: some backends return numeric sizes, others
// strings.
type FileListItem struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Size        string     `json:"size"`
	ContentType string     `json:"contentType"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	IsFolder    bool       `json:"isFolder"`
}
