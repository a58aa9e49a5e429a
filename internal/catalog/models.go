// Package catalog holds the durable record of uploaded files independent of
// where their bytes live, and the store that persists it.
package catalog

import "time"

// FileRecord is one catalog entry. A record is created on successful upload
// and may carry multiple CloudStorageRef children, one per provider the
// bytes were copied to.
type FileRecord struct {
	ID             string            `json:"id"`
	OriginalName   string            `json:"originalName"`
	Size           int64             `json:"size"`
	MimeType       string            `json:"mimeType"`
	StorageName    string            `json:"storageName"`
	Provider       string            `json:"provider"`
	URL            string            `json:"url"`
	FolderPath     string            `json:"folderPath,omitempty"`
	Description    string            `json:"description,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IsPublic       bool              `json:"isPublic"`
	DownloadCount  int64             `json:"downloadCount"`
	LastAccessedAt *time.Time        `json:"lastAccessedAt,omitempty"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`

	StorageRefs []CloudStorageRef `json:"storageRefs,omitempty"`
}

// CloudStorageRef binds one FileRecord to one provider copy. The credential
// blob is sealed with the catalog's encryption secret and captures the
// credentials that were valid when the copy was made, not the current live
// configuration.
type CloudStorageRef struct {
	ID                   string    `json:"id"`
	FileID               string    `json:"fileId"`
	Provider             string    `json:"provider"`
	StorageName          string    `json:"storageName"`
	URL                  string    `json:"url"`
	EncryptedCredentials string    `json:"-"`
	CreatedAt            time.Time `json:"createdAt"`
}

// MetadataPatch is a partial update of a catalog row. Nil fields are left
// untouched.
type MetadataPatch struct {
	Description *string           `json:"description,omitempty"`
	Tags        *[]string         `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IsPublic    *bool             `json:"isPublic,omitempty"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
	// ClearExpiresAt removes the expiry; it wins over ExpiresAt.
	ClearExpiresAt bool `json:"clearExpiresAt,omitempty"`
}

// SearchQuery filters and pages the catalog. It never touches a remote
// provider.
type SearchQuery struct {
	Name       string   `json:"name,omitempty"`
	MimeType   string   `json:"mimeType,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	FolderPath string   `json:"folderPath,omitempty"`
	IsPublic   *bool    `json:"isPublic,omitempty"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	SortBy     string   `json:"sortBy,omitempty"`
	SortOrder  string   `json:"sortOrder,omitempty"`
}

// SearchResult is one page of catalog rows.
type SearchResult struct {
	Items      []*FileRecord `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}
