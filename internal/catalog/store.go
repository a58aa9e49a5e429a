package catalog

import "context"

// Store is the persistence boundary the orchestration layer depends on. The
// schema itself is an external collaborator; the gateway only needs CRUD by
// id plus filtered, paginated queries.
type Store interface {
	Create(ctx context.Context, record *FileRecord) error
	Get(ctx context.Context, id string) (*FileRecord, error)
	Update(ctx context.Context, record *FileRecord) error
	Delete(ctx context.Context, id string) error

	AddStorageRef(ctx context.Context, ref *CloudStorageRef) error

	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)

	// Ping probes store liveness for the health aggregator.
	Ping(ctx context.Context) error
}
