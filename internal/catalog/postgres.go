package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// sortColumns is the allowlist of sortable fields; anything else falls back
// to created_at.
var sortColumns = map[string]string{
	"createdAt":     "created_at",
	"updatedAt":     "updated_at",
	"size":          "size",
	"originalName":  "original_name",
	"name":          "original_name",
	"downloadCount": "download_count",
}

// Open opens the catalog database through the pgx stdlib driver.
func Open(dsn string, maxOpenConns int, connMaxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	return db, nil
}

// PostgresStore persists the file catalog in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, record *FileRecord) error {
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return gwerrors.NewCatalog("create", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return gwerrors.NewCatalog("create", err)
	}

	query := `
		INSERT INTO files (
			id, original_name, size, mime_type, storage_name, provider, url,
			folder_path, description, tags, metadata, is_public,
			download_count, last_accessed_at, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.OriginalName, record.Size, record.MimeType,
		record.StorageName, record.Provider, record.URL, record.FolderPath,
		record.Description, string(tags), string(metadata), record.IsPublic,
		record.DownloadCount, record.LastAccessedAt, record.ExpiresAt,
		record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return gwerrors.NewCatalog("create", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*FileRecord, error) {
	query := `
		SELECT id, original_name, size, mime_type, storage_name, provider, url,
			folder_path, description, tags, metadata, is_public,
			download_count, last_accessed_at, expires_at, created_at, updated_at
		FROM files WHERE id = $1`

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, gwerrors.Newf(gwerrors.ErrCodeNotFound, "file %q not found in catalog", id)
		}
		return nil, gwerrors.NewCatalog("get", err)
	}

	refs, err := s.storageRefs(ctx, id)
	if err != nil {
		return nil, err
	}
	record.StorageRefs = refs

	return record, nil
}

func (s *PostgresStore) Update(ctx context.Context, record *FileRecord) error {
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return gwerrors.NewCatalog("update", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return gwerrors.NewCatalog("update", err)
	}

	query := `
		UPDATE files SET
			original_name=$2, size=$3, mime_type=$4, storage_name=$5,
			provider=$6, url=$7, folder_path=$8, description=$9, tags=$10,
			metadata=$11, is_public=$12, download_count=$13,
			last_accessed_at=$14, expires_at=$15, updated_at=$16
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query,
		record.ID, record.OriginalName, record.Size, record.MimeType,
		record.StorageName, record.Provider, record.URL, record.FolderPath,
		record.Description, string(tags), string(metadata), record.IsPublic,
		record.DownloadCount, record.LastAccessedAt, record.ExpiresAt,
		record.UpdatedAt)
	if err != nil {
		return gwerrors.NewCatalog("update", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return gwerrors.NewCatalog("update", err)
	}
	if n == 0 {
		return gwerrors.Newf(gwerrors.ErrCodeNotFound, "file %q not found in catalog", record.ID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cloud_storage_refs WHERE file_id = $1`, id); err != nil {
		return gwerrors.NewCatalog("delete", err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return gwerrors.NewCatalog("delete", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return gwerrors.NewCatalog("delete", err)
	}
	if n == 0 {
		return gwerrors.Newf(gwerrors.ErrCodeNotFound, "file %q not found in catalog", id)
	}
	return nil
}

func (s *PostgresStore) AddStorageRef(ctx context.Context, ref *CloudStorageRef) error {
	query := `
		INSERT INTO cloud_storage_refs (id, file_id, provider, storage_name, url, encrypted_credentials, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := s.db.ExecContext(ctx, query,
		ref.ID, ref.FileID, ref.Provider, ref.StorageName, ref.URL,
		ref.EncryptedCredentials, ref.CreatedAt)
	if err != nil {
		return gwerrors.NewCatalog("add_storage_ref", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, query SearchQuery) (*SearchResult, error) {
	where, args := buildSearchWhere(query)

	var total int
	countQuery := "SELECT count(*) FROM files" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, gwerrors.NewCatalog("search", err)
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 {
		limit = 20
	}

	col, ok := sortColumns[query.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(query.SortOrder, "asc") {
		dir = "ASC"
	}

	listQuery := fmt.Sprintf(`
		SELECT id, original_name, size, mime_type, storage_name, provider, url,
			folder_path, description, tags, metadata, is_public,
			download_count, last_accessed_at, expires_at, created_at, updated_at
		FROM files%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		where, col, dir, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, gwerrors.NewCatalog("search", err)
	}
	defer rows.Close()

	var items []*FileRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, gwerrors.NewCatalog("search", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.NewCatalog("search", err)
	}

	totalPages := (total + limit - 1) / limit

	return &SearchResult{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func buildSearchWhere(query SearchQuery) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if query.Name != "" {
		add("original_name ILIKE '%%' || $%d || '%%'", query.Name)
	}
	if query.MimeType != "" {
		add("mime_type = $%d", query.MimeType)
	}
	if query.FolderPath != "" {
		add("folder_path = $%d", query.FolderPath)
	}
	if query.IsPublic != nil {
		add("is_public = $%d", *query.IsPublic)
	}
	if len(query.Tags) > 0 {
		// Subset match: every requested tag must be present.
		tags, _ := json.Marshal(query.Tags)
		add("tags::jsonb @> $%d::jsonb", string(tags))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*FileRecord, error) {
	var (
		record         FileRecord
		tags, metadata string
		lastAccessed   sql.NullTime
		expires        sql.NullTime
	)

	err := row.Scan(&record.ID, &record.OriginalName, &record.Size,
		&record.MimeType, &record.StorageName, &record.Provider, &record.URL,
		&record.FolderPath, &record.Description, &tags, &metadata,
		&record.IsPublic, &record.DownloadCount, &lastAccessed, &expires,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &record.Tags); err != nil {
			return nil, err
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
			return nil, err
		}
	}
	if lastAccessed.Valid {
		record.LastAccessedAt = &lastAccessed.Time
	}
	if expires.Valid {
		record.ExpiresAt = &expires.Time
	}

	return &record, nil
}

func (s *PostgresStore) storageRefs(ctx context.Context, fileID string) ([]CloudStorageRef, error) {
	query := `
		SELECT id, file_id, provider, storage_name, url, encrypted_credentials, created_at
		FROM cloud_storage_refs WHERE file_id = $1 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, gwerrors.NewCatalog("storage_refs", err)
	}
	defer rows.Close()

	var refs []CloudStorageRef
	for rows.Next() {
		var ref CloudStorageRef
		if err := rows.Scan(&ref.ID, &ref.FileID, &ref.Provider,
			&ref.StorageName, &ref.URL, &ref.EncryptedCredentials, &ref.CreatedAt); err != nil {
			return nil, gwerrors.NewCatalog("storage_refs", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.NewCatalog("storage_refs", err)
	}

	return refs, nil
}
