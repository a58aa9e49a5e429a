// Package api exposes the gateway over HTTP: file operations per provider,
// catalog search and metadata, fan-out endpoints, and monitoring.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudgate/cloudgate/internal/catalog"
	"github.com/cloudgate/cloudgate/internal/health"
	"github.com/cloudgate/cloudgate/internal/metrics"
	"github.com/cloudgate/cloudgate/internal/provider"
	"github.com/cloudgate/cloudgate/internal/storage"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// Version is stamped at build time.
var Version = "dev"

const maxUploadBytes = 512 << 20

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server routes HTTP requests into the orchestration service.
type Server struct {
	httpServer *http.Server
	service    *storage.Service
	registry   *provider.Registry
	collector  *metrics.Collector
	aggregator *health.Aggregator
	config     ServerConfig
	logger     *slog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, service *storage.Service, registry *provider.Registry,
	collector *metrics.Collector, aggregator *health.Aggregator, logger *slog.Logger) *Server {
	s := &Server{
		service:    service,
		registry:   registry,
		collector:  collector,
		aggregator: aggregator,
		config:     config,
		logger:     logger,
	}

	mux := http.NewServeMux()

	// File operations
	mux.HandleFunc("POST /api/files/multi", s.handleUploadMulti)
	mux.HandleFunc("POST /api/files/{provider}", s.handleUpload)
	mux.HandleFunc("POST /api/files/{provider}/bulk", s.handleBulkUpload)
	mux.HandleFunc("POST /api/files/{provider}/retry", s.handleRetryUpload)
	mux.HandleFunc("GET /api/files/{id}", s.handleGetFile)
	mux.HandleFunc("GET /api/files/{id}/download", s.handleDownload)
	mux.HandleFunc("DELETE /api/files/{id}", s.handleDelete)
	mux.HandleFunc("DELETE /api/files/{id}/multi", s.handleDeleteMulti)
	mux.HandleFunc("PATCH /api/files/{id}/metadata", s.handleUpdateMetadata)
	mux.HandleFunc("POST /api/files/{id}/tags", s.handleAddTags)
	mux.HandleFunc("DELETE /api/files/{id}/tags", s.handleRemoveTags)

	// Catalog search
	mux.HandleFunc("GET /api/search", s.handleSearch)

	// Provider listings and folders
	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("GET /api/providers/{provider}/files", s.handleList)
	mux.HandleFunc("POST /api/providers/{provider}/folders", s.handleCreateFolder)
	mux.HandleFunc("DELETE /api/providers/{provider}/folders", s.handleDeleteFolder)

	// Monitoring
	mux.HandleFunc("GET /monitoring/health", s.handleHealth)
	mux.HandleFunc("GET /monitoring/metrics", s.handleMetrics)
	mux.Handle("GET /metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /info", s.handleInfo)

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	payload := map[string]any{"error": err.Error()}
	if gw := gwerrors.AsGateway(err); gw != nil {
		status = gw.HTTPStatus()
		payload["code"] = gw.Code
		if gw.Provider != "" {
			payload["provider"] = gw.Provider
		}
	}
	s.respondJSON(w, status, payload)
}

// readUploadForm pulls one file plus metadata fields out of a multipart form.
func readUploadForm(r *http.Request, file *multipart.FileHeader) (storage.UploadRequest, error) {
	f, err := file.Open()
	if err != nil {
		return storage.UploadRequest{}, gwerrors.NewValidation("unreadable file part: " + err.Error())
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return storage.UploadRequest{}, gwerrors.NewValidation("unreadable file part: " + err.Error())
	}

	req := storage.UploadRequest{
		Content:     content,
		Name:        file.Filename,
		Folder:      r.FormValue("folder"),
		Description: r.FormValue("description"),
		IsPublic:    r.FormValue("isPublic") == "true",
	}
	if tags := r.FormValue("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.Tags = append(req.Tags, t)
			}
		}
	}
	if meta := r.FormValue("metadata"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &req.Metadata); err != nil {
			return storage.UploadRequest{}, gwerrors.NewValidation("metadata must be a JSON object of strings")
		}
	}
	return req, nil
}

func formFiles(r *http.Request) ([]*multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, gwerrors.NewValidation("expected multipart form upload")
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return nil, gwerrors.NewValidation("form field \"file\" is required")
	}
	return files, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	files, err := formFiles(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := readUploadForm(r, files[0])
	if err != nil {
		s.respondError(w, err)
		return
	}

	record, err := s.service.Upload(r.Context(), r.PathValue("provider"), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, record)
}

func (s *Server) handleUploadMulti(w http.ResponseWriter, r *http.Request) {
	files, err := formFiles(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := readUploadForm(r, files[0])
	if err != nil {
		s.respondError(w, err)
		return
	}

	providers := splitList(r.FormValue("providers"))
	result, err := s.service.UploadMulti(r.Context(), providers, req)
	if err != nil {
		s.respondError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Succeeded == 0 {
		status = http.StatusBadGateway
	} else if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, result)
}

func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	files, err := formFiles(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	reqs := make([]storage.UploadRequest, 0, len(files))
	for _, fh := range files {
		req, err := readUploadForm(r, fh)
		if err != nil {
			s.respondError(w, err)
			return
		}
		reqs = append(reqs, req)
	}

	result, err := s.service.BulkUpload(r.Context(), r.PathValue("provider"), reqs)
	if err != nil {
		s.respondError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Successful == 0 {
		status = http.StatusBadGateway
	} else if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, result)
}

func (s *Server) handleRetryUpload(w http.ResponseWriter, r *http.Request) {
	files, err := formFiles(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	reqs := make([]storage.UploadRequest, 0, len(files))
	for _, fh := range files {
		req, err := readUploadForm(r, fh)
		if err != nil {
			s.respondError(w, err)
			return
		}
		reqs = append(reqs, req)
	}

	outcomes := s.service.RetryFailedUploads(r.Context(), r.PathValue("provider"), reqs)
	s.respondJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	data, record, err := s.service.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", record.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.OriginalName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Error("download write failed", "file_id", record.ID, "error", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMulti(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Providers []string `json:"providers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, gwerrors.NewValidation("request body must be JSON with a providers list"))
		return
	}

	result, err := s.service.DeleteMulti(r.Context(), r.PathValue("id"), body.Providers)
	if err != nil {
		s.respondError(w, err)
		return
	}

	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, result)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var patch catalog.MetadataPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.respondError(w, gwerrors.NewValidation("request body must be a JSON metadata patch"))
		return
	}

	record, err := s.service.UpdateMetadata(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleAddTags(w http.ResponseWriter, r *http.Request) {
	s.handleTags(w, r, s.service.AddTags)
}

func (s *Server) handleRemoveTags(w http.ResponseWriter, r *http.Request) {
	s.handleTags(w, r, s.service.RemoveTags)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, id string, tags []string) (*catalog.FileRecord, error)) {
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, gwerrors.NewValidation("request body must be JSON with a tags list"))
		return
	}

	record, err := apply(r.Context(), r.PathValue("id"), body.Tags)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.SearchQuery{
		Name:       q.Get("name"),
		MimeType:   q.Get("mimeType"),
		Tags:       splitList(q.Get("tags")),
		FolderPath: q.Get("folder"),
		SortBy:     q.Get("sortBy"),
		SortOrder:  q.Get("sortOrder"),
	}
	if v := q.Get("isPublic"); v != "" {
		public := v == "true"
		query.IsPublic = &public
	}
	query.Page, _ = strconv.Atoi(q.Get("page"))
	query.Limit, _ = strconv.Atoi(q.Get("limit"))

	result, err := s.service.Search(r.Context(), query)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"providers": s.registry.Names()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.List(r.Context(), r.PathValue("provider"), r.URL.Query().Get("folder"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if items == nil {
		items = []provider.FileListItem{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Folder string `json:"folder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, gwerrors.NewValidation("request body must be JSON with a folder path"))
		return
	}

	if err := s.service.CreateFolder(r.Context(), r.PathValue("provider"), body.Folder); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"folder": provider.NormalizeFolder(body.Folder)})
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	if err := s.service.DeleteFolder(r.Context(), r.PathValue("provider"), folder); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports 503 on an error verdict so load balancers see the
// failure, never a 200 with an embedded error.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.aggregator.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusError {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"system":    s.collector.System(),
		"providers": s.collector.ProviderPerformance(s.registry.Names()),
		"activity":  s.collector.HourlyActivity(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"name":      "cloudgate",
		"version":   Version,
		"providers": s.registry.Names(),
	})
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
