// Package gdrive adapts Google Drive through its v3 API. Drive addresses
// files by opaque id, so names are resolved against folder listings, and
// folder paths are walked segment by segment from the Drive root.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

const (
	apiBase    = "https://www.googleapis.com/drive/v3"
	uploadBase = "https://www.googleapis.com/upload/drive/v3"
	tokenURL   = "https://oauth2.googleapis.com/token"
	folderMime = "application/vnd.google-apps.folder"
)

// Adapter talks to one Google Drive account.
type Adapter struct {
	creds  config.Credentials
	logger *slog.Logger
}

// New resolves Drive OAuth credentials from the environment.
func New(_ context.Context, logger *slog.Logger) (*Adapter, error) {
	creds, err := config.ResolveCredentials(provider.GoogleDrive)
	if err != nil {
		return nil, err
	}
	return &Adapter{creds: creds, logger: logger}, nil
}

func (a *Adapter) Name() string { return provider.GoogleDrive }

func (a *Adapter) Credentials() map[string]string {
	out := make(map[string]string, len(a.creds))
	for k, v := range a.creds {
		out[k] = v
	}
	return out
}

// httpClient exchanges the stored refresh token for a fresh access token.
func (a *Adapter) httpClient(ctx context.Context) *http.Client {
	cfg := &oauth2.Config{
		ClientID:     a.creds["GDRIVE_CLIENT_ID"],
		ClientSecret: a.creds["GDRIVE_CLIENT_SECRET"],
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	tok := &oauth2.Token{RefreshToken: a.creds["GDRIVE_REFRESH_TOKEN"]}
	client := cfg.Client(ctx, tok)
	client.Timeout = 60 * time.Second
	return client
}

type driveFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	Size         string    `json:"size"`
	CreatedTime  time.Time `json:"createdTime"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// query runs a files.list search and returns all matches.
func (a *Adapter) query(ctx context.Context, client *http.Client, q string) ([]driveFile, error) {
	var files []driveFile
	pageToken := ""
	for {
		listURL := fmt.Sprintf("%s/files?q=%s&fields=%s&pageSize=1000",
			apiBase, url.QueryEscape(q),
			url.QueryEscape("nextPageToken,files(id,name,mimeType,size,createdTime,modifiedTime)"))
		if pageToken != "" {
			listURL += "&pageToken=" + url.QueryEscape(pageToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}

		var page struct {
			Files         []driveFile `json:"files"`
			NextPageToken string      `json:"nextPageToken"`
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("drive query failed: %s: %s", resp.Status, data)
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		files = append(files, page.Files...)
		if page.NextPageToken == "" {
			return files, nil
		}
		pageToken = page.NextPageToken
	}
}

// resolveFolder walks the folder path from the Drive root, optionally
// creating missing segments. Returns "root" for the empty path.
func (a *Adapter) resolveFolder(ctx context.Context, client *http.Client, folder string, create bool) (string, error) {
	parent := "root"
	for _, segment := range provider.FolderSegments(folder) {
		q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			escapeQuery(segment), parent, folderMime)
		matches, err := a.query(ctx, client, q)
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			parent = matches[0].ID
			continue
		}
		if !create {
			return "", gwerrors.NewNotFound(provider.GoogleDrive, folder)
		}
		id, err := a.createFolderIn(ctx, client, parent, segment)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

func (a *Adapter) createFolderIn(ctx context.Context, client *http.Client, parent, name string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": folderMime,
		"parents":  []string{parent},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/files",
		bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("folder create failed: %s: %s", resp.Status, data)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// findFile locates a file by name inside a resolved folder.
func (a *Adapter) findFile(ctx context.Context, client *http.Client, folderID, name string) (*driveFile, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), folderID)
	matches, err := a.query(ctx, client, q)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

func (a *Adapter) Upload(ctx context.Context, content []byte, name, folder string) (*provider.UploadResult, error) {
	client := a.httpClient(ctx)

	folderID, err := a.resolveFolder(ctx, client, folder, true)
	if err != nil {
		return nil, wrapProvider("upload", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}
	meta, _ := json.Marshal(map[string]any{
		"name":    name,
		"parents": []string{folderID},
	})
	if _, err := metaPart.Write(meta); err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}

	dataHeader := textproto.MIMEHeader{}
	dataHeader.Set("Content-Type", provider.InferContentType(name))
	dataPart, err := writer.CreatePart(dataHeader)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}
	if _, err := dataPart.Write(content); err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		uploadBase+"/files?uploadType=multipart", &buf)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload",
			fmt.Errorf("upload failed: %s: %s", resp.Status, data))
	}

	var uploaded struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "upload", err)
	}

	if err := a.shareAnyone(ctx, client, uploaded.ID); err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "share", err)
	}

	return &provider.UploadResult{
		URL:         fmt.Sprintf("https://drive.google.com/uc?id=%s&export=download", uploaded.ID),
		StorageName: uploaded.Name,
	}, nil
}

// shareAnyone grants anyone-with-the-link read access.
func (a *Adapter) shareAnyone(ctx context.Context, client *http.Client, fileID string) error {
	body := bytes.NewReader([]byte(`{"role":"reader","type":"anyone"}`))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/files/%s/permissions", apiBase, fileID), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("permission grant failed: %s: %s", resp.Status, data)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context, folder string) ([]provider.FileListItem, error) {
	client := a.httpClient(ctx)

	folderID, err := a.resolveFolder(ctx, client, folder, false)
	if err != nil {
		return nil, wrapProvider("list", err)
	}

	q := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	files, err := a.query(ctx, client, q)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "list", err)
	}

	items := make([]provider.FileListItem, 0, len(files))
	for _, f := range files {
		item := provider.FileListItem{
			ID:       f.ID,
			Name:     f.Name,
			Size:     f.Size,
			IsFolder: f.MimeType == folderMime,
		}
		if item.Size == "" {
			item.Size = "0"
		}
		if !item.IsFolder {
			item.ContentType = f.MimeType
		}
		if !f.CreatedTime.IsZero() {
			created := f.CreatedTime
			item.CreatedAt = &created
		}
		if !f.ModifiedTime.IsZero() {
			updated := f.ModifiedTime
			item.UpdatedAt = &updated
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) Download(ctx context.Context, fileID, folder string) ([]byte, error) {
	client := a.httpClient(ctx)

	id, err := a.resolveFileID(ctx, client, fileID, folder)
	if err != nil {
		return nil, wrapProvider("download", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/files/%s?alt=media", apiBase, id), nil)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "download", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gwerrors.NewNotFound(provider.GoogleDrive, fileID)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.NewProvider(provider.GoogleDrive, "download",
			fmt.Errorf("download failed: %s: %s", resp.Status, data))
	}

	return io.ReadAll(resp.Body)
}

func (a *Adapter) Delete(ctx context.Context, fileID, folder string) error {
	client := a.httpClient(ctx)

	id, err := a.resolveFileID(ctx, client, fileID, folder)
	if err != nil {
		return wrapProvider("delete", err)
	}
	return a.deleteByID(ctx, client, id, fileID, "delete")
}

// DeleteFolder removes the folder object; Drive discards its contents with it.
func (a *Adapter) DeleteFolder(ctx context.Context, folder string) error {
	client := a.httpClient(ctx)

	folderID, err := a.resolveFolder(ctx, client, folder, false)
	if err != nil {
		return wrapProvider("delete_folder", err)
	}
	if folderID == "root" {
		return gwerrors.NewValidation("refusing to delete the drive root")
	}
	return a.deleteByID(ctx, client, folderID, folder, "delete_folder")
}

func (a *Adapter) deleteByID(ctx context.Context, client *http.Client, id, display, op string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/files/%s", apiBase, id), nil)
	if err != nil {
		return gwerrors.NewProvider(provider.GoogleDrive, op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return gwerrors.NewProvider(provider.GoogleDrive, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return gwerrors.NewNotFound(provider.GoogleDrive, display)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return gwerrors.NewProvider(provider.GoogleDrive, op,
			fmt.Errorf("delete failed: %s: %s", resp.Status, data))
	}
	return nil
}

// CreateFolder resolves with creation enabled, which is a no-op for segments
// that already exist.
func (a *Adapter) CreateFolder(ctx context.Context, folder string) error {
	client := a.httpClient(ctx)
	if _, err := a.resolveFolder(ctx, client, folder, true); err != nil {
		return wrapProvider("create_folder", err)
	}
	return nil
}

// resolveFileID maps a stored file name to its Drive id by searching the
// containing folder.
func (a *Adapter) resolveFileID(ctx context.Context, client *http.Client, name, folder string) (string, error) {
	folderID, err := a.resolveFolder(ctx, client, folder, false)
	if err != nil {
		return "", err
	}
	file, err := a.findFile(ctx, client, folderID, name)
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", gwerrors.NewNotFound(provider.GoogleDrive, provider.RemotePath(folder, name))
	}
	return file.ID, nil
}

// wrapProvider keeps already-tagged gateway errors intact and wraps raw
// transport errors.
func wrapProvider(op string, err error) error {
	if gwerrors.IsGateway(err) {
		return err
	}
	return gwerrors.NewProvider(provider.GoogleDrive, op, err)
}

// escapeQuery escapes single quotes inside Drive query string literals.
func escapeQuery(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
