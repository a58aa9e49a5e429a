// Package dropbox adapts Dropbox through its HTTP v2 API. Dropbox has real
// folders, so listing and recursive deletion map directly onto API calls
// instead of prefix emulation.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

const (
	apiBase     = "https://api.dropboxapi.com/2"
	contentBase = "https://content.dropboxapi.com/2"
	tokenURL    = "https://api.dropboxapi.com/oauth2/token"
)

// Adapter talks to one Dropbox account.
type Adapter struct {
	creds  config.Credentials
	http   *http.Client
	logger *slog.Logger
}

// New resolves Dropbox credentials from the environment.
func New(_ context.Context, logger *slog.Logger) (*Adapter, error) {
	creds, err := config.ResolveCredentials(provider.Dropbox)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		creds:  creds,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}, nil
}

func (a *Adapter) Name() string { return provider.Dropbox }

func (a *Adapter) Credentials() map[string]string {
	out := make(map[string]string, len(a.creds))
	for k, v := range a.creds {
		out[k] = v
	}
	return out
}

// accessToken prefers a refresh-token exchange when one is configured, so
// long-lived deployments keep working after the static token expires.
func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	refresh := a.creds["DROPBOX_REFRESH_TOKEN"]
	if refresh == "" {
		return a.creds["DROPBOX_ACCESS_TOKEN"], nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
		"client_id":     {a.creds["DROPBOX_APP_KEY"]},
		"client_secret": {a.creds["DROPBOX_APP_SECRET"]},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token exchange failed: %s: %s", resp.Status, body)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// rpc performs a JSON-in JSON-out call against the api host.
func (a *Adapter) rpc(ctx context.Context, endpoint string, args, out any) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+endpoint,
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &apiError{status: resp.StatusCode, body: string(data)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("dropbox api error %d: %s", e.status, e.body)
}

func (e *apiError) isNotFound() bool {
	return strings.Contains(e.body, "not_found")
}

func (e *apiError) isConflict() bool {
	return e.status == http.StatusConflict && strings.Contains(e.body, "conflict")
}

// apiPath converts a gateway folder path to the leading-slash form Dropbox
// expects, with "" meaning root.
func apiPath(folder, name string) string {
	p := provider.RemotePath(folder, name)
	if p == "" {
		return ""
	}
	return "/" + p
}

func (a *Adapter) Upload(ctx context.Context, content []byte, name, folder string) (*provider.UploadResult, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "upload", err)
	}

	arg, _ := json.Marshal(map[string]any{
		"path":       apiPath(folder, name),
		"mode":       "add",
		"autorename": true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		contentBase+"/files/upload", bytes.NewReader(content))
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "upload", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.NewProvider(provider.Dropbox, "upload",
			fmt.Errorf("upload failed: %s: %s", resp.Status, data))
	}

	var uploaded struct {
		Name        string `json:"name"`
		PathDisplay string `json:"path_display"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "upload", err)
	}

	link, err := a.shareLink(ctx, uploaded.PathDisplay)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "share", err)
	}

	// Autorename may have changed the stored name.
	return &provider.UploadResult{URL: link, StorageName: uploaded.Name}, nil
}

// shareLink creates a shared link, falling back to the existing one when the
// file is already shared.
func (a *Adapter) shareLink(ctx context.Context, path string) (string, error) {
	var created struct {
		URL string `json:"url"`
	}
	err := a.rpc(ctx, "/sharing/create_shared_link_with_settings",
		map[string]any{"path": path}, &created)
	if err == nil {
		return directURL(created.URL), nil
	}

	apiErr, ok := err.(*apiError)
	if !ok || !strings.Contains(apiErr.body, "shared_link_already_exists") {
		return "", err
	}

	var listed struct {
		Links []struct {
			URL string `json:"url"`
		} `json:"links"`
	}
	err = a.rpc(ctx, "/sharing/list_shared_links",
		map[string]any{"path": path, "direct_only": true}, &listed)
	if err != nil {
		return "", err
	}
	if len(listed.Links) == 0 {
		return "", fmt.Errorf("no shared link found for %s", path)
	}
	return directURL(listed.Links[0].URL), nil
}

// directURL rewrites a share link so it serves the file content directly.
func directURL(u string) string {
	return strings.Replace(u, "?dl=0", "?dl=1", 1)
}

func (a *Adapter) List(ctx context.Context, folder string) ([]provider.FileListItem, error) {
	type entry struct {
		Tag            string    `json:".tag"`
		ID             string    `json:"id"`
		Name           string    `json:"name"`
		Size           int64     `json:"size"`
		ClientModified time.Time `json:"client_modified"`
		ServerModified time.Time `json:"server_modified"`
	}
	type page struct {
		Entries []entry `json:"entries"`
		Cursor  string  `json:"cursor"`
		HasMore bool    `json:"has_more"`
	}

	var entries []entry
	var p page
	err := a.rpc(ctx, "/files/list_folder", map[string]any{
		"path": apiPath(folder, ""),
	}, &p)
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.isNotFound() {
			return nil, gwerrors.NewNotFound(provider.Dropbox, folder)
		}
		return nil, gwerrors.NewProvider(provider.Dropbox, "list", err)
	}
	entries = append(entries, p.Entries...)

	for p.HasMore {
		cursor := p.Cursor
		p = page{}
		err := a.rpc(ctx, "/files/list_folder/continue",
			map[string]any{"cursor": cursor}, &p)
		if err != nil {
			return nil, gwerrors.NewProvider(provider.Dropbox, "list", err)
		}
		entries = append(entries, p.Entries...)
	}

	items := make([]provider.FileListItem, 0, len(entries))
	for _, e := range entries {
		item := provider.FileListItem{
			ID:       e.ID,
			Name:     e.Name,
			Size:     strconv.FormatInt(e.Size, 10),
			IsFolder: e.Tag == "folder",
		}
		if !item.IsFolder {
			item.ContentType = provider.InferContentType(e.Name)
			if !e.ClientModified.IsZero() {
				created := e.ClientModified
				item.CreatedAt = &created
			}
			if !e.ServerModified.IsZero() {
				updated := e.ServerModified
				item.UpdatedAt = &updated
			}
		} else {
			item.Size = "0"
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) Download(ctx context.Context, fileID, folder string) ([]byte, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "download", err)
	}

	arg, _ := json.Marshal(map[string]any{"path": apiPath(folder, fileID)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		contentBase+"/files/download", nil)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "download", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(data), "not_found") {
			return nil, gwerrors.NewNotFound(provider.Dropbox, provider.RemotePath(folder, fileID))
		}
		return nil, gwerrors.NewProvider(provider.Dropbox, "download",
			fmt.Errorf("download failed: %s: %s", resp.Status, data))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Dropbox, "download", err)
	}
	return data, nil
}

func (a *Adapter) Delete(ctx context.Context, fileID, folder string) error {
	err := a.rpc(ctx, "/files/delete_v2",
		map[string]any{"path": apiPath(folder, fileID)}, nil)
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.isNotFound() {
			return gwerrors.NewNotFound(provider.Dropbox, provider.RemotePath(folder, fileID))
		}
		return gwerrors.NewProvider(provider.Dropbox, "delete", err)
	}
	return nil
}

// DeleteFolder relies on Dropbox deleting folders recursively.
func (a *Adapter) DeleteFolder(ctx context.Context, folder string) error {
	err := a.rpc(ctx, "/files/delete_v2",
		map[string]any{"path": apiPath(folder, "")}, nil)
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.isNotFound() {
			return gwerrors.NewNotFound(provider.Dropbox, folder)
		}
		return gwerrors.NewProvider(provider.Dropbox, "delete_folder", err)
	}
	return nil
}

// CreateFolder treats an existing folder as success.
func (a *Adapter) CreateFolder(ctx context.Context, folder string) error {
	err := a.rpc(ctx, "/files/create_folder_v2",
		map[string]any{"path": apiPath(folder, ""), "autorename": false}, nil)
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.isConflict() {
			return nil
		}
		return gwerrors.NewProvider(provider.Dropbox, "create_folder", err)
	}
	return nil
}
