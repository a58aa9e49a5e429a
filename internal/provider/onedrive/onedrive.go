// Package onedrive adapts OneDrive through the Microsoft Graph API. Items
// are path-addressed under the drive root, and folders are real objects
// created segment by segment.
package onedrive

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

	"golang.org/x/oauth2"

	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

const graphBase = "https://graph.microsoft.com/v1.0/me/drive"

// Adapter talks to one OneDrive drive. base and client are overridable for
// tests and default to the live Graph endpoint.
type Adapter struct {
	creds  config.Credentials
	logger *slog.Logger
	base   string
	client *http.Client
}

// New resolves OneDrive OAuth credentials from the environment.
func New(_ context.Context, logger *slog.Logger) (*Adapter, error) {
	creds, err := config.ResolveCredentials(provider.OneDrive)
	if err != nil {
		return nil, err
	}
	return &Adapter{creds: creds, logger: logger}, nil
}

func (a *Adapter) Name() string { return provider.OneDrive }

func (a *Adapter) Credentials() map[string]string {
	out := make(map[string]string, len(a.creds))
	for k, v := range a.creds {
		out[k] = v
	}
	return out
}

func (a *Adapter) baseURL() string {
	if a.base != "" {
		return a.base
	}
	return graphBase
}

// httpClient exchanges the stored refresh token against the tenant's token
// endpoint.
func (a *Adapter) httpClient(ctx context.Context) *http.Client {
	if a.client != nil {
		return a.client
	}
	tenant := a.creds["ONEDRIVE_TENANT_ID"]
	if tenant == "" {
		tenant = "common"
	}
	cfg := &oauth2.Config{
		ClientID:     a.creds["ONEDRIVE_CLIENT_ID"],
		ClientSecret: a.creds["ONEDRIVE_CLIENT_SECRET"],
		Endpoint: oauth2.Endpoint{
			TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
		},
	}
	tok := &oauth2.Token{RefreshToken: a.creds["ONEDRIVE_REFRESH_TOKEN"]}
	client := cfg.Client(ctx, tok)
	client.Timeout = 60 * time.Second
	return client
}

// itemURL builds a path-addressed Graph URL. The empty path addresses the
// drive root.
func itemURL(base, path, suffix string) string {
	if path == "" {
		if suffix == "" {
			return base + "/root"
		}
		return base + "/root/" + suffix
	}
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segments, "/")
	if suffix == "" {
		return fmt.Sprintf("%s/root:/%s:", base, escaped)
	}
	return fmt.Sprintf("%s/root:/%s:/%s", base, escaped, suffix)
}

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	Folder               *struct{} `json:"folder"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
}

func (a *Adapter) Upload(ctx context.Context, content []byte, name, folder string) (*provider.UploadResult, error) {
	client := a.httpClient(ctx)
	path := provider.RemotePath(folder, name)

	// Graph rejects path-addressed uploads into a missing parent.
	if provider.NormalizeFolder(folder) != "" {
		if err := a.ensureFolder(ctx, client, folder); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		itemURL(a.baseURL(), path, "content"), bytes.NewReader(content))
	if err != nil {
		return nil, gwerrors.NewProvider(provider.OneDrive, "upload", err)
	}
	req.Header.Set("Content-Type", provider.InferContentType(name))

	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.OneDrive, "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.NewProvider(provider.OneDrive, "upload",
			fmt.Errorf("upload failed: %s: %s", resp.Status, data))
	}

	var item driveItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, gwerrors.NewProvider(provider.OneDrive, "upload", err)
	}

	link, err := a.createLink(ctx, client, item.ID)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.OneDrive, "share", err)
	}

	return &provider.UploadResult{URL: link, StorageName: item.Name}, nil
}

// createLink requests an anonymous view link for the item.
func (a *Adapter) createLink(ctx context.Context, client *http.Client, itemID string) (string, error) {
	body := strings.NewReader(`{"type":"view","scope":"anonymous"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/items/%s/createLink", a.baseURL(), itemID), body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("link creation failed: %s: %s", resp.Status, data)
	}

	var created struct {
		Link struct {
			WebURL string `json:"webUrl"`
		} `json:"link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.Link.WebURL, nil
}

func (a *Adapter) List(ctx context.Context, folder string) ([]provider.FileListItem, error) {
	client := a.httpClient(ctx)

	var items []provider.FileListItem
	next := itemURL(a.baseURL(), provider.NormalizeFolder(folder), "children")
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, gwerrors.NewProvider(provider.OneDrive, "list", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, gwerrors.NewProvider(provider.OneDrive, "list", err)
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, gwerrors.NewNotFound(provider.OneDrive, folder)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, gwerrors.NewProvider(provider.OneDrive, "list",
				fmt.Errorf("list failed: %s: %s", resp.Status, data))
		}

		var page struct {
			Value    []driveItem `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, gwerrors.NewProvider(provider.OneDrive, "list", err)
		}

		for _, it := range page.Value {
			item := provider.FileListItem{
				ID:       it.ID,
				Name:     it.Name,
				Size:     strconv.FormatInt(it.Size, 10),
				IsFolder: it.Folder != nil,
			}
			if it.File != nil {
				item.ContentType = it.File.MimeType
			}
			if !it.CreatedDateTime.IsZero() {
				created := it.CreatedDateTime
				item.CreatedAt = &created
			}
			if !it.LastModifiedDateTime.IsZero() {
				updated := it.LastModifiedDateTime
				item.UpdatedAt = &updated
			}
			items = append(items, item)
		}
		next = page.NextLink
	}
	return items, nil
}

func (a *Adapter) Download(ctx context.Context, fileID, folder string) ([]byte, error) {
	client := a.httpClient(ctx)
	path := provider.RemotePath(folder, fileID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		itemURL(a.baseURL(), path, "content"), nil)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.OneDrive, "download", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.OneDrive, "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gwerrors.NewNotFound(provider.OneDrive, path)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.NewProvider(provider.OneDrive, "download",
			fmt.Errorf("download failed: %s: %s", resp.Status, data))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.OneDrive, "download", err)
	}
	return data, nil
}

func (a *Adapter) Delete(ctx context.Context, fileID, folder string) error {
	return a.deletePath(ctx, provider.RemotePath(folder, fileID), "delete")
}

// DeleteFolder deletes the folder item; Graph removes its contents with it.
func (a *Adapter) DeleteFolder(ctx context.Context, folder string) error {
	path := provider.NormalizeFolder(folder)
	if path == "" {
		return gwerrors.NewValidation("refusing to delete the drive root")
	}
	return a.deletePath(ctx, path, "delete_folder")
}

func (a *Adapter) deletePath(ctx context.Context, path, op string) error {
	client := a.httpClient(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		itemURL(a.baseURL(), path, ""), nil)
	if err != nil {
		return gwerrors.NewProvider(provider.OneDrive, op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return gwerrors.NewProvider(provider.OneDrive, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return gwerrors.NewNotFound(provider.OneDrive, path)
	}
	if resp.StatusCode != http.StatusNoContent {
		data, _ := io.ReadAll(resp.Body)
		return gwerrors.NewProvider(provider.OneDrive, op,
			fmt.Errorf("delete failed: %s: %s", resp.Status, data))
	}
	return nil
}

// CreateFolder creates each missing path segment; an existing segment is a
// no-op success.
func (a *Adapter) CreateFolder(ctx context.Context, folder string) error {
	return a.ensureFolder(ctx, a.httpClient(ctx), folder)
}

func (a *Adapter) ensureFolder(ctx context.Context, client *http.Client, folder string) error {
	parent := ""
	for _, segment := range provider.FolderSegments(folder) {
		if err := a.createChild(ctx, client, parent, segment); err != nil {
			return err
		}
		if parent == "" {
			parent = segment
		} else {
			parent = parent + "/" + segment
		}
	}
	return nil
}

func (a *Adapter) createChild(ctx context.Context, client *http.Client, parent, name string) error {
	body, _ := json.Marshal(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		itemURL(a.baseURL(), parent, "children"), bytes.NewReader(body))
	if err != nil {
		return gwerrors.NewProvider(provider.OneDrive, "create_folder", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return gwerrors.NewProvider(provider.OneDrive, "create_folder", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		return nil
	}
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusConflict && strings.Contains(string(data), "nameAlreadyExists") {
		return nil
	}
	return gwerrors.NewProvider(provider.OneDrive, "create_folder",
		fmt.Errorf("folder create failed: %s: %s", resp.Status, data))
}
