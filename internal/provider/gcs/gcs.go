// Package gcs adapts Google Cloud Storage through its JSON API, authenticated
// with a service-account JWT grant. Folders are emulated over object name
// prefixes.
package gcs

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

	"golang.org/x/oauth2/jwt"

	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

const (
	storageBase = "https://storage.googleapis.com/storage/v1"
	uploadBase  = "https://storage.googleapis.com/upload/storage/v1"
	publicBase  = "https://storage.googleapis.com"
	tokenURL    = "https://oauth2.googleapis.com/token"
	scope       = "https://www.googleapis.com/auth/devstorage.full_control"
)

// Adapter talks to one GCS bucket.
type Adapter struct {
	creds  config.Credentials
	bucket string
	logger *slog.Logger
}

// New resolves GCS service-account credentials from the environment.
func New(_ context.Context, logger *slog.Logger) (*Adapter, error) {
	creds, err := config.ResolveCredentials(provider.GoogleCloud)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		creds:  creds,
		bucket: creds["GCS_BUCKET"],
		logger: logger,
	}, nil
}

func (a *Adapter) Name() string { return provider.GoogleCloud }

func (a *Adapter) Credentials() map[string]string {
	out := make(map[string]string, len(a.creds))
	for k, v := range a.creds {
		out[k] = v
	}
	return out
}

// httpClient builds a fresh token-bearing client. Private keys stored in env
// vars carry literal \n sequences; restore real newlines before signing.
func (a *Adapter) httpClient(ctx context.Context) *http.Client {
	key := strings.ReplaceAll(a.creds["GCS_PRIVATE_KEY"], `\n`, "\n")
	cfg := &jwt.Config{
		Email:      a.creds["GCS_CLIENT_EMAIL"],
		PrivateKey: []byte(key),
		Scopes:     []string{scope},
		TokenURL:   tokenURL,
	}
	client := cfg.Client(ctx)
	client.Timeout = 60 * time.Second
	return client
}

func (a *Adapter) Upload(ctx context.Context, content []byte, name, folder string) (*provider.UploadResult, error) {
	object := provider.RemotePath(folder, name)
	client := a.httpClient(ctx)

	uploadURL := fmt.Sprintf("%s/b/%s/o?uploadType=media&name=%s",
		uploadBase, a.bucket, url.QueryEscape(object))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL,
		bytes.NewReader(content))
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "upload", err)
	}
	req.Header.Set("Content-Type", provider.InferContentType(name))

	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "upload",
			fmt.Errorf("upload failed: %s: %s", resp.Status, data))
	}

	if err := a.makePublic(ctx, client, object); err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "share", err)
	}

	return &provider.UploadResult{
		URL:         fmt.Sprintf("%s/%s/%s", publicBase, a.bucket, object),
		StorageName: object,
	}, nil
}

// makePublic grants allUsers read on the object so the returned URL serves
// without auth.
func (a *Adapter) makePublic(ctx context.Context, client *http.Client, object string) error {
	aclURL := fmt.Sprintf("%s/b/%s/o/%s/acl", storageBase, a.bucket,
		url.PathEscape(object))
	body := strings.NewReader(`{"entity":"allUsers","role":"READER"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, aclURL, body)
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
		return fmt.Errorf("acl grant failed: %s: %s", resp.Status, data)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context, folder string) ([]provider.FileListItem, error) {
	entries, err := a.listAll(ctx, provider.NormalizeFolder(folder))
	if err != nil {
		return nil, err
	}
	return provider.EmulateFolderListing(entries, folder), nil
}

func (a *Adapter) Download(ctx context.Context, fileID, folder string) ([]byte, error) {
	object := provider.RemotePath(folder, fileID)
	client := a.httpClient(ctx)

	getURL := fmt.Sprintf("%s/b/%s/o/%s?alt=media", storageBase, a.bucket,
		url.PathEscape(object))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "download", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gwerrors.NewNotFound(provider.GoogleCloud, object)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "download",
			fmt.Errorf("download failed: %s: %s", resp.Status, data))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.GoogleCloud, "download", err)
	}
	return data, nil
}

func (a *Adapter) Delete(ctx context.Context, fileID, folder string) error {
	object := provider.RemotePath(folder, fileID)
	return a.deleteObject(ctx, a.httpClient(ctx), object)
}

func (a *Adapter) deleteObject(ctx context.Context, client *http.Client, object string) error {
	delURL := fmt.Sprintf("%s/b/%s/o/%s", storageBase, a.bucket,
		url.PathEscape(object))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, delURL, nil)
	if err != nil {
		return gwerrors.NewProvider(provider.GoogleCloud, "delete", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return gwerrors.NewProvider(provider.GoogleCloud, "delete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return gwerrors.NewNotFound(provider.GoogleCloud, object)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return gwerrors.NewProvider(provider.GoogleCloud, "delete",
			fmt.Errorf("delete failed: %s: %s", resp.Status, data))
	}
	return nil
}

func (a *Adapter) DeleteFolder(ctx context.Context, folder string) error {
	entries, err := a.listAll(ctx, "")
	if err != nil {
		return err
	}

	client := a.httpClient(ctx)
	keys := provider.KeysUnderFolder(entries, folder)
	for i, key := range keys {
		if err := a.deleteObject(ctx, client, key); err != nil {
			return gwerrors.NewProvider(provider.GoogleCloud, "delete_folder",
				fmt.Errorf("deleted %d of %d objects, failed at %q: %w", i, len(keys), key, err))
		}
	}
	return nil
}

// listAll pages through the objects API. GCS reports sizes as strings; they
// pass through unparsed where possible.
func (a *Adapter) listAll(ctx context.Context, prefix string) ([]provider.ObjectEntry, error) {
	client := a.httpClient(ctx)

	var entries []provider.ObjectEntry
	pageToken := ""
	for {
		listURL := fmt.Sprintf("%s/b/%s/o?maxResults=1000", storageBase, a.bucket)
		if prefix != "" {
			listURL += "&prefix=" + url.QueryEscape(prefix+"/")
		}
		if pageToken != "" {
			listURL += "&pageToken=" + url.QueryEscape(pageToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, gwerrors.NewProvider(provider.GoogleCloud, "list", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, gwerrors.NewProvider(provider.GoogleCloud, "list", err)
		}

		var page struct {
			Items []struct {
				Name    string    `json:"name"`
				Size    string    `json:"size"`
				Updated time.Time `json:"updated"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, gwerrors.NewProvider(provider.GoogleCloud, "list",
				fmt.Errorf("list failed: %s: %s", resp.Status, data))
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, gwerrors.NewProvider(provider.GoogleCloud, "list", err)
		}

		for _, item := range page.Items {
			size, _ := strconv.ParseInt(item.Size, 10, 64)
			entries = append(entries, provider.ObjectEntry{
				Key:     item.Name,
				Size:    size,
				Updated: item.Updated,
			})
		}

		if page.NextPageToken == "" {
			return entries, nil
		}
		pageToken = page.NextPageToken
	}
}
