// Package mega adapts MEGA through its SDK. MEGA sessions are derived from
// email and password on every call; the SDK only moves files through the
// local filesystem, so uploads and downloads stage through temp files.
package mega

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	megasdk "github.com/t3rm1n4l/go-mega"

	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// Adapter talks to one MEGA account.
type Adapter struct {
	creds  config.Credentials
	logger *slog.Logger
}

// New resolves MEGA credentials from the environment.
func New(_ context.Context, logger *slog.Logger) (*Adapter, error) {
	creds, err := config.ResolveCredentials(provider.Mega)
	if err != nil {
		return nil, err
	}
	return &Adapter{creds: creds, logger: logger}, nil
}

func (a *Adapter) Name() string { return provider.Mega }

func (a *Adapter) Credentials() map[string]string {
	out := make(map[string]string, len(a.creds))
	for k, v := range a.creds {
		out[k] = v
	}
	return out
}

// login opens a fresh session.
func (a *Adapter) login() (*megasdk.Mega, error) {
	client := megasdk.New()
	if err := client.Login(a.creds["MEGA_EMAIL"], a.creds["MEGA_PASSWORD"]); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return client, nil
}

// lookupFolder walks the folder path from the cloud root. Returns the root
// node for the empty path and nil when any segment is missing.
func lookupFolder(client *megasdk.Mega, folder string) (*megasdk.Node, error) {
	root := client.FS.GetRoot()
	segments := provider.FolderSegments(folder)
	if len(segments) == 0 {
		return root, nil
	}

	nodes, err := client.FS.PathLookup(root, segments)
	if err != nil {
		if err == megasdk.ENOENT {
			return nil, nil
		}
		return nil, err
	}
	if len(nodes) < len(segments) {
		return nil, nil
	}
	return nodes[len(nodes)-1], nil
}

// ensureFolder walks the folder path, creating missing segments.
func ensureFolder(client *megasdk.Mega, folder string) (*megasdk.Node, error) {
	node := client.FS.GetRoot()
	for _, segment := range provider.FolderSegments(folder) {
		children, err := client.FS.GetChildren(node)
		if err != nil {
			return nil, err
		}
		var next *megasdk.Node
		for _, child := range children {
			if child.GetName() == segment && child.GetType() == megasdk.FOLDER {
				next = child
				break
			}
		}
		if next == nil {
			next, err = client.CreateDir(segment, node)
			if err != nil {
				return nil, err
			}
		}
		node = next
	}
	return node, nil
}

func findChild(client *megasdk.Mega, parent *megasdk.Node, name string) (*megasdk.Node, error) {
	children, err := client.FS.GetChildren(parent)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.GetName() == name {
			return child, nil
		}
	}
	return nil, nil
}

func (a *Adapter) Upload(ctx context.Context, content []byte, name, folder string) (*provider.UploadResult, error) {
	client, err := a.login()
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "upload", err)
	}

	parent, err := ensureFolder(client, folder)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "upload", err)
	}

	tmp, err := os.CreateTemp("", "cloudgate-mega-*")
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "upload", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, gwerrors.NewProvider(provider.Mega, "upload", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "upload", err)
	}

	node, err := client.UploadFile(tmpPath, parent, name, nil)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "upload", err)
	}

	link, err := client.Link(node, true)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "share", err)
	}

	return &provider.UploadResult{URL: link, StorageName: node.GetName()}, nil
}

func (a *Adapter) List(ctx context.Context, folder string) ([]provider.FileListItem, error) {
	client, err := a.login()
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "list", err)
	}

	parent, err := lookupFolder(client, folder)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "list", err)
	}
	if parent == nil {
		return nil, gwerrors.NewNotFound(provider.Mega, folder)
	}

	children, err := client.FS.GetChildren(parent)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "list", err)
	}

	items := make([]provider.FileListItem, 0, len(children))
	for _, child := range children {
		item := provider.FileListItem{
			ID:       child.GetHash(),
			Name:     child.GetName(),
			Size:     strconv.FormatInt(child.GetSize(), 10),
			IsFolder: child.GetType() == megasdk.FOLDER,
		}
		if !item.IsFolder {
			item.ContentType = provider.InferContentType(child.GetName())
		} else {
			item.Size = "0"
		}
		ts := child.GetTimeStamp()
		if !ts.IsZero() {
			created := ts
			item.CreatedAt = &created
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) Download(ctx context.Context, fileID, folder string) ([]byte, error) {
	client, err := a.login()
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "download", err)
	}

	node, err := a.findFile(client, fileID, folder)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "cloudgate-mega-*")
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "download", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, "download")
	if err := client.DownloadFile(node, tmpPath, nil); err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "download", err)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "download", err)
	}
	return data, nil
}

func (a *Adapter) Delete(ctx context.Context, fileID, folder string) error {
	client, err := a.login()
	if err != nil {
		return gwerrors.NewProvider(provider.Mega, "delete", err)
	}

	node, err := a.findFile(client, fileID, folder)
	if err != nil {
		return err
	}

	if err := client.Delete(node, true); err != nil {
		return gwerrors.NewProvider(provider.Mega, "delete", err)
	}
	return nil
}

// DeleteFolder removes the folder node; MEGA discards its contents with it.
func (a *Adapter) DeleteFolder(ctx context.Context, folder string) error {
	client, err := a.login()
	if err != nil {
		return gwerrors.NewProvider(provider.Mega, "delete_folder", err)
	}

	node, err := lookupFolder(client, folder)
	if err != nil {
		return gwerrors.NewProvider(provider.Mega, "delete_folder", err)
	}
	if node == nil {
		return gwerrors.NewNotFound(provider.Mega, folder)
	}
	if node == client.FS.GetRoot() {
		return gwerrors.NewValidation("refusing to delete the cloud root")
	}

	if err := client.Delete(node, true); err != nil {
		return gwerrors.NewProvider(provider.Mega, "delete_folder", err)
	}
	return nil
}

// CreateFolder creates missing path segments; existing ones are reused.
func (a *Adapter) CreateFolder(ctx context.Context, folder string) error {
	client, err := a.login()
	if err != nil {
		return gwerrors.NewProvider(provider.Mega, "create_folder", err)
	}
	if _, err := ensureFolder(client, folder); err != nil {
		return gwerrors.NewProvider(provider.Mega, "create_folder", err)
	}
	return nil
}

func (a *Adapter) findFile(client *megasdk.Mega, name, folder string) (*megasdk.Node, error) {
	parent, err := lookupFolder(client, folder)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "lookup", err)
	}
	if parent == nil {
		return nil, gwerrors.NewNotFound(provider.Mega, folder)
	}

	node, err := findChild(client, parent, name)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Mega, "lookup", err)
	}
	if node == nil {
		return nil, gwerrors.NewNotFound(provider.Mega, provider.RemotePath(folder, name))
	}
	return node, nil
}
