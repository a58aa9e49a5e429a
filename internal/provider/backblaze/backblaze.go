// Package backblaze adapts Backblaze B2 through its S3-compatible endpoint.
package backblaze

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cloudgate/cloudgate/internal/config"
	"github.com/cloudgate/cloudgate/internal/provider"
	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// Adapter talks to one B2 bucket through the S3 API.
type Adapter struct {
	creds    config.Credentials
	client   *s3.Client
	bucket   string
	endpoint string
	logger   *slog.Logger
}

// New resolves B2 credentials from the environment and builds the S3 client.
// A missing credential fails here, before any network traffic.
func New(ctx context.Context, logger *slog.Logger) (*Adapter, error) {
	creds, err := config.ResolveCredentials(provider.Backblaze)
	if err != nil {
		return nil, err
	}

	endpoint := creds["B2_ENDPOINT"]
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.backblazeb2.com", creds["B2_REGION"])
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds["B2_REGION"]),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds["B2_KEY_ID"], creds["B2_APP_KEY"], "")),
	)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Backblaze, "configure", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &Adapter{
		creds:    creds,
		client:   client,
		bucket:   creds["B2_BUCKET"],
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

func (a *Adapter) Name() string { return provider.Backblaze }

func (a *Adapter) Credentials() map[string]string {
	out := make(map[string]string, len(a.creds))
	for k, v := range a.creds {
		out[k] = v
	}
	return out
}

func (a *Adapter) Upload(ctx context.Context, content []byte, name, folder string) (*provider.UploadResult, error) {
	key := provider.RemotePath(folder, name)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(provider.InferContentType(name)),
	})
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Backblaze, "upload", err)
	}

	a.logger.Debug("uploaded object", "provider", provider.Backblaze, "key", key, "size", len(content))

	return &provider.UploadResult{
		URL:         fmt.Sprintf("%s/%s/%s", a.endpoint, a.bucket, key),
		StorageName: key,
	}, nil
}

func (a *Adapter) List(ctx context.Context, folder string) ([]provider.FileListItem, error) {
	entries, err := a.listAll(ctx, provider.NormalizeFolder(folder))
	if err != nil {
		return nil, err
	}
	return provider.EmulateFolderListing(entries, folder), nil
}

func (a *Adapter) Download(ctx context.Context, fileID, folder string) ([]byte, error) {
	key := provider.RemotePath(folder, fileID)

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, gwerrors.NewNotFound(provider.Backblaze, key)
		}
		return nil, gwerrors.NewProvider(provider.Backblaze, "download", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, gwerrors.NewProvider(provider.Backblaze, "download", err)
	}
	return data, nil
}

// Delete heads the object first so a repeated delete surfaces NOT_FOUND;
// DeleteObject alone succeeds silently on missing keys.
func (a *Adapter) Delete(ctx context.Context, fileID, folder string) error {
	key := provider.RemotePath(folder, fileID)

	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return gwerrors.NewNotFound(provider.Backblaze, key)
		}
		return gwerrors.NewProvider(provider.Backblaze, "delete", err)
	}

	_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return gwerrors.NewProvider(provider.Backblaze, "delete", err)
	}
	return nil
}

func (a *Adapter) DeleteFolder(ctx context.Context, folder string) error {
	entries, err := a.listAll(ctx, "")
	if err != nil {
		return err
	}

	keys := provider.KeysUnderFolder(entries, folder)
	for i, key := range keys {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return gwerrors.NewProvider(provider.Backblaze, "delete_folder",
				fmt.Errorf("deleted %d of %d objects, failed at %q: %w", i, len(keys), key, err))
		}
	}
	return nil
}

// listAll pages through ListObjectsV2 under the given prefix.
func (a *Adapter) listAll(ctx context.Context, prefix string) ([]provider.ObjectEntry, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix + "/")
	}

	var entries []provider.ObjectEntry
	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, gwerrors.NewProvider(provider.Backblaze, "list", err)
		}
		for _, obj := range page.Contents {
			entry := provider.ObjectEntry{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				entry.Size = *obj.Size
			}
			if obj.LastModified != nil {
				entry.Updated = *obj.LastModified
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" ||
			strings.Contains(code, "404")
	}
	return false
}
