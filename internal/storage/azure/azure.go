// Package azure stores audit snapshots and archives in an Azure Blob Storage container.
// GetURL hands out short-lived read-only SAS URLs.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/storage"
	"github.com/go-green-rwanda/admin-backend/pkg/checksum"
)

const (
	checksumMetadataKey = "sha256"
	sasClockSkew        = 5 * time.Minute
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage is a storage.Storage over one blob container
type AzureStorage struct {
	client        *azblob.Client
	containerName string
	accountName   string
	accountKey    string
	serviceURL    string
}

// New builds a shared-key client for the configured account
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	switch {
	case cfg.AccountName == "":
		return nil, errors.New("azure account_name is required")
	case cfg.AccountKey == "":
		return nil, errors.New("azure account_key is required")
	case cfg.ContainerName == "":
		return nil, errors.New("azure container_name is required")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure shared key: %w", err)
	}
	serviceURL := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}

	return &AzureStorage{
		client:        client,
		containerName: cfg.ContainerName,
		accountName:   cfg.AccountName,
		accountKey:    cfg.AccountKey,
		serviceURL:    serviceURL,
	}, nil
}

func (s *AzureStorage) container() *container.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName)
}

func (s *AzureStorage) blob(path string) *blob.Client {
	return s.container().NewBlobClient(path)
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// wrap maps missing-blob errors onto storage.ErrNotFound
func wrap(op, path string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	return fmt.Errorf("azure %s %s: %w", op, path, err)
}

// Upload writes a block blob carrying its SHA-256 as metadata
func (s *AzureStorage) Upload(ctx context.Context, path string, reader io.Reader, _ int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	sum := checksum.Bytes(data)

	body := streaming.NopCloser(bytes.NewReader(data))
	opts := &blockblob.UploadOptions{Metadata: map[string]*string{checksumMetadataKey: &sum}}
	if _, err := s.container().NewBlockBlobClient(path).Upload(ctx, body, opts); err != nil {
		return nil, wrap("upload", path, err)
	}
	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download streams the blob body
func (s *AzureStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.blob(path).DownloadStream(ctx, nil)
	if err != nil {
		return nil, wrap("download", path, err)
	}
	return resp.Body, nil
}

// Delete removes the blob; a missing blob is not an error
func (s *AzureStorage) Delete(ctx context.Context, path string) error {
	if _, err := s.blob(path).Delete(ctx, nil); err != nil && !isNotFound(err) {
		return wrap("delete", path, err)
	}
	return nil
}

// GetURL signs a read-only SAS URL for an existing blob
func (s *AzureStorage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if _, err := s.blob(path).GetProperties(ctx, nil); err != nil {
		return "", wrap("properties", path, err)
	}

	cred, err := azblob.NewSharedKeyCredential(s.accountName, s.accountKey)
	if err != nil {
		return "", fmt.Errorf("azure shared key: %w", err)
	}

	now := time.Now().UTC()
	query, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-sasClockSkew),
		ExpiryTime:    now.Add(ttl),
		Permissions:   (&sas.BlobPermissions{Read: true}).String(),
		ContainerName: s.containerName,
		BlobName:      path,
	}.SignWithSharedKey(cred)
	if err != nil {
		return "", fmt.Errorf("sign sas for %s: %w", path, err)
	}

	return s.serviceURL + s.containerName + "/" + url.PathEscape(path) + "?" + query.Encode(), nil
}

// Exists reports whether the blob has properties
func (s *AzureStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.blob(path).GetProperties(ctx, nil)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, wrap("properties", path, err)
	}
}

// metadataValue looks key up case-insensitively; the service may return it capitalised
func metadataValue(md map[string]*string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}

// GetMetadata reads blob properties. Blobs written by other tools are hashed on demand.
func (s *AzureStorage) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	props, err := s.blob(path).GetProperties(ctx, nil)
	if err != nil {
		return nil, wrap("properties", path, err)
	}

	sum := metadataValue(props.Metadata, checksumMetadataKey)
	if sum == "" {
		body, err := s.Download(ctx, path)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if sum, err = checksum.CalculateSHA256(body); err != nil {
			return nil, err
		}
	}

	meta := &storage.FileMetadata{Path: path, Checksum: sum}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	return meta, nil
}

// List returns every blob name under prefix, sorted
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]string, error) {
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{Prefix: &prefix})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure list %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	slices.Sort(names)
	return names, nil
}
