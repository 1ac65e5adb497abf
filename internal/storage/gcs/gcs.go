// Package gcs implements the Google Cloud Storage backend. Credentials come from an inline
// service account JSON, a key file, or Application Default Credentials when neither is set.
// Archive downloads use V4 signed URLs.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	appconfig "github.com/go-green-rwanda/admin-backend/internal/config"
	appstorage "github.com/go-green-rwanda/admin-backend/internal/storage"
	"github.com/go-green-rwanda/admin-backend/pkg/checksum"
)

const checksumMetadataKey = "sha256"

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements the Storage interface for Google Cloud Storage
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// clientOptions translates the config into client options
func clientOptions(cfg *appconfig.GCSStorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// New creates a new Google Cloud Storage backend
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	client, err := storage.NewClient(context.Background(), clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path)
}

// wrap maps storage.ErrObjectNotExist onto the package-independent ErrNotFound
func wrap(op, path string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
	}
	return fmt.Errorf("gcs %s %s: %w", op, path, err)
}

// Upload writes the object with its SHA-256 stored as custom metadata
func (s *GCSStorage) Upload(ctx context.Context, path string, reader io.Reader, _ int64) (*appstorage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	sum := checksum.Bytes(data)

	w := s.object(path).NewWriter(ctx)
	w.Metadata = map[string]string{checksumMetadataKey: sum}
	_, err = w.Write(data)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, wrap("write", path, err)
	}
	return &appstorage.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download streams the object
func (s *GCSStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.object(path).NewReader(ctx)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	return r, nil
}

// Delete removes the object; a missing object is not an error
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	if err := s.object(path).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return wrap("delete", path, err)
	}
	return nil
}

// GetURL returns a V4 signed URL. Signing needs a service account key or signBlob permission.
func (s *GCSStorage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if _, err := s.object(path).Attrs(ctx); err != nil {
		return "", wrap("attrs", path, err)
	}

	signed, err := s.client.Bucket(s.bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", path, err)
	}
	return signed, nil
}

// Exists reports whether the object has attributes
func (s *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.object(path).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, wrap("attrs", path, err)
	}
}

// GetMetadata reads object attributes, hashing the content when no checksum was stored
func (s *GCSStorage) GetMetadata(ctx context.Context, path string) (*appstorage.FileMetadata, error) {
	attrs, err := s.object(path).Attrs(ctx)
	if err != nil {
		return nil, wrap("attrs", path, err)
	}

	sum := attrs.Metadata[checksumMetadataKey]
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

	return &appstorage.FileMetadata{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     sum,
		LastModified: attrs.Updated,
	}, nil
}

// List returns every object name under prefix, sorted
func (s *GCSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	slices.Sort(names)
	return names, nil
}
