// Package storage defines the object storage interface used for the audit trail's blob
// backing store and for export archives.
//
// Backends register themselves with the factory from an init() function in their own
// package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Storage.MyBackend)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned (possibly wrapped) by Download and GetMetadata when no object
// exists at the requested path.
var ErrNotFound = errors.New("object not found")

// Storage defines the interface for all storage backends
type Storage interface {
	// Upload stores an object, replacing any previous content, and returns its path and checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves an object
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// GetURL returns a download URL valid for ttl. Cloud backends sign the URL;
	// local storage returns a file:// URL.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata retrieves object metadata without downloading the content
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)

	// List returns the paths of all objects under prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string // hex SHA-256
}

// FileMetadata contains metadata about a stored object
type FileMetadata struct {
	Path         string
	Size         int64
	Checksum     string
	LastModified time.Time
}

// ReadAll downloads the object at path into memory
func ReadAll(ctx context.Context, s Storage, path string) ([]byte, error) {
	rc, err := s.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
