// Package blob persists the audit list as a single JSON document in object storage,
// rewritten in full on every change. It mirrors browser-style key/value persistence and
// works with any storage backend (local, s3, gcs, azure).
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/storage"
)

// DefaultKey is used when no key is configured
const DefaultKey = "audit-logs.json"

func init() {
	audit.RegisterBackend("blob", func(deps audit.BackendDeps) (audit.Backend, error) {
		if deps.Storage == nil {
			return nil, fmt.Errorf("blob audit backend requires a storage backend")
		}
		return New(deps.Storage, deps.Config.BlobKey), nil
	})
}

// Backend stores the whole list under one key
type Backend struct {
	storage storage.Storage
	key     string
}

// New creates a blob backend writing to key
func New(s storage.Storage, key string) *Backend {
	if key == "" {
		key = DefaultKey
	}
	return &Backend{storage: s, key: key}
}

func (b *Backend) Name() string { return "blob" }

// Load reads the document. A missing document is an empty list; malformed content is an error.
func (b *Backend) Load(ctx context.Context) ([]audit.Entry, error) {
	data, err := storage.ReadAll(ctx, b.storage, b.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []audit.Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", b.key, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []audit.Entry{}, nil
	}

	var entries []audit.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("malformed audit document %s: %w", b.key, err)
	}
	return entries, nil
}

// Append rewrites the document with snapshot
func (b *Backend) Append(ctx context.Context, _ audit.Entry, snapshot []audit.Entry) error {
	return b.write(ctx, snapshot)
}

// Clear writes an empty list so a reload sees no prior data
func (b *Backend) Clear(ctx context.Context) error {
	return b.write(ctx, []audit.Entry{})
}

func (b *Backend) write(ctx context.Context, entries []audit.Entry) error {
	if entries == nil {
		entries = []audit.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode audit document: %w", err)
	}
	if _, err := b.storage.Upload(ctx, b.key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("failed to write %s: %w", b.key, err)
	}
	return nil
}
