package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/go-green-rwanda/admin-backend/internal/storage"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
	"github.com/go-green-rwanda/admin-backend/pkg/checksum"
)

const (
	archivePrefix = "exports"
	archiveURLTTL = 15 * time.Minute
)

// ArchiveResult describes an export stored in object storage
type ArchiveResult struct {
	Path        string    `json:"path"`
	Format      Format    `json:"format"`
	Entries     int       `json:"entries"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Archiver writes exports into object storage under exports/
type Archiver struct {
	storage   storage.Storage
	delimiter rune
	now       func() time.Time
}

// NewArchiver creates an Archiver writing delimited text with delim
func NewArchiver(s storage.Storage, delim rune) *Archiver {
	return &Archiver{
		storage:   s,
		delimiter: delim,
		now:       time.Now,
	}
}

// Archive renders entries in format f and uploads them. A download URL is included when
// the storage backend can produce one.
func (a *Archiver) Archive(ctx context.Context, entries []Entry, f Format) (*ArchiveResult, error) {
	data, err := Export(entries, f, a.delimiter)
	if err != nil {
		return nil, err
	}

	created := a.now().UTC()
	key := path.Join(archivePrefix, FileName(f, created))

	up, err := a.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to upload audit archive: %w", err)
	}
	if up.Checksum != "" {
		if err := checksum.Verify(data, up.Checksum); err != nil {
			return nil, fmt.Errorf("audit archive %s was stored corrupted: %w", up.Path, err)
		}
	}
	telemetry.AuditExportsTotal.WithLabelValues(string(f)).Inc()

	res := &ArchiveResult{
		Path:      up.Path,
		Format:    f,
		Entries:   len(entries),
		Size:      up.Size,
		Checksum:  up.Checksum,
		CreatedAt: created,
	}
	if url, err := a.storage.GetURL(ctx, up.Path, archiveURLTTL); err == nil {
		res.DownloadURL = url
	}
	return res, nil
}

// ArchiveInfo describes an archive already present in object storage
type ArchiveInfo struct {
	Path         string    `json:"path"`
	Format       Format    `json:"format,omitempty"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
	LastModified time.Time `json:"lastModified"`
	DownloadURL  string    `json:"downloadUrl,omitempty"`
}

// List returns the archives under exports/, newest first
func (a *Archiver) List(ctx context.Context) ([]ArchiveInfo, error) {
	paths, err := a.paths(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ArchiveInfo, 0, len(paths))
	for _, p := range paths {
		meta, err := a.storage.GetMetadata(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat audit archive %s: %w", p, err)
		}
		info := ArchiveInfo{
			Path:         p,
			Size:         meta.Size,
			Checksum:     meta.Checksum,
			LastModified: meta.LastModified,
		}
		if f, err := ParseFormat(strings.TrimPrefix(path.Ext(p), ".")); err == nil {
			info.Format = f
		}
		if url, err := a.storage.GetURL(ctx, p, archiveURLTTL); err == nil {
			info.DownloadURL = url
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Prune deletes all but the newest keep archives and returns how many were removed.
// keep <= 0 removes nothing.
func (a *Archiver) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	paths, err := a.paths(ctx)
	if err != nil {
		return 0, err
	}
	if len(paths) <= keep {
		return 0, nil
	}

	removed := 0
	for _, p := range paths[keep:] {
		if err := a.storage.Delete(ctx, p); err != nil {
			return removed, fmt.Errorf("failed to delete audit archive %s: %w", p, err)
		}
		removed++
	}
	return removed, nil
}

// paths lists archive keys newest first. File names embed an RFC 3339 UTC timestamp,
// so reverse lexical order is reverse chronological.
func (a *Archiver) paths(ctx context.Context) ([]string, error) {
	paths, err := a.storage.List(ctx, archivePrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list audit archives: %w", err)
	}
	slices.Sort(paths)
	slices.Reverse(paths)
	return paths, nil
}
