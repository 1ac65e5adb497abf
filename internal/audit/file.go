package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/go-green-rwanda/admin-backend/internal/config"
)

const bytesPerMB = 1 << 20

// FileShipper appends entries to a local file as JSON lines. When MaxSizeMB is set the file
// is rotated to path.1, path.2, ... keeping at most MaxBackups old files.
type FileShipper struct {
	path       string
	limit      int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileShipper opens path for appending, creating it when missing
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, errors.New("file path is required")
	}
	fs := &FileShipper{
		path:       cfg.Path,
		limit:      int64(cfg.MaxSizeMB) * bytesPerMB,
		maxBackups: cfg.MaxBackups,
	}
	if err := fs.open(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileShipper) open() error {
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}
	fs.file, fs.size = f, info.Size()
	return nil
}

// Ship appends one JSON line
func (fs *FileShipper) Ship(_ context.Context, entry *Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.limit > 0 && fs.size > fs.limit {
		if err := fs.rotate(); err != nil {
			slog.Error("audit file rotation failed", "path", fs.path, "error", err)
			if fs.file == nil {
				return err
			}
		}
	}

	n, err := fs.file.Write(line)
	fs.size += int64(n)
	if err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

func (fs *FileShipper) backupName(n int) string {
	return fmt.Sprintf("%s.%d", fs.path, n)
}

// rotate shifts the backups up by one and starts a fresh live file. Callers hold mu.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}
	fs.file = nil

	if fs.maxBackups > 0 {
		_ = os.Remove(fs.backupName(fs.maxBackups))
	}
	for n := fs.maxBackups - 1; n >= 1; n-- {
		_ = os.Rename(fs.backupName(n), fs.backupName(n+1))
	}
	if err := os.Rename(fs.path, fs.backupName(1)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to move audit file aside", "path", fs.path, "error", err)
	}
	return fs.open()
}

// Close closes the live file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
