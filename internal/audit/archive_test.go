package audit_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/storage"
	"github.com/go-green-rwanda/admin-backend/internal/storage/local"
	"github.com/go-green-rwanda/admin-backend/pkg/checksum"
)

func TestArchiver_Archive(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	entries := []audit.Entry{*shipEntry("e2"), *shipEntry("e1")}
	archiver := audit.NewArchiver(store, ';')

	for _, f := range []audit.Format{audit.FormatJSON, audit.FormatCSV} {
		t.Run(string(f), func(t *testing.T) {
			res, err := archiver.Archive(ctx, entries, f)
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(res.Path, "exports/audit-logs-"), res.Path)
			assert.True(t, strings.HasSuffix(res.Path, "."+string(f)), res.Path)
			assert.Equal(t, 2, res.Entries)
			assert.Equal(t, f, res.Format)
			assert.Len(t, res.Checksum, 64)
			assert.True(t, strings.HasPrefix(res.DownloadURL, "file://"), res.DownloadURL)
			assert.WithinDuration(t, time.Now(), res.CreatedAt, time.Minute)

			data, err := storage.ReadAll(ctx, store, res.Path)
			require.NoError(t, err)
			assert.Equal(t, res.Size, int64(len(data)))

			if f == audit.FormatJSON {
				parsed, err := audit.ParseJSON(data)
				require.NoError(t, err)
				assert.Len(t, parsed, 2)
			} else {
				assert.True(t, strings.HasPrefix(string(data), "ID;Timestamp;"))
			}
		})
	}

	listed, err := store.List(ctx, "exports/")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestArchiver_UnsupportedFormat(t *testing.T) {
	store, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	_, err = audit.NewArchiver(store, ',').Archive(context.Background(), nil, audit.Format("xml"))
	assert.Error(t, err)
}

// corruptingStorage reports a checksum that does not match what was uploaded
type corruptingStorage struct {
	storage.Storage
}

func (c corruptingStorage) Upload(ctx context.Context, path string, r io.Reader, size int64) (*storage.UploadResult, error) {
	res, err := c.Storage.Upload(ctx, path, r, size)
	if err != nil {
		return nil, err
	}
	res.Checksum = checksum.Bytes([]byte("something else"))
	return res, nil
}

func TestArchiver_ChecksumMismatch(t *testing.T) {
	store, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	_, err = audit.NewArchiver(corruptingStorage{store}, ',').Archive(context.Background(), []audit.Entry{*shipEntry("e1")}, audit.FormatJSON)
	assert.True(t, errors.Is(err, checksum.ErrMismatch), "got %v", err)
}

func uploadArchive(t *testing.T, s storage.Storage, p, body string) {
	t.Helper()
	_, err := s.Upload(context.Background(), p, strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
}

func TestArchiver_List(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	uploadArchive(t, store, "exports/audit-logs-2026-03-01T00:00:00Z.json", "[]")
	uploadArchive(t, store, "exports/audit-logs-2026-03-02T00:00:00Z.csv", "ID,Timestamp\n")
	uploadArchive(t, store, "snapshots/audit.json", "[]")

	infos, err := audit.NewArchiver(store, ',').List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "exports/audit-logs-2026-03-02T00:00:00Z.csv", infos[0].Path)
	assert.Equal(t, audit.FormatCSV, infos[0].Format)
	assert.Equal(t, int64(len("ID,Timestamp\n")), infos[0].Size)
	assert.Equal(t, checksum.Bytes([]byte("ID,Timestamp\n")), infos[0].Checksum)
	assert.True(t, strings.HasPrefix(infos[0].DownloadURL, "file://"), infos[0].DownloadURL)
	assert.False(t, infos[0].LastModified.IsZero())

	assert.Equal(t, "exports/audit-logs-2026-03-01T00:00:00Z.json", infos[1].Path)
	assert.Equal(t, audit.FormatJSON, infos[1].Format)
}

func TestArchiver_ListEmpty(t *testing.T) {
	store, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	infos, err := audit.NewArchiver(store, ',').List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestArchiver_Prune(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	names := []string{
		"exports/audit-logs-2026-03-01T00:00:00Z.json",
		"exports/audit-logs-2026-03-02T00:00:00Z.json",
		"exports/audit-logs-2026-03-03T00:00:00Z.json",
		"exports/audit-logs-2026-03-04T00:00:00Z.json",
	}
	for _, n := range names {
		uploadArchive(t, store, n, "[]")
	}
	archiver := audit.NewArchiver(store, ',')

	removed, err := archiver.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = archiver.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = archiver.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := store.List(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, names[2:], left)
}
