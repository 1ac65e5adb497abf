package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/storage"
	"github.com/go-green-rwanda/admin-backend/internal/storage/local"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type staticSource []audit.Entry

func (s staticSource) All() []audit.Entry { return s }

type recordingArchiver struct {
	mu     sync.Mutex
	calls  int
	err    error
	pruned []int
}

func (r *recordingArchiver) Prune(_ context.Context, keep int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned = append(r.pruned, keep)
	return 0, nil
}

func (r *recordingArchiver) Archive(_ context.Context, entries []audit.Entry, f audit.Format) (*audit.ArchiveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &audit.ArchiveResult{Path: "exports/x." + string(f), Format: f, Entries: len(entries)}, nil
}

func (r *recordingArchiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func sampleEntries() staticSource {
	return staticSource{
		{ID: "e2", Timestamp: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Action: audit.ActionDelete, Category: audit.CategoryOrder, Severity: audit.SeverityHigh, Status: audit.StatusSuccess},
		{ID: "e1", Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Action: audit.ActionCreate, Category: audit.CategoryOrder, Severity: audit.SeverityLow, Status: audit.StatusSuccess},
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewAuditArchiveJob_Defaults(t *testing.T) {
	j := NewAuditArchiveJob(staticSource{}, &recordingArchiver{}, &config.AuditArchiveConfig{Format: "xml"})
	assert.Equal(t, 24*time.Hour, j.interval)
	assert.Equal(t, audit.FormatJSON, j.format)

	j = NewAuditArchiveJob(staticSource{}, &recordingArchiver{}, &config.AuditArchiveConfig{IntervalHours: 6, Format: "CSV"})
	assert.Equal(t, 6*time.Hour, j.interval)
	assert.Equal(t, audit.FormatCSV, j.format)
}

// ---------------------------------------------------------------------------
// RunOnce
// ---------------------------------------------------------------------------

func TestAuditArchiveJob_RunOnce_WritesToStorage(t *testing.T) {
	ctx := context.Background()
	s, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	before := testutil.ToFloat64(telemetry.AuditArchiveRunsTotal.WithLabelValues("success"))

	j := NewAuditArchiveJob(sampleEntries(), audit.NewArchiver(s, ','), &config.AuditArchiveConfig{Enabled: true, Format: "csv"})
	res, err := j.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Entries)

	data, err := storage.ReadAll(ctx, s, res.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ID,Timestamp,"))

	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.AuditArchiveRunsTotal.WithLabelValues("success")))
}

func TestAuditArchiveJob_RunOnce_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	s, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	old := []string{
		"exports/audit-logs-2026-01-01T00:00:00Z.json",
		"exports/audit-logs-2026-01-02T00:00:00Z.json",
		"exports/audit-logs-2026-01-03T00:00:00Z.csv",
	}
	for _, p := range old {
		_, err := s.Upload(ctx, p, strings.NewReader("[]"), 2)
		require.NoError(t, err)
	}

	j := NewAuditArchiveJob(sampleEntries(), audit.NewArchiver(s, ','), &config.AuditArchiveConfig{Enabled: true, Keep: 2})
	res, err := j.RunOnce(ctx)
	require.NoError(t, err)

	left, err := s.List(ctx, "exports/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{old[2], res.Path}, left)
}

func TestAuditArchiveJob_RunOnce_KeepZeroSkipsPrune(t *testing.T) {
	rec := &recordingArchiver{}
	j := NewAuditArchiveJob(sampleEntries(), rec, &config.AuditArchiveConfig{Enabled: true})

	_, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.pruned)

	j = NewAuditArchiveJob(sampleEntries(), rec, &config.AuditArchiveConfig{Enabled: true, Keep: 5})
	_, err = j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{5}, rec.pruned)
}

func TestAuditArchiveJob_RunOnce_EmptySkipped(t *testing.T) {
	rec := &recordingArchiver{}
	j := NewAuditArchiveJob(staticSource{}, rec, &config.AuditArchiveConfig{Enabled: true})

	res, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 0, rec.count())
}

func TestAuditArchiveJob_RunOnce_Error(t *testing.T) {
	before := testutil.ToFloat64(telemetry.AuditArchiveRunsTotal.WithLabelValues("error"))

	rec := &recordingArchiver{err: errors.New("bucket unavailable")}
	j := NewAuditArchiveJob(sampleEntries(), rec, &config.AuditArchiveConfig{Enabled: true})

	_, err := j.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.AuditArchiveRunsTotal.WithLabelValues("error")))
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestAuditArchiveJob_Start_Disabled(t *testing.T) {
	rec := &recordingArchiver{}
	j := NewAuditArchiveJob(sampleEntries(), rec, &config.AuditArchiveConfig{Enabled: false})

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return for a disabled job")
	}
	assert.Equal(t, 0, rec.count())
}

func TestAuditArchiveJob_StartStop(t *testing.T) {
	rec := &recordingArchiver{}
	j := NewAuditArchiveJob(sampleEntries(), rec, &config.AuditArchiveConfig{Enabled: true})
	j.interval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	j.Stop()
	j.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestAuditArchiveJob_ContextCancel(t *testing.T) {
	j := NewAuditArchiveJob(sampleEntries(), &recordingArchiver{}, &config.AuditArchiveConfig{Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
