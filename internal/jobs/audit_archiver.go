// audit_archiver.go implements the AuditArchiveJob background job, which periodically
// writes the whole audit trail to object storage under exports/ so that a copy survives
// a cleared or lost store. When audit.archive.keep is set, older archives beyond that count
// are deleted after each run. The job is a no-op when audit.archive.enabled is false.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

// EntrySource supplies the entries to archive
type EntrySource interface {
	All() []audit.Entry
}

// ArchiveWriter stores a rendered export and trims old ones
type ArchiveWriter interface {
	Archive(ctx context.Context, entries []audit.Entry, f audit.Format) (*audit.ArchiveResult, error)
	Prune(ctx context.Context, keep int) (int, error)
}

// AuditArchiveJob periodically archives the audit trail.
type AuditArchiveJob struct {
	source   EntrySource
	archiver ArchiveWriter
	cfg      *config.AuditArchiveConfig
	format   audit.Format
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAuditArchiveJob creates a new AuditArchiveJob.
// cfg.IntervalHours controls how often the archive runs (default 24h); an unknown format
// falls back to JSON.
func NewAuditArchiveJob(source EntrySource, archiver ArchiveWriter, cfg *config.AuditArchiveConfig) *AuditArchiveJob {
	hours := cfg.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	format, err := audit.ParseFormat(cfg.Format)
	if err != nil {
		format = audit.FormatJSON
	}
	return &AuditArchiveJob{
		source:   source,
		archiver: archiver,
		cfg:      cfg,
		format:   format,
		interval: time.Duration(hours) * time.Hour,
		stopChan: make(chan struct{}),
	}
}

// Start runs the archive loop until ctx is cancelled or Stop is called. The first run
// happens after one interval, not at startup.
func (j *AuditArchiveJob) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		slog.Info("audit archive job: disabled (audit.archive.enabled=false)")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("audit archive job started", "interval", j.interval, "format", j.format)

	for {
		select {
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				slog.Error("audit archive job: run failed", "error", err)
			}
		case <-j.stopChan:
			slog.Info("audit archive job stopped")
			return
		case <-ctx.Done():
			slog.Info("audit archive job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit. It is safe to call more than once.
func (j *AuditArchiveJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

// RunOnce archives the current entries. An empty trail is skipped and yields a nil result.
func (j *AuditArchiveJob) RunOnce(ctx context.Context) (*audit.ArchiveResult, error) {
	entries := j.source.All()
	if len(entries) == 0 {
		slog.Debug("audit archive job: nothing to archive")
		return nil, nil
	}

	start := time.Now()
	res, err := j.archiver.Archive(ctx, entries, j.format)
	telemetry.AuditArchiveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.AuditArchiveRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.AuditArchiveRunsTotal.WithLabelValues("success").Inc()

	slog.Info("audit archive written", "path", res.Path, "entries", res.Entries, "size", res.Size)

	if j.cfg.Keep > 0 {
		removed, err := j.archiver.Prune(ctx, j.cfg.Keep)
		if err != nil {
			// the new archive is already stored
			slog.Warn("audit archive job: retention failed", "keep", j.cfg.Keep, "error", err)
		} else if removed > 0 {
			slog.Info("audit archives pruned", "removed", removed, "keep", j.cfg.Keep)
		}
	}
	return res, nil
}
