// Package telemetry provides application-level observability for the admin backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// available on the side-channel HTTP server started by cmd/server:
//
//	GET http(s)://<host>:<GGR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit trail counters: appends, persistence failures, exports, shipper errors
//   - Audit archive job runs
//   - Panics recovered in background goroutines
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/audit/logs/:id)
// rather than the raw request URL so that entry ids never become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit trail metrics.
//
// AuditEntriesAppendedTotal counts every entry accepted by the store, by category and severity.
// AuditPersistFailuresTotal counts appends or clears whose write to the durable backend failed;
// the in-memory list keeps the entry regardless, so a non-zero rate means the next restart
// will lose data.
//
// Example PromQL queries:
//   - Critical events per hour:  sum(increase(audit_entries_appended_total{severity="critical"}[1h]))
//   - Alert expression:          increase(audit_persist_failures_total[10m]) > 0
var (
	AuditEntriesAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_appended_total",
			Help: "Total number of audit entries appended, by category and severity.",
		},
		[]string{"category", "severity"},
	)

	AuditPersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_persist_failures_total",
			Help: "Total number of failed writes to the audit persistence backend, by backend name.",
		},
		[]string{"backend"},
	)

	AuditStoreEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_store_entries",
			Help: "Current number of entries held by the audit store.",
		},
	)

	AuditExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_exports_total",
			Help: "Total number of audit exports produced, by format.",
		},
		[]string{"format"},
	)

	AuditShipperErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_shipper_errors_total",
			Help: "Total number of audit entries that could not be shipped, by shipper type.",
		},
		[]string{"type"},
	)
)

// BackgroundPanicsTotal counts panics recovered by safego, by task name
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_task_panics_total",
		Help: "Total number of panics recovered in background goroutines, by task.",
	},
	[]string{"task"},
)

// AuditArchiveRunsTotal counts runs of the archive background job by outcome
// ("success" or "error"). AuditArchiveDuration observes each run.
var (
	AuditArchiveRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_archive_runs_total",
			Help: "Total number of audit archive job runs, by outcome.",
		},
		[]string{"status"},
	)

	AuditArchiveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_archive_duration_seconds",
			Help:    "Duration of a single audit archive run.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples the pool every 30 seconds into DBOpenConnections. It stops
// once a ping fails, which is how it notices db.Close() on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go collectDBStats(db, 30*time.Second)
}

func collectDBStats(db *sql.DB, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := db.Ping(); err != nil {
			slog.Warn("db stats collector stopped: database unreachable", "error", err)
			return
		}
		DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		<-ticker.C
	}
}
