// Package api wires together all HTTP routes for the Go Green Rwanda admin audit service.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated so that load balancers and
//     orchestrators can probe the process.
//   - Everything under /api/v1/audit requires a bearer token; each route additionally
//     requires the scope derived from the caller's role.
//
// Prometheus metrics are not served here; cmd/server exposes them on a side port.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/go-green-rwanda/admin-backend/internal/api/admin"
	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/audit/redisstore"
	"github.com/go-green-rwanda/admin-backend/internal/auth"
	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/jobs"
	"github.com/go-green-rwanda/admin-backend/internal/middleware"
	"github.com/go-green-rwanda/admin-backend/internal/safego"
	"github.com/go-green-rwanda/admin-backend/internal/storage"

	// Import audit backends to register them
	_ "github.com/go-green-rwanda/admin-backend/internal/audit/blob"
	_ "github.com/go-green-rwanda/admin-backend/internal/audit/postgres"

	// Import storage backends to register them
	_ "github.com/go-green-rwanda/admin-backend/internal/storage/azure"
	_ "github.com/go-green-rwanda/admin-backend/internal/storage/gcs"
	_ "github.com/go-green-rwanda/admin-backend/internal/storage/local"
	_ "github.com/go-green-rwanda/admin-backend/internal/storage/s3"
)

// Version is reported by GET /version. cmd/server overrides it at link time.
var Version = "0.1.0"

const loadTimeout = 30 * time.Second

// Dependencies are the connections opened by cmd/server. DB is nil unless the postgres
// audit backend is configured; Redis is nil unless a Redis feature is enabled. A nil
// Storage is created from the configuration.
type Dependencies struct {
	DB      *sqlx.DB
	Redis   redis.UniversalClient
	Storage storage.Storage
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	store        *audit.Store
	archiveJob   *jobs.AuditArchiveJob
	rateLimiters []*middleware.RateLimiter
	cancel       context.CancelFunc
}

// Store returns the audit store served by the router
func (bg *BackgroundServices) Store() *audit.Store {
	return bg.store
}

// Shutdown stops all background goroutines and flushes the shippers. It should be called
// after the HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.cancel != nil {
		bg.cancel()
	}
	if bg.archiveJob != nil {
		bg.archiveJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.store != nil {
		if err := bg.store.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router together with the audit store it serves
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	ctx, cancel := context.WithCancel(context.Background())
	bg := &BackgroundServices{cancel: cancel}

	// Initialize storage backend
	storageBackend := deps.Storage
	if storageBackend == nil {
		var err error
		storageBackend, err = storage.NewStorage(cfg)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
		}
		slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)
	}

	// Initialize the audit store
	store, err := newAuditStore(ctx, cfg, deps, storageBackend)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	bg.store = store

	archiver := audit.NewArchiver(storageBackend, cfg.Audit.DelimiterRune())
	bg.archiveJob = jobs.NewAuditArchiveJob(store, archiver, &cfg.Audit.Archive)
	safego.Go("audit-archive", func() { bg.archiveJob.Start(ctx) })

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware("/api/v1/audit/stream"))
	router.Use(LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(CORSMiddleware(cfg))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(deps.DB))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(deps.DB, storageBackend, store))

	// API version
	router.GET("/version", versionHandler())

	auditHandler := admin.NewAuditHandler(store, archiver, cfg.Audit.DelimiterRune())

	auditGroup := router.Group("/api/v1/audit")
	auditGroup.Use(middleware.AuthMiddleware(auth.NewVerifier(&cfg.Auth)))
	if limiter := newRateLimiter(cfg, deps.Redis, bg); limiter != nil {
		auditGroup.Use(middleware.RateLimitMiddleware(limiter))
	}
	auditGroup.Use(middleware.AuditMiddleware(store, &cfg.Audit))
	{
		auditGroup.GET("/logs", middleware.RequireScope(auth.ScopeAuditRead), auditHandler.ListLogs)
		auditGroup.GET("/logs/:id", middleware.RequireScope(auth.ScopeAuditRead), auditHandler.GetLog)
		auditGroup.POST("/logs", middleware.RequireScope(auth.ScopeAuditWrite), auditHandler.CreateLog)
		auditGroup.DELETE("/logs", middleware.RequireScope(auth.ScopeAuditClear), auditHandler.ClearLogs)
		auditGroup.GET("/stats", middleware.RequireScope(auth.ScopeAuditRead), auditHandler.GetStats)
		auditGroup.GET("/export", middleware.RequireScope(auth.ScopeAuditExport), auditHandler.Export)
		auditGroup.POST("/export/archive", middleware.RequireScope(auth.ScopeAuditExport), auditHandler.Archive)
		auditGroup.GET("/export/archives", middleware.RequireScope(auth.ScopeAuditExport), auditHandler.ListArchives)
		auditGroup.GET("/stream", middleware.RequireScope(auth.ScopeAuditRead), auditHandler.StreamChanges)
	}

	return router, bg, nil
}

// newAuditStore builds the configured backend and shippers, loads the persisted trail and,
// for the redis backend, reloads whenever another instance changes it.
func newAuditStore(ctx context.Context, cfg *config.Config, deps Dependencies, storageBackend storage.Storage) (*audit.Store, error) {
	backend, err := audit.NewBackend(audit.BackendDeps{
		Config:  cfg.Audit,
		Storage: storageBackend,
		Redis:   deps.Redis,
		DB:      deps.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit backend: %w", err)
	}

	var opts []audit.StoreOption
	shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	if shippers.Len() > 0 {
		opts = append(opts, audit.WithShipper(shippers))
	}

	store := audit.NewStore(backend, opts...)
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	if err := store.Initialize(loadCtx); err != nil {
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}
	slog.Info("audit store ready", "backend", backend.Name(), "entries", store.Len(), "shippers", shippers.Len())

	if rb, ok := backend.(*redisstore.Backend); ok {
		safego.Go("audit-watch", func() {
			err := rb.Watch(ctx, func(ev redisstore.Event) {
				slog.Debug("audit log changed on another instance, reloading", "kind", ev.Kind, "id", ev.ID)
				reloadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
				defer cancel()
				_ = store.Initialize(reloadCtx)
			})
			if err != nil {
				slog.Error("audit change watch stopped", "error", err)
			}
		})
	}
	return store, nil
}

// newRateLimiter returns nil when rate limiting is disabled. The Redis limiter is used
// when configured and a client is available, so limits hold across instances.
func newRateLimiter(cfg *config.Config, client redis.UniversalClient, bg *BackgroundServices) middleware.Limiter {
	if !cfg.Security.RateLimiting.Enabled {
		return nil
	}
	rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
	if cfg.Security.RateLimiting.UseRedis && client != nil {
		return middleware.NewRedisLimiter(client, rlCfg)
	}
	rl := middleware.NewRateLimiter(rlCfg)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	return rl
}

// healthCheckHandler returns the liveness status of the service. The database is only
// checked when the postgres backend is in use.
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  "database connection failed",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend and
// reports not ready while the audit log is (re)loading.
func readinessHandler(db *sqlx.DB, storageBackend storage.Storage, store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		notReady := func(msg string) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  msg,
			})
		}

		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				checks["database"] = "unhealthy"
				notReady("database not ready")
				return
			}
			checks["database"] = "healthy"
		}

		// Exists() on a known-absent path exercises credentials and connectivity
		// without creating any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			notReady("storage backend not ready")
			return
		}
		checks["storage"] = "healthy"

		if store != nil && store.IsLoading() {
			checks["audit_log"] = "loading"
			notReady("audit log is loading")
			return
		}
		checks["audit_log"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

// logRequest emits one slog record per request. The handler installed by
// telemetry.SetupLogger decides between JSON and text output.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.LogAttrs(
		c.Request.Context(),
		level,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", redactQuery(query)),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", middleware.GetRequestID(c)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// redactQuery masks the access_token parameter used by stream clients
func redactQuery(raw string) string {
	if raw == "" {
		return raw
	}
	q, err := url.ParseQuery(raw)
	if err != nil || !q.Has("access_token") {
		return raw
	}
	q.Set("access_token", "REDACTED")
	return q.Encode()
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
