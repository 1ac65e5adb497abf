// audit_logs.go implements handlers for browsing, recording, exporting and streaming the admin audit trail.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/middleware"
	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

const defaultStreamHeartbeat = 25 * time.Second

// AuditHandler handles audit trail API requests
type AuditHandler struct {
	store     *audit.Store
	archiver  *audit.Archiver
	delimiter rune
	now       func() time.Time
	heartbeat time.Duration
}

// NewAuditHandler creates a new audit handler. archiver may be nil, in which case the
// archive endpoint answers 503.
func NewAuditHandler(store *audit.Store, archiver *audit.Archiver, delimiter rune) *AuditHandler {
	if delimiter == 0 {
		delimiter = ','
	}
	return &AuditHandler{
		store:     store,
		archiver:  archiver,
		delimiter: delimiter,
		now:       time.Now,
		heartbeat: defaultStreamHeartbeat,
	}
}

// AuditLogListResponse is the body of GET /api/v1/audit/logs
type AuditLogListResponse struct {
	Entries   []audit.Entry `json:"entries"`
	Summary   audit.Summary `json:"summary"`
	IsLoading bool          `json:"isLoading"`
	Filters   audit.Filters `json:"filters"`
	Total     int           `json:"total"`
}

// view applies the query's filters and sort order to the store contents.
// It writes a 400 response and returns false on bad input.
func (h *AuditHandler) view(c *gin.Context) ([]audit.Entry, audit.Filters, bool) {
	filters, err := audit.ParseFilters(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, audit.Filters{}, false
	}

	desc := true
	switch strings.ToLower(c.DefaultQuery("sort", "desc")) {
	case "desc":
	case "asc":
		desc = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be asc or desc"})
		return nil, audit.Filters{}, false
	}

	return audit.SortByTimestamp(audit.Filter(h.store.All(), filters), desc), filters, true
}

// ListLogs handles GET /api/v1/audit/logs
func (h *AuditHandler) ListLogs(c *gin.Context) {
	entries, filters, ok := h.view(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, AuditLogListResponse{
		Entries:   entries,
		Summary:   audit.Summarize(entries),
		IsLoading: h.store.IsLoading(),
		Filters:   filters,
		Total:     h.store.Len(),
	})
}

// GetLog handles GET /api/v1/audit/logs/:id
func (h *AuditHandler) GetLog(c *gin.Context) {
	entry, err := h.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit log entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get audit log entry"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// CreateLog handles POST /api/v1/audit/logs. The actor, device, location, session and
// request id default to what is known about the calling request.
func (h *AuditHandler) CreateLog(c *gin.Context) {
	var in audit.EntryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	p := middleware.CurrentPrincipal(c)
	if in.Actor.ID == "" && p != nil {
		in.Actor = actorFromPrincipal(p)
	}
	if in.SessionID == "" && p != nil {
		in.SessionID = p.SessionID
	}
	if in.Device == nil {
		d := audit.DeviceFromUserAgent(c.Request.UserAgent())
		in.Device = &d
	}
	if in.Location == nil {
		l := audit.LocationFromIP(c.ClientIP())
		in.Location = &l
	}
	if in.RequestID == "" {
		in.RequestID = middleware.GetRequestID(c)
	}

	if err := in.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := h.store.Append(context.WithoutCancel(c.Request.Context()), in)
	c.JSON(http.StatusCreated, entry)
}

func actorFromPrincipal(p *middleware.Principal) audit.Actor {
	role := audit.Role(p.Role)
	if !role.Valid() {
		role = ""
	}
	return audit.Actor{
		ID:    p.ID,
		Name:  p.Name,
		Email: p.Email,
		Role:  role,
		Type:  audit.ActorAdmin,
	}
}

// ClearLogs handles DELETE /api/v1/audit/logs
func (h *AuditHandler) ClearLogs(c *gin.Context) {
	removed := h.store.Len()
	h.store.Clear(context.WithoutCancel(c.Request.Context()))

	c.JSON(http.StatusOK, gin.H{
		"message": "Audit log cleared",
		"removed": removed,
	})
}

// GetStats handles GET /api/v1/audit/stats
func (h *AuditHandler) GetStats(c *gin.Context) {
	entries, _, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, audit.Summarize(entries))
}

// Export handles GET /api/v1/audit/export and streams the filtered view as an attachment
func (h *AuditHandler) Export(c *gin.Context) {
	format, err := audit.ParseFormat(c.DefaultQuery("format", string(audit.FormatJSON)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, _, ok := h.view(c)
	if !ok {
		return
	}

	data, err := audit.Export(entries, format, h.delimiter)
	if err != nil {
		slog.Error("failed to render audit export", "format", format, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export audit log"})
		return
	}
	telemetry.AuditExportsTotal.WithLabelValues(string(format)).Inc()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", audit.FileName(format, h.now())))
	c.Data(http.StatusOK, format.ContentType(), data)
}

type archiveRequest struct {
	Format string `json:"format"`
}

// Archive handles POST /api/v1/audit/export/archive and stores the filtered view in object storage
func (h *AuditHandler) Archive(c *gin.Context) {
	if h.archiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Archive storage is not configured"})
		return
	}

	var req archiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}
	if req.Format == "" {
		req.Format = c.DefaultQuery("format", string(audit.FormatJSON))
	}
	format, err := audit.ParseFormat(req.Format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, _, ok := h.view(c)
	if !ok {
		return
	}

	res, err := h.archiver.Archive(c.Request.Context(), entries, format)
	if err != nil {
		slog.Error("failed to archive audit log", "format", format, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive audit log"})
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ListArchives handles GET /api/v1/audit/export/archives
func (h *AuditHandler) ListArchives(c *gin.Context) {
	if h.archiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Archive storage is not configured"})
		return
	}

	archives, err := h.archiver.List(c.Request.Context())
	if err != nil {
		slog.Error("failed to list audit archives", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit archives"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"archives": archives,
		"total":    len(archives),
	})
}

// StreamChanges handles GET /api/v1/audit/stream. It sends a "ready" event, then one event
// per store change named after its kind, with periodic "ping" events in between.
func (h *AuditHandler) StreamChanges(c *gin.Context) {
	events, unsubscribe := h.store.Subscribe()
	defer unsubscribe()

	// the server write timeout would otherwise cut long-lived streams
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("ready", gin.H{"total": h.store.Len(), "isLoading": h.store.IsLoading()})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Kind), ev)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": h.now().UTC()})
			c.Writer.Flush()
		}
	}
}
