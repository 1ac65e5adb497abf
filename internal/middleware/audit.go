// audit.go records the service's own successful authenticated actions (clearing the trail,
// exporting, archiving, manual entries) in the audit store, so the trail covers operations
// performed on itself.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/go-green-rwanda/admin-backend/internal/audit"
	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/safego"
)

// Appender is the part of audit.Store the middleware needs
type Appender interface {
	Append(ctx context.Context, in audit.EntryInput) audit.Entry
}

// routeAction describes how a route is recorded
type routeAction struct {
	action      audit.Action
	category    audit.Category
	severity    audit.Severity
	description string
}

// skipRoute marks routes whose handler records the entry itself
var skipRoute = routeAction{}

// auditRoutes maps "METHOD route-template" to what gets recorded
var auditRoutes = map[string]routeAction{
	"DELETE /api/v1/audit/logs":         {audit.ActionDelete, audit.CategorySystem, audit.SeverityCritical, "Cleared the audit log"},
	"GET /api/v1/audit/export":          {audit.ActionExport, audit.CategorySystem, audit.SeverityMedium, "Exported the audit log"},
	"POST /api/v1/audit/export/archive": {audit.ActionExport, audit.CategorySystem, audit.SeverityMedium, "Archived the audit log to object storage"},
	"POST /api/v1/audit/logs":           skipRoute,
}

// AuditMiddleware appends an entry for every successful authenticated request that changes
// state or exports data. Plain reads are recorded only when cfg.LogReadOperations is set.
func AuditMiddleware(store Appender, cfg *config.AuditConfig) gin.HandlerFunc {
	logReads := cfg != nil && cfg.LogReadOperations

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if c.Request.Method == http.MethodOptions || c.Writer.Status() >= 400 {
			return
		}
		p := CurrentPrincipal(c)
		if p == nil {
			return
		}

		route := c.FullPath()
		ra, known := auditRoutes[c.Request.Method+" "+route]
		if known && ra == skipRoute {
			return
		}
		if !known {
			if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
				if !logReads {
					return
				}
				ra = routeAction{audit.ActionView, audit.CategorySystem, audit.SeverityLow, "Viewed " + route}
			} else {
				ra = routeAction{audit.ActionAPICall, audit.CategoryAPI, audit.SeverityLow, "Called " + route}
			}
		}

		in := requestEntry(c, p, ra, time.Since(start))
		safego.Go("audit-middleware", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			store.Append(ctx, in)
		})
	}
}

func requestEntry(c *gin.Context, p *Principal, ra routeAction, elapsed time.Duration) audit.EntryInput {
	device := audit.DeviceFromUserAgent(c.Request.UserAgent())
	location := audit.LocationFromIP(c.ClientIP())
	duration := elapsed.Milliseconds()

	role := audit.Role(p.Role)
	if !role.Valid() {
		role = ""
	}

	metadata := map[string]any{
		"method":      c.Request.Method,
		"path":        c.Request.URL.Path,
		"status_code": c.Writer.Status(),
	}
	if f := c.Query("format"); f != "" {
		metadata["format"] = strings.ToLower(f)
	}

	return audit.EntryInput{
		Actor: audit.Actor{
			ID:    p.ID,
			Name:  p.Name,
			Email: p.Email,
			Role:  role,
			Type:  audit.ActorAdmin,
		},
		Action:      ra.action,
		Category:    ra.category,
		Severity:    ra.severity,
		Description: ra.description,
		Target:      &audit.Target{Type: "audit_log", ID: c.Request.URL.Path, Name: fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())},
		Device:      &device,
		Location:    &location,
		SessionID:   p.SessionID,
		RequestID:   GetRequestID(c),
		Status:      audit.StatusSuccess,
		Duration:    &duration,
		Metadata:    metadata,
	}
}
