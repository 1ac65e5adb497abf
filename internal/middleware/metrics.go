package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for every
// request. The path label is the matched route template, or "<no-route>" for 404/405.
// Routes listed in skipDuration (long-lived streams) are counted but not timed.
func MetricsMiddleware(skipDuration ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipDuration))
	for _, p := range skipDuration {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		if !skip[path] {
			telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		}
	}
}
