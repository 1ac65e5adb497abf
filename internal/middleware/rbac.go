// Package middleware (rbac.go) guards routes by scope. Scopes come from the role claim at
// request time (auth.ScopesForRole), so the role table applies without reissuing tokens.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/go-green-rwanda/admin-backend/internal/auth"
)

// RequireScope rejects requests whose scopes do not grant required
func RequireScope(required auth.Scope) gin.HandlerFunc {
	return scopeGuard([]auth.Scope{required}, func(granted []string) bool {
		return auth.HasScope(granted, required)
	})
}

// RequireAnyScope rejects requests whose scopes grant none of required
func RequireAnyScope(required ...auth.Scope) gin.HandlerFunc {
	return scopeGuard(required, func(granted []string) bool {
		return auth.HasAnyScope(granted, required)
	})
}

func scopeGuard(required []auth.Scope, allowed func([]string) bool) gin.HandlerFunc {
	names := make([]string, len(required))
	for i, s := range required {
		names[i] = string(s)
	}
	wanted := strings.Join(names, " or ")

	return func(c *gin.Context) {
		granted, _ := c.Get(ScopesKey)
		scopes, ok := granted.([]string)
		if ok && allowed(scopes) {
			c.Next()
			return
		}

		slog.Debug("request denied by scope guard",
			"path", c.FullPath(), "required", wanted, "request_id", GetRequestID(c))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "Missing required scope",
			"details": "Required scope: " + wanted,
		})
	}
}
