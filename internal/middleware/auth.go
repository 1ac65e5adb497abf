// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, metrics and recording the service's own actions in the
// audit trail.
//
// Middleware ordering is set up in router.go:
//
//	RequestID → Metrics → Logger → Security → CORS → Auth → RateLimit → Audit → Scope → Handler
//
// Audit runs before the scope check so it sees the final status of every authenticated
// request, but it only records the ones that succeeded.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/go-green-rwanda/admin-backend/internal/auth"
)

// Context keys set by AuthMiddleware
const (
	PrincipalKey  = "principal"
	UserIDKey     = "user_id"
	ScopesKey     = "scopes"
	AuthMethodKey = "auth_method"
)

// Principal is the verified caller of a request
type Principal struct {
	ID        string
	Email     string
	Name      string
	Role      string
	SessionID string
	Scopes    []string
}

// AuthMiddleware requires a valid bearer token. GET requests may pass the token in the
// access_token query parameter instead, since EventSource clients cannot set headers.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msg,
			})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, auth.ErrInvalidToken) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		p := &Principal{
			ID:        claims.UserID(),
			Email:     claims.Email,
			Name:      claims.Name,
			Role:      claims.Role,
			SessionID: claims.ID,
			Scopes:    auth.ScopesForRole(claims.Role),
		}
		c.Set(PrincipalKey, p)
		c.Set(UserIDKey, p.ID)
		c.Set(ScopesKey, p.Scopes)
		c.Set(AuthMethodKey, "jwt")

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if c.Request.Method == http.MethodGet {
			if t := strings.TrimSpace(c.Query("access_token")); t != "" {
				return t, ""
			}
		}
		return "", "Missing authorization header"
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '"
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty"
	}
	return token, ""
}

// CurrentPrincipal returns the caller set by AuthMiddleware, or nil
func CurrentPrincipal(c *gin.Context) *Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}
