package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header used to propagate the request identifier
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request identifier
	RequestIDKey = "request_id"

	maxRequestIDLength = 128
)

// RequestIDMiddleware reuses an inbound X-Request-ID or generates a UUID, stores it under
// RequestIDKey and echoes it in the response. Audit entries recorded for the request carry
// the same id. Overlong inbound ids are replaced.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// GetRequestID returns the id set by RequestIDMiddleware, or ""
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
