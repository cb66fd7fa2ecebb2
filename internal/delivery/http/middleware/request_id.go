package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultRequestIDHeader is used when no header name is configured.
const DefaultRequestIDHeader = "X-Sayonara-Request-ID"

const (
	requestIDKey    = "request_id"
	maxRequestIDLen = 128
)

// RequestID tags each request with an ID, reusing the caller's when it is well formed.
// The ID is echoed in header and stored on the context for the access log.
func RequestID(header string) gin.HandlerFunc {
	if header == "" {
		header = DefaultRequestIDHeader
	}
	return func(c *gin.Context) {
		requestID := c.GetHeader(header)
		if !validRequestID(requestID) {
			id, _ := uuid.NewV7()
			requestID = id.String()
		}

		c.Set(requestIDKey, requestID)
		c.Header(header, requestID)
		c.Next()
	}
}

// validRequestID accepts up to maxRequestIDLen bytes of printable ASCII without spaces.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
