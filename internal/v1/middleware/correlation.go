// Package middleware contains Gin middleware for the application.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
)

// DefaultRequestIDHeader is the header consulted for a caller-supplied
// correlation id when no header name is configured.
const DefaultRequestIDHeader = "X-Request-ID"

// RequestID propagates a request-correlation id: the configured header is
// echoed back when present, generated otherwise, and stored on the request
// context for the logger.
func RequestID(header string) gin.HandlerFunc {
	if header == "" {
		header = DefaultRequestIDHeader
	}
	return func(c *gin.Context) {
		requestID := c.GetHeader(header)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		// Set in header for response
		c.Header(header, requestID)

		// Set in context for handlers and the logger
		c.Set(string(logging.CorrelationIDKey), requestID)
		c.Request = c.Request.WithContext(
			logging.WithContext(c.Request.Context(), requestID, "", ""),
		)

		c.Next()
	}
}
