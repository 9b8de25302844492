// Package middleware contains Gin middleware for the application.
package middleware

import (
	"context"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID adopts the caller's correlation ID or mints one. Ingress
// calls from the application tier carry their own id so a permission change
// can be traced from the API through the eviction fanout; the id is echoed
// on the response so the caller can quote it when a call hits its timeout.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Echo back to the caller.
		c.Header(HeaderXCorrelationID, correlationID)

		// Gin handlers read it from the key store; everything below them
		// receives c.Request.Context(), so stamp it there too for the
		// logger's context fields.
		c.Set(string(logging.CorrelationIDKey), correlationID)
		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
