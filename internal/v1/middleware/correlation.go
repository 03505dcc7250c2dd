// Package middleware contains gin middleware shared by every route group.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
)

// HeaderXCorrelationID carries the request correlation ID in both directions.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID tags each request with a correlation ID, reusing the
// inbound header when the SDK sent one. The ID is echoed in the response
// and bound into the request context so every log line written while
// serving the request carries it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
