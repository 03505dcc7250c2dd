package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traybueno/watchtower-api/internal/v1/api"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
)

// InternalGate guards the key-administration surface with the deployment
// secret. No identity is bound; the dashboard is the only caller.
func InternalGate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := bearerToken(c)
		if provided == "" {
			api.Abort(c, http.StatusUnauthorized, api.CodeAuthRequired,
				"Authorization: Bearer <secret> is required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			logging.Warn(c.Request.Context(), "Rejected internal request with bad secret")
			api.Abort(c, http.StatusUnauthorized, api.CodeInvalidInternalSecret, "Invalid internal secret")
			return
		}
		c.Next()
	}
}
