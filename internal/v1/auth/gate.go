// Package auth guards the public and internal HTTP surfaces. Public
// requests carry an API key plus a client-asserted player id; internal
// admin requests carry the deployment secret. Neither path involves user
// accounts, so there is no token parsing beyond the Bearer scheme.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/api"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

const identityKey = "watchtower.identity"

// Gate authenticates every public request. The playerId check runs before
// the key checks so an SDK misconfiguration (key set, player forgotten)
// surfaces as the more actionable 400.
func Gate(lookup types.KeyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		playerID := extractPlayerID(c)
		if playerID == "" {
			api.Abort(c, http.StatusBadRequest, api.CodePlayerIDRequired,
				"playerId is required (X-Player-ID header or playerId query parameter)")
			return
		}

		apiKey := extractAPIKey(c)
		if apiKey == "" {
			api.Abort(c, http.StatusUnauthorized, api.CodeAuthRequired,
				"API key is required (Authorization: Bearer header or apiKey query parameter)")
			return
		}
		if !strings.HasPrefix(apiKey, types.APIKeyPrefix) {
			api.Abort(c, http.StatusUnauthorized, api.CodeInvalidKeyFormat,
				"API key must start with "+types.APIKeyPrefix)
			return
		}

		record, found, err := lookup.Get(ctx, apiKey)
		if err != nil {
			logging.Error(ctx, "API key lookup failed", zap.Error(err))
			api.Internal(c)
			return
		}
		if !found {
			logging.Warn(ctx, "Rejected unknown API key",
				zap.String("api_key", logging.RedactKey(apiKey)))
			api.Abort(c, http.StatusUnauthorized, api.CodeInvalidKey, "Unknown API key")
			return
		}

		identity := types.Identity{
			GameID:    record.GameID,
			ProjectID: record.ProjectID,
			PlayerID:  types.PlayerID(playerID),
			APIKey:    apiKey,
		}
		c.Set(identityKey, identity)

		// Downstream log lines pick these up via the logging context keys.
		ctx = context.WithValue(ctx, logging.GameIDKey, string(identity.GameID))
		ctx = context.WithValue(ctx, logging.PlayerIDKey, string(identity.PlayerID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// FromContext returns the identity bound by Gate.
func FromContext(c *gin.Context) (types.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return types.Identity{}, false
	}
	identity, ok := v.(types.Identity)
	return identity, ok
}

// extractAPIKey prefers the Authorization header; the query fallback
// exists because browser WebSocket clients cannot set custom headers.
func extractAPIKey(c *gin.Context) string {
	if token := bearerToken(c); token != "" {
		return token
	}
	return c.Query("apiKey")
}

func extractPlayerID(c *gin.Context) string {
	if id := c.GetHeader("X-Player-ID"); id != "" {
		return id
	}
	return c.Query("playerId")
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
