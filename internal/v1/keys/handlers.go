package keys

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/api"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// Handler serves the internal key administration endpoints. These sit
// behind the internal-secret gate, never the public API key gate.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

type registerRequest struct {
	APIKey    string `json:"apiKey"`
	GameID    string `json:"gameId"`
	ProjectID string `json:"projectId"`
}

// Register handles POST /internal/keys.
func (h *Handler) Register(c *gin.Context) {
	ctx := c.Request.Context()

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Abort(c, http.StatusBadRequest, api.CodeBadJSON, "Request body must be valid JSON")
		return
	}

	_, err := h.registry.Put(ctx, req.APIKey, types.GameID(req.GameID), types.ProjectID(req.ProjectID))
	switch {
	case errors.Is(err, ErrBadKeyFormat):
		api.Abort(c, http.StatusBadRequest, api.CodeBadFormat, "API key must start with "+types.APIKeyPrefix)
		return
	case errors.Is(err, ErrMissingField):
		api.Abort(c, http.StatusBadRequest, api.CodeMissingField, "gameId and projectId are required")
		return
	case err != nil:
		logging.Error(ctx, "Failed to store API key", zap.Error(err))
		api.Internal(c)
		return
	}

	logging.Info(ctx, "API key registered",
		zap.String("api_key", logging.RedactKey(req.APIKey)),
		zap.String("game_id", req.GameID))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Revoke handles DELETE /internal/keys/:apiKey.
func (h *Handler) Revoke(c *gin.Context) {
	ctx := c.Request.Context()
	apiKey := c.Param("apiKey")

	if err := h.registry.Delete(ctx, apiKey); err != nil {
		if errors.Is(err, ErrBadKeyFormat) {
			api.Abort(c, http.StatusBadRequest, api.CodeBadFormat, "API key must start with "+types.APIKeyPrefix)
			return
		}
		logging.Error(ctx, "Failed to revoke API key", zap.Error(err))
		api.Internal(c)
		return
	}

	logging.Info(ctx, "API key revoked", zap.String("api_key", logging.RedactKey(apiKey)))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Inspect handles GET /internal/keys/:apiKey. Unknown keys are reported
// with exists=false rather than a 404, so the dashboard can poll freely.
func (h *Handler) Inspect(c *gin.Context) {
	ctx := c.Request.Context()
	apiKey := c.Param("apiKey")

	record, found, err := h.registry.Get(ctx, apiKey)
	if err != nil {
		logging.Error(ctx, "Failed to look up API key", zap.Error(err))
		api.Internal(c)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":    true,
		"gameId":    record.GameID,
		"projectId": record.ProjectID,
		"createdAt": record.CreatedAt,
	})
}
