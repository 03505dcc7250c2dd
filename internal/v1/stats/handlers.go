package stats

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/api"
	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// Handler serves the /v1/stats endpoints.
type Handler struct {
	accumulator *Accumulator
}

func NewHandler(accumulator *Accumulator) *Handler {
	return &Handler{accumulator: accumulator}
}

// Game handles GET /v1/stats.
func (h *Handler) Game(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}

	view, err := h.accumulator.Game(ctx, identity.GameID)
	if err != nil {
		logging.Error(ctx, "Failed to read game stats", zap.Error(err))
		api.Internal(c)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Player handles GET /v1/stats/player.
func (h *Handler) Player(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}

	view, err := h.accumulator.Player(ctx, identity.GameID, identity.PlayerID)
	if err != nil {
		logging.Error(ctx, "Failed to read player stats", zap.Error(err))
		api.Internal(c)
		return
	}
	c.JSON(http.StatusOK, view)
}

type trackRequest struct {
	Event string `json:"event"`
}

// Track handles POST /v1/stats/track. Unknown event names succeed without
// effect so old servers tolerate new SDK versions.
func (h *Handler) Track(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}

	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Abort(c, http.StatusBadRequest, api.CodeBadJSON, "Request body must be valid JSON")
		return
	}

	event := types.StatsEvent(req.Event)
	if types.KnownEvent(event) {
		h.accumulator.Track(ctx, identity.GameID, identity.PlayerID, event)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
