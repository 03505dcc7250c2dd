package room

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/api"
	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// Handler serves the /v1/rooms endpoints. All routes sit behind the auth
// gate; room codes in the path are case-insensitive.
type Handler struct {
	hub    *Hub
	wsBase string
}

// NewHandler wires the room surface. wsBase overrides the advertised
// websocket URL ("wss://relay.example.com"); empty derives it from the
// incoming request.
func NewHandler(hub *Hub, wsBase string) *Handler {
	return &Handler{hub: hub, wsBase: strings.TrimRight(wsBase, "/")}
}

// Create handles POST /v1/rooms. The caller becomes the host of a fresh
// room under a newly allocated code.
func (h *Handler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}

	code, err := h.hub.CreateRoom(ctx, identity.GameID, identity.PlayerID)
	if err != nil {
		logging.Error(ctx, "Failed to create room", zap.Error(err))
		api.Internal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code, "wsUrl": h.wsURL(c.Request, code)})
}

// Info handles GET /v1/rooms/:code.
func (h *Handler) Info(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}
	code := types.RoomCode(c.Param("code"))

	info, err := h.hub.RoomInfo(ctx, identity.GameID, code)
	if errors.Is(err, errRoomNotFound) {
		api.Abort(c, http.StatusNotFound, api.CodeRoomNotFound, "No room with that code")
		return
	}
	if err != nil {
		logging.Error(ctx, "Failed to read room info", zap.Error(err))
		api.Internal(c)
		return
	}

	c.JSON(http.StatusOK, info)
}

// Join handles POST /v1/rooms/:code/join, the HTTP path onto the roster.
// Rejoining is a no-op that returns the current roster.
func (h *Handler) Join(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}
	code := types.RoomCode(c.Param("code"))

	result, err := h.hub.JoinRoom(ctx, identity.GameID, code, identity.PlayerID)
	if errors.Is(err, errRoomNotFound) {
		api.Abort(c, http.StatusNotFound, api.CodeRoomNotFound, "No room with that code")
		return
	}
	if err != nil {
		logging.Error(ctx, "Failed to join room", zap.Error(err))
		api.Internal(c)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Ws handles GET /v1/rooms/:code/ws. Room existence is checked before the
// upgrade so a missing room fails with a JSON 404 instead of a socket
// close; non-upgrade requests get 426.
func (h *Handler) Ws(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}
	code := types.RoomCode(c.Param("code"))

	if _, err := h.hub.RoomInfo(ctx, identity.GameID, code); err != nil {
		if errors.Is(err, errRoomNotFound) {
			api.Abort(c, http.StatusNotFound, api.CodeRoomNotFound, "No room with that code")
			return
		}
		logging.Error(ctx, "Room lookup failed before upgrade", zap.Error(err))
		api.Internal(c)
		return
	}

	if !websocket.IsWebSocketUpgrade(c.Request) {
		api.Abort(c, http.StatusUpgradeRequired, api.CodeUpgradeRequired, "WebSocket upgrade required")
		return
	}

	h.hub.ServeWs(c.Writer, c.Request, identity.GameID, code, identity.PlayerID)
}

// wsURL builds the socket URL advertised to the room creator.
func (h *Handler) wsURL(r *http.Request, code types.RoomCode) string {
	base := h.wsBase
	if base == "" {
		scheme := "ws"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "wss"
		}
		base = scheme + "://" + r.Host
	}
	return fmt.Sprintf("%s/v1/rooms/%s/ws", base, code)
}
