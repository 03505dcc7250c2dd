package saves

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/api"
	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// Handler serves the /v1/saves endpoints. All routes sit behind the auth
// gate, so every request arrives with a bound identity.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Put handles POST /v1/saves/:key. The body is stored verbatim so a later
// Get returns byte-identical JSON.
func (h *Handler) Put(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}
	saveKey := types.SaveKey(c.Param("key"))

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxSaveSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Abort(c, http.StatusBadRequest, api.CodeBadFormat, "Save exceeds the 25 MiB limit")
			return
		}
		logging.Error(ctx, "Failed to read save body", zap.Error(err))
		api.Internal(c)
		return
	}
	if !json.Valid(body) {
		api.Abort(c, http.StatusBadRequest, api.CodeBadJSON, "Save body must be valid JSON")
		return
	}

	if err := h.store.Put(ctx, identity.GameID, identity.PlayerID, saveKey, body); err != nil {
		logging.Error(ctx, "Failed to store save", zap.Error(err), zap.String("save_key", string(saveKey)))
		api.Internal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "key": saveKey})
}

// Get handles GET /v1/saves/:key.
func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}
	saveKey := types.SaveKey(c.Param("key"))

	data, err := h.store.Get(ctx, identity.GameID, identity.PlayerID, saveKey)
	if errors.Is(err, kv.ErrNotFound) {
		api.Abort(c, http.StatusNotFound, api.CodeSaveNotFound, "No save under that key")
		return
	}
	if err != nil {
		logging.Error(ctx, "Failed to load save", zap.Error(err), zap.String("save_key", string(saveKey)))
		api.Internal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": saveKey, "data": json.RawMessage(data)})
}

// List handles GET /v1/saves.
func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}

	keys, err := h.store.List(ctx, identity.GameID, identity.PlayerID)
	if err != nil {
		logging.Error(ctx, "Failed to list saves", zap.Error(err))
		api.Internal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// Delete handles DELETE /v1/saves/:key.
func (h *Handler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	identity, ok := auth.FromContext(c)
	if !ok {
		api.Internal(c)
		return
	}
	saveKey := types.SaveKey(c.Param("key"))

	if err := h.store.Delete(ctx, identity.GameID, identity.PlayerID, saveKey); err != nil {
		logging.Error(ctx, "Failed to delete save", zap.Error(err), zap.String("save_key", string(saveKey)))
		api.Internal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
