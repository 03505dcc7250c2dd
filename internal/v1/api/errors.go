// Package api defines the JSON error envelope shared by every HTTP surface.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Machine-readable error codes. Clients branch on Code, not on the message.
const (
	CodePlayerIDRequired      = "PlayerIdRequired"
	CodeAuthRequired          = "AuthRequired"
	CodeInvalidKeyFormat      = "InvalidKeyFormat"
	CodeInvalidKey            = "InvalidKey"
	CodeInvalidInternalSecret = "InvalidInternalSecret"
	CodeMissingField          = "MissingField"
	CodeBadFormat             = "BadFormat"
	CodeBadJSON               = "BadJSON"
	CodeRoomNotFound          = "RoomNotFound"
	CodeSaveNotFound          = "SaveNotFound"
	CodeRoomAlreadyExists     = "RoomAlreadyExists"
	CodeUpgradeRequired       = "UpgradeRequired"
	CodeInternal              = "Internal"
)

// Error is the envelope returned on every non-2xx response.
type Error struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Abort writes the error envelope and stops the handler chain.
func Abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Error{Error: msg, Code: code})
}

// Internal reports a dependency failure without leaking its details.
func Internal(c *gin.Context) {
	Abort(c, http.StatusInternalServerError, CodeInternal, "internal error")
}
