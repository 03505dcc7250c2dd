package room

import (
	"crypto/rand"
	"fmt"

	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// codeAlphabet omits 0/O, 1/I/L so codes survive being read aloud or
// typed from a screenshot.
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 4
)

// GenerateCode returns a random 4-character room code. The ~923k keyspace
// is small; callers must handle collisions by retrying create.
func GenerateCode() (types.RoomCode, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return types.RoomCode(code), nil
}
