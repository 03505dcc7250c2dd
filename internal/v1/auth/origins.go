package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
)

// GetAllowedOriginsFromEnv reads a comma-separated origin allowlist for the
// browser-facing surfaces (room websockets, CORS). Game pages embed the
// relay from arbitrary hosts, so operators must opt origins in explicitly.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://play.itch.io"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		// Provide sensible defaults for local development if the env var isn't set.
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}

	var origins []string
	for _, o := range strings.Split(originsStr, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
