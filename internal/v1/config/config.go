package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port           string
	RedisAddr      string
	InternalSecret string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisPassword string

	DevelopmentMode bool
	AllowedOrigins  string
	PublicWSBase    string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: REDIS_ADDR (format: host:port)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		errors = append(errors, "REDIS_ADDR is required")
	} else if !isValidHostPort(cfg.RedisAddr) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Required: INTERNAL_SECRET (minimum 16 characters)
	cfg.InternalSecret = os.Getenv("INTERNAL_SECRET")
	if cfg.InternalSecret == "" {
		errors = append(errors, "INTERNAL_SECRET is required")
	} else if len(cfg.InternalSecret) < 16 {
		errors = append(errors, fmt.Sprintf("INTERNAL_SECRET must be at least 16 characters (got %d)", len(cfg.InternalSecret)))
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: PUBLIC_WS_BASE overrides the websocket URL advertised by
	// room creation (e.g. "wss://relay.example.com"). When empty, the URL
	// is derived from the incoming request's host.
	cfg.PublicWSBase = os.Getenv("PUBLIC_WS_BASE")
	if cfg.PublicWSBase != "" && !strings.HasPrefix(cfg.PublicWSBase, "ws://") && !strings.HasPrefix(cfg.PublicWSBase, "wss://") {
		errors = append(errors, fmt.Sprintf("PUBLIC_WS_BASE must start with ws:// or wss:// (got '%s')", cfg.PublicWSBase))
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"internal_secret", redactSecret(cfg.InternalSecret),
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"allowed_origins", cfg.AllowedOrigins,
		"public_ws_base", cfg.PublicWSBase,
	)
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
