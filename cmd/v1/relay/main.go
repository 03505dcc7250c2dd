package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/config"
	"github.com/traybueno/watchtower-api/internal/v1/health"
	"github.com/traybueno/watchtower-api/internal/v1/keys"
	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/middleware"
	"github.com/traybueno/watchtower-api/internal/v1/room"
	"github.com/traybueno/watchtower-api/internal/v1/saves"
	"github.com/traybueno/watchtower-api/internal/v1/stats"
)

const version = "1.2.0"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize structured logger", "error", err)
		os.Exit(1)
	}

	// --- Redis Initialization ---
	// Every service below shares this connection: saves, API keys,
	// stats counters and room snapshots all live in the same keyspace.
	store, err := kv.NewService(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err, "addr", cfg.RedisAddr)
		os.Exit(1)
	}
	slog.Info("✅ Redis initialized", "addr", cfg.RedisAddr)

	// --- Create Services with Dependencies ---
	registry := keys.NewRegistry(store)
	accumulator := stats.NewAccumulator(store)
	saveStore := saves.NewStore(store)

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	hub := room.NewHub(store, accumulator, allowedOrigins)
	slog.Info("✅ Room hub initialized")

	savesHandler := saves.NewHandler(saveStore)
	statsHandler := stats.NewHandler(accumulator)
	roomHandler := room.NewHandler(hub, cfg.PublicWSBase)
	keysHandler := keys.NewHandler(registry)

	// --- Set up Server ---
	router := gin.Default()
	// Cors
	config := cors.DefaultConfig()
	config.AllowOrigins = allowedOrigins
	config.AllowHeaders = append(config.AllowHeaders, "Authorization", "X-Player-ID")
	router.Use(cors.New(config))

	// Error handling
	router.Use(gin.Recovery())

	// Correlation IDs for request tracing
	router.Use(middleware.CorrelationID())

	// Version banner
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "watchtower-api",
			"version": version,
			"status":  "ok",
		})
	})

	// Routing
	v1 := router.Group("/v1", auth.Gate(registry))
	{
		v1.POST("/saves/:key", savesHandler.Put)
		v1.GET("/saves/:key", savesHandler.Get)
		v1.GET("/saves", savesHandler.List)
		v1.DELETE("/saves/:key", savesHandler.Delete)

		v1.GET("/stats", statsHandler.Game)
		v1.GET("/stats/player", statsHandler.Player)
		v1.POST("/stats/track", statsHandler.Track)

		v1.POST("/rooms", roomHandler.Create)
		v1.GET("/rooms/:code", roomHandler.Info)
		v1.POST("/rooms/:code/join", roomHandler.Join)
		v1.GET("/rooms/:code/ws", roomHandler.Ws)
	}

	internalGroup := router.Group("/internal", auth.InternalGate(cfg.InternalSecret))
	{
		internalGroup.POST("/keys", keysHandler.Register)
		internalGroup.DELETE("/keys/:apiKey", keysHandler.Revoke)
		internalGroup.GET("/keys/:apiKey", keysHandler.Inspect)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(store)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Persist room snapshots and close WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection
	if err := store.Close(); err != nil {
		slog.Error("Failed to close Redis connection:", "error", err)
	} else {
		slog.Info("Redis connection closed")
	}

	slog.Info("Server exiting")
}
