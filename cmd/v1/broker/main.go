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
	"github.com/redis/go-redis/v9"

	"github.com/git-yup-ai/sim/internal/v1/access"
	"github.com/git-yup-ai/sim/internal/v1/auth"
	"github.com/git-yup-ai/sim/internal/v1/collab"
	"github.com/git-yup-ai/sim/internal/v1/config"
	"github.com/git-yup-ai/sim/internal/v1/health"
	"github.com/git-yup-ai/sim/internal/v1/ingress"
	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/middleware"
	"github.com/git-yup-ai/sim/internal/v1/ratelimit"
	"github.com/git-yup-ai/sim/internal/v1/store"
	"github.com/git-yup-ai/sim/internal/v1/tracing"
	"github.com/git-yup-ai/sim/internal/v1/transport"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

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

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (optional) ---
	ctx := context.Background()
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "collab-broker", cfg.OtelCollectorAddr, cfg.OtelInsecureSkipVerify)
		if err != nil {
			slog.Error("Failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		slog.Info("Tracing initialized", "collector", cfg.OtelCollectorAddr)
	}

	// --- Auth ---
	skipAuth := cfg.SkipAuth
	if !skipAuth && cfg.DevelopmentMode && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
		slog.Warn("Development Mode: Auth0 credentials missing. Auto-enabling SKIP_AUTH.")
		skipAuth = true
	}

	var validator types.TokenValidator
	if skipAuth {
		slog.Warn("Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
		validator = v
		slog.Info("Auth0 validator initialized", "domain", cfg.Auth0Domain, "audience", cfg.Auth0Audience)
	}

	// --- Durable store ---
	// The workflow and permission records live in Redis. In development a
	// connection failure falls back to the in-memory store; in production it
	// is fatal because operations could not be committed.
	var (
		workflows   store.WorkflowStore
		permissions store.PermissionStore
		pinger      health.StorePinger
		redisClient *redis.Client
	)
	redisService, err := store.NewService(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		if !cfg.DevelopmentMode {
			slog.Error("Failed to connect to Redis", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		slog.Warn("Redis unavailable, using in-memory store", "error", err)
		mem := store.NewMemory()
		workflows, permissions = mem, mem
	} else {
		workflows, permissions = redisService, redisService
		pinger = redisService
		redisClient = redisService.Client()
		slog.Info("Redis store initialized", "addr", cfg.RedisAddr)
	}

	// --- Rate limiting ---
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Broker and transport ---
	registry := collab.NewRegistry()
	resolver := access.NewResolver(workflows, permissions)
	broker := collab.NewBroker(registry, resolver, workflows)
	hub := transport.NewHub(validator, broker, rateLimiter, cfg.DevelopmentMode)

	// --- Set up server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Socket handshake
	router.GET("/ws", hub.ServeWs)

	// Application-tier notifications
	ingress.NewHandler(broker).RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(pinger)
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Collab broker starting", "port", cfg.Port)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Tell every room the broker is going away so clients reconnect elsewhere
	broker.NotifyShutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if redisService != nil {
		if err := redisService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
