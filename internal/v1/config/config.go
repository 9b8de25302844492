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
	Port      string
	RedisAddr string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisPassword string

	// Auth0 (required unless SKIP_AUTH=true)
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Rate limits for socket connects
	RateLimitWsIP   string
	RateLimitWsUser string

	// Tracing (optional, disabled when empty)
	OtelCollectorAddr      string
	OtelInsecureSkipVerify bool
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an aggregated error if any variable is missing or
// invalid so operators see every problem at once.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: REDIS_ADDR — the durable workflow and permission stores
	// live behind redis, so the broker cannot start without it.
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	} else if !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	if !cfg.SkipAuth && !cfg.DevelopmentMode {
		if cfg.Auth0Domain == "" {
			errs = append(errs, "AUTH0_DOMAIN is required when SKIP_AUTH=false")
		}
		if cfg.Auth0Audience == "" {
			errs = append(errs, "AUTH0_AUDIENCE is required when SKIP_AUTH=false")
		}
	}

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

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

	// Rate limits (M = per minute)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	cfg.OtelInsecureSkipVerify = os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true"
	if cfg.OtelInsecureSkipVerify && !cfg.DevelopmentMode {
		slog.Warn("OTEL_INSECURE_SKIP_VERIFY is enabled outside development mode")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"auth0_domain", cfg.Auth0Domain,
		"skip_auth", cfg.SkipAuth,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
		"rate_limit_ws_user", cfg.RateLimitWsUser,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only whether it is set
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
