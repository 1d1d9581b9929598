package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port        string
	DatabaseURL string

	// WebSocket fabric tuning
	WebSocketPort                  int
	RequestIDHeader                string
	SendQueueMax                   int
	CoalesceWindow                 time.Duration
	DropPolicy                     string
	AutoFragmentSize               int
	MaxMessageBytes                int64
	YieldThresholdBytes            int
	SlowClientDisconnectAfterDrops int
	CoalesceTypes                  []string
	ReadIdleTimeout                time.Duration

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Identity provider (JWKS)
	AuthDomain      string
	AuthAudience    string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Rendered score assets
	SongsImgDir string
	SongsPDFDir string

	// Tracing
	OTelCollectorAddr string
	TracingEnabled    bool

	// Rate Limits
	RateLimitAPIGlobal string
	RateLimitAPIPublic string
	RateLimitAPIRooms  string
	RateLimitWsIP      string
	RateLimitWsUser    string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
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

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	// WebSocket fabric options
	cfg.WebSocketPort = getEnvInt(&errs, "WEBSOCKET_PORT", 8766)
	if cfg.WebSocketPort < 1 || cfg.WebSocketPort > 65535 {
		errs = append(errs, fmt.Sprintf("WEBSOCKET_PORT must be between 1 and 65535 (got %d)", cfg.WebSocketPort))
	}
	cfg.RequestIDHeader = getEnvOrDefault("REQUEST_ID_HEADER", "X-Request-ID")
	cfg.SendQueueMax = getEnvInt(&errs, "WS_SEND_QUEUE_MAX", 100)
	if cfg.SendQueueMax < 1 {
		errs = append(errs, fmt.Sprintf("WS_SEND_QUEUE_MAX must be positive (got %d)", cfg.SendQueueMax))
	}
	cfg.CoalesceWindow = time.Duration(getEnvInt(&errs, "WS_COALESCE_WINDOW_MS", 50)) * time.Millisecond

	cfg.DropPolicy = strings.ToLower(getEnvOrDefault("WS_DROP_POLICY", "oldest"))
	switch cfg.DropPolicy {
	case "oldest", "newest", "random":
		// "random" is accepted but reserved; enqueue falls back to oldest.
	default:
		errs = append(errs, fmt.Sprintf("WS_DROP_POLICY must be one of oldest, newest, random (got '%s')", cfg.DropPolicy))
	}

	cfg.AutoFragmentSize = getEnvInt(&errs, "WS_AUTO_FRAGMENT_SIZE", 65536)
	cfg.MaxMessageBytes = int64(getEnvInt(&errs, "WS_MAX_MESSAGE_BYTES", 1048576))
	cfg.YieldThresholdBytes = getEnvInt(&errs, "WS_YIELD_THRESHOLD_BYTES", 262144)
	cfg.SlowClientDisconnectAfterDrops = getEnvInt(&errs, "WS_SLOW_CLIENT_DISCONNECT_AFTER_DROPS", 0)
	cfg.ReadIdleTimeout = time.Duration(getEnvInt(&errs, "WS_READ_IDLE_TIMEOUT", 0)) * time.Second

	// Cross-option validation
	if int64(cfg.AutoFragmentSize) > cfg.MaxMessageBytes {
		errs = append(errs, fmt.Sprintf("WS_AUTO_FRAGMENT_SIZE (%d) must not exceed WS_MAX_MESSAGE_BYTES (%d)",
			cfg.AutoFragmentSize, cfg.MaxMessageBytes))
	}

	cfg.CoalesceTypes = splitNonEmpty(getEnvOrDefault("WS_COALESCE_TYPES", "page_updated,song_updated"))

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
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

	cfg.AuthDomain = os.Getenv("AUTH_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	if !cfg.SkipAuth && (cfg.AuthDomain == "" || cfg.AuthAudience == "") {
		errs = append(errs, "AUTH_DOMAIN and AUTH_AUDIENCE are required when SKIP_AUTH is not 'true'")
	}

	cfg.SongsImgDir = getEnvOrDefault("SONGS_IMG_DIR", "data/songs/img")
	cfg.SongsPDFDir = getEnvOrDefault("SONGS_PDF_DIR", "data/songs/pdf")

	cfg.OTelCollectorAddr = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.TracingEnabled = cfg.OTelCollectorAddr != ""

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

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

	if parts[0] == "" {
		return false
	}

	return true
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, appending to errs on failure
func getEnvInt(errs *[]string, key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

func splitNonEmpty(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
