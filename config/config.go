package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUserAgent is sent by both extraction paths unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Extractor ExtractorConfig
	Store     StoreConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 5000
	Mode string // "debug", "release", "test"; default: "release"

	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string

	// ShutdownTimeout bounds graceful draining of in-flight requests.
	ShutdownTimeout time.Duration // default: 5s
}

// BrowserConfig controls the per-request Chromium process.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox. Most container runtimes need it.
	NoSandbox bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is passed to Chromium as --proxy-server.
	Proxy string

	// Stealth injects go-rod/stealth evasions before navigation.
	Stealth bool // default: false

	ViewportWidth  int // default: 1280
	ViewportHeight int // default: 720
}

// ExtractorConfig controls fetching and extraction.
type ExtractorConfig struct {
	// UserAgent is sent on the static GET and set on the rendered page.
	UserAgent string

	// FetchTimeout bounds the static-path HTTP request.
	FetchTimeout time.Duration // default: 30s

	// NavigationTimeout bounds launch + navigation + network idle on the
	// rendering path.
	NavigationTimeout time.Duration // default: 30s

	// SettleDelay is the fixed wait after navigation for deferred content.
	SettleDelay time.Duration // default: 2s

	// MaxBodyBytes caps the static-path response body.
	MaxBodyBytes int64 // default: 10 MiB

	// IdleExemptResourceTypes lists resource types whose pending requests do
	// not hold back network idle on the rendered page.
	// default: ["Image", "Font", "Media"]
	IdleExemptResourceTypes []string
}

// StoreConfig controls the history database.
type StoreConfig struct {
	// Path is the SQLite database file; ":memory:" keeps history in RAM.
	Path string // default: "./scraped_data.db"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	APIKeys []string
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per identity.
	RequestsPerSecond float64 // default: 0.11 (100 per 15 minutes)

	// Burst is the maximum burst size per identity.
	Burst int // default: 100
}

// CacheConfig controls the scrape response cache.
type CacheConfig struct {
	MaxEntries int // default: 1000
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory, if present, is loaded first; real
// environment variables take precedence over it.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: failed to read .env file", "error", err)
	}

	return &Config{
		Server: ServerConfig{
			Host: envOr("PLUCK_HOST", "0.0.0.0"),
			Port: envIntOr("PLUCK_PORT", 5000),
			Mode: envOr("PLUCK_MODE", "release"),
			CORSOrigins: envSliceOr("PLUCK_CORS_ORIGINS", []string{
				"http://localhost:3000", "http://127.0.0.1:3000",
				"http://localhost:5173", "http://127.0.0.1:5173",
			}),
			ShutdownTimeout: envDurationOr("PLUCK_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("PLUCK_HEADLESS", true),
			NoSandbox:      envBoolOr("PLUCK_NO_SANDBOX", true),
			BrowserBin:     os.Getenv("PLUCK_BROWSER_BIN"),
			Proxy:          os.Getenv("PLUCK_PROXY"),
			Stealth:        envBoolOr("PLUCK_STEALTH", false),
			ViewportWidth:  envIntOr("PLUCK_VIEWPORT_WIDTH", 1280),
			ViewportHeight: envIntOr("PLUCK_VIEWPORT_HEIGHT", 720),
		},
		Extractor: ExtractorConfig{
			UserAgent:         envOr("PLUCK_USER_AGENT", DefaultUserAgent),
			FetchTimeout:      envDurationOr("PLUCK_FETCH_TIMEOUT", 30*time.Second),
			NavigationTimeout: envDurationOr("PLUCK_NAV_TIMEOUT", 30*time.Second),
			SettleDelay:       envDurationOr("PLUCK_SETTLE_DELAY", 2*time.Second),
			MaxBodyBytes:      int64(envIntOr("PLUCK_MAX_BODY_BYTES", 10<<20)),
			IdleExemptResourceTypes: envSliceOr("PLUCK_IDLE_EXEMPT_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Store: StoreConfig{
			Path: envOr("PLUCK_DB_PATH", "./scraped_data.db"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PLUCK_AUTH_ENABLED", false),
			APIKeys: envSliceOr("PLUCK_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PLUCK_RATE_RPS", 100.0/(15*60)),
			Burst:             envIntOr("PLUCK_RATE_BURST", 100),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("PLUCK_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("PLUCK_LOG_LEVEL", "info"),
			Format: envOr("PLUCK_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
