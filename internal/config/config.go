// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	CORSOrigin  string

	// Logging
	LogLevel  string
	LogFormat string

	// osu! API (catalog)
	OsuClientID     string
	OsuClientSecret string
	OsuAPIURL       string
	OsuTokenURL     string

	// Beatmap file origin
	OsuFileURL   string
	FetchTimeout time.Duration
	FetchDedup   bool

	// Cache backend ("local", "s3" or "postgres", default: "local")
	CacheBackend string
	CacheDir     string

	// S3 cache backend
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Prefix    string

	// PostgreSQL cache backend
	DatabaseURL string
}

// EnvFiles are loaded, in order, before reading the environment. Variables
// already set in the process environment win; missing files are skipped.
var EnvFiles = []string{".env.local", ".env"}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg, err := LoadCacheOnly()
	if err != nil {
		return nil, err
	}

	if cfg.OsuClientID == "" {
		return nil, fmt.Errorf("OSU_CLIENT_ID is required")
	}
	if _, err := strconv.ParseUint(cfg.OsuClientID, 10, 64); err != nil {
		return nil, fmt.Errorf("OSU_CLIENT_ID is not a number: %q", cfg.OsuClientID)
	}
	if cfg.OsuClientSecret == "" {
		return nil, fmt.Errorf("OSU_CLIENT_SECRET is required")
	}
	return cfg, nil
}

// LoadCacheOnly is Load without the osu! API credential checks, for tools
// that only touch the beatmap cache and the file origin.
func LoadCacheOnly() (*Config, error) {
	for _, f := range EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		ListenAddr:      listenAddr(),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		OsuClientID:     envOr("OSU_CLIENT_ID", ""),
		OsuClientSecret: envOr("OSU_CLIENT_SECRET", ""),
		OsuAPIURL:       envOr("OSU_API_URL", "https://osu.ppy.sh/api/v2"),
		OsuTokenURL:     envOr("OSU_TOKEN_URL", "https://osu.ppy.sh/oauth/token"),
		OsuFileURL:      envOr("OSU_FILE_URL", "https://osu.ppy.sh/osu"),
		FetchTimeout:    envDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchDedup:      envBool("FETCH_DEDUP", true),
		CacheBackend:    envOr("CACHE_BACKEND", "local"),
		CacheDir:        envOr("CACHE_DIR", "maps"),
		S3Endpoint:      envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:        envOr("S3_BUCKET", "beatmaps"),
		S3AccessKey:     envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:     envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:        envOr("S3_REGION", "us-east-1"),
		S3Prefix:        envOr("S3_PREFIX", "maps/"),
		DatabaseURL:     envOr("DATABASE_URL", ""),
	}

	switch cfg.CacheBackend {
	case "local", "s3":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres cache backend")
		}
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}

	return cfg, nil
}

// listenAddr honours PORT for compatibility with platform launchers, with
// LISTEN_ADDR taking precedence.
func listenAddr() string {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		return v
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8080"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
