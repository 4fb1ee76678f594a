// Package config provides configuration loading and management for the AgriVault
// data service. It handles environment variable parsing and provides default
// values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// godotenv.Load() does not override already-set variables, preserving
// OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// QueuePolicy controls what happens when the offline queue reaches capacity.
type QueuePolicy string

const (
	// QueueRejectNew rejects new items once the queue is full.
	QueueRejectNew QueuePolicy = "reject_new"
	// QueueEvictOldest drops the oldest item to make room for a new one.
	QueueEvictOldest QueuePolicy = "evict_oldest"
)

// Config captures environment-driven settings for the AgriVault data service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // PostgreSQL DSN; empty selects the seeded in-memory store
	NATSURL     string // NATS server URL for event publishing
	KVPath      string // SQLite file for durable local storage; empty selects in-memory

	// Session token settings
	JWTSigningKey string        // HS256 signing key for session tokens
	JWTIssuer     string        // Issuer claim for session tokens
	SessionTTL    time.Duration // Session token lifetime

	// Simulated network latency applied by the data service before
	// each operation resolves. Zero disables the delay.
	SimulatedLatency time.Duration

	// Offline queue settings
	QueueCapacity int         // Maximum queued items; 0 means unbounded
	QueuePolicy   QueuePolicy // Behavior at capacity

	// Cache settings
	CacheMaxAge time.Duration // Default maximum age for cached reads

	// S3-compatible storage for listing images (optional)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// Default configuration values used when environment variables are not set.
const (
	defaultPort       = "8080"
	defaultEnv        = "dev"
	defaultS3Region   = "us-east-1"
	defaultIssuer     = "agrivault"
	defaultSessionTTL = 24 * time.Hour
	defaultLatency    = 500 * time.Millisecond
	defaultQueueCap   = 1000
	defaultCacheAge   = time.Hour
)

// Load reads environment variables and produces a Config suitable for
// wiring the service. Returns an error if required parameters are
// missing or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("AGRIVAULT_ENV", defaultEnv),
		Port:             getEnv("AGRIVAULT_PORT", defaultPort),
		DatabaseDSN:      os.Getenv("AGRIVAULT_DB_DSN"),
		NATSURL:          os.Getenv("AGRIVAULT_NATS_URL"),
		KVPath:           os.Getenv("AGRIVAULT_KV_PATH"),
		JWTSigningKey:    os.Getenv("AGRIVAULT_JWT_SIGNING_KEY"),
		JWTIssuer:        getEnv("AGRIVAULT_JWT_ISSUER", defaultIssuer),
		SessionTTL:       defaultSessionTTL,
		SimulatedLatency: defaultLatency,
		QueueCapacity:    defaultQueueCap,
		QueuePolicy:      QueueRejectNew,
		CacheMaxAge:      defaultCacheAge,
		S3Endpoint:       os.Getenv("AGRIVAULT_S3_ENDPOINT"),
		S3Region:         getEnv("AGRIVAULT_S3_REGION", defaultS3Region),
		S3Bucket:         os.Getenv("AGRIVAULT_S3_BUCKET"),
		S3AccessKey:      os.Getenv("AGRIVAULT_S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("AGRIVAULT_S3_SECRET_KEY"),
	}

	if ttl, exists := os.LookupEnv("AGRIVAULT_SESSION_TTL"); exists {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return cfg, fmt.Errorf("invalid AGRIVAULT_SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}

	if latency, exists := os.LookupEnv("AGRIVAULT_SIMULATED_LATENCY"); exists {
		d, err := time.ParseDuration(latency)
		if err != nil {
			return cfg, fmt.Errorf("invalid AGRIVAULT_SIMULATED_LATENCY: %w", err)
		}
		cfg.SimulatedLatency = d
	}

	if capStr, exists := os.LookupEnv("AGRIVAULT_QUEUE_CAPACITY"); exists {
		n, err := strconv.Atoi(capStr)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid AGRIVAULT_QUEUE_CAPACITY: %q", capStr)
		}
		cfg.QueueCapacity = n
	}

	if policy, exists := os.LookupEnv("AGRIVAULT_QUEUE_POLICY"); exists {
		switch QueuePolicy(strings.TrimSpace(policy)) {
		case QueueRejectNew:
			cfg.QueuePolicy = QueueRejectNew
		case QueueEvictOldest:
			cfg.QueuePolicy = QueueEvictOldest
		default:
			return cfg, fmt.Errorf("invalid AGRIVAULT_QUEUE_POLICY: %q", policy)
		}
	}

	if age, exists := os.LookupEnv("AGRIVAULT_CACHE_MAX_AGE"); exists {
		d, err := time.ParseDuration(age)
		if err != nil {
			return cfg, fmt.Errorf("invalid AGRIVAULT_CACHE_MAX_AGE: %w", err)
		}
		cfg.CacheMaxAge = d
	}

	// Validate required parameters. Dev may run without a signing
	// key; the caller substitutes a built-in one.
	if cfg.JWTSigningKey == "" && cfg.Env != "dev" {
		return cfg, fmt.Errorf("AGRIVAULT_JWT_SIGNING_KEY is required when AGRIVAULT_ENV is %q", cfg.Env)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}
