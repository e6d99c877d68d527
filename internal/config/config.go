// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"aicomplyr.io/identity/internal/cache"
	"aicomplyr.io/identity/internal/ratelimit"
)

// Config carries everything cmd/api needs to wire the service.
type Config struct {
	Addr        string
	PostgresDSN string

	AuthSecret string
	TokenTTL   time.Duration

	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit ratelimit.Config

	ScreenMatrixPath string
	AuditBuffer      int
}

// Load reads IDENTITY_* variables. A .env file in the working directory is
// applied first without overriding the real environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:             getenv("IDENTITY_ADDR", ":8080"),
		PostgresDSN:      os.Getenv("IDENTITY_PG_DSN"),
		AuthSecret:       os.Getenv("IDENTITY_AUTH_SECRET"),
		CacheBackend:     getenv("IDENTITY_CACHE_BACKEND", cache.BackendMemory),
		RedisAddr:        getenv("IDENTITY_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("IDENTITY_REDIS_PASSWORD"),
		ScreenMatrixPath: os.Getenv("IDENTITY_SCREEN_MATRIX"),
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("config: IDENTITY_AUTH_SECRET is required")
	}

	var err error
	if cfg.TokenTTL, err = getduration("IDENTITY_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getint("IDENTITY_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.AuditBuffer, err = getint("IDENTITY_AUDIT_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = loadRateLimit(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRateLimit reads IDENTITY_RATE_LIMIT_ENABLED plus per-tier overrides
// named IDENTITY_RATE_LIMIT_<CONTEXT>_<TIER>, e.g.
// IDENTITY_RATE_LIMIT_ENTERPRISE_PREMIUM=500:1h:50.
func loadRateLimit() (ratelimit.Config, error) {
	cfg := ratelimit.Config{
		Enabled: getenv("IDENTITY_RATE_LIMIT_ENABLED", "true") == "true",
		Tiers: map[string]ratelimit.Limit{
			"enterprise.standard":   {Requests: 100, Window: time.Hour, Burst: 20},
			"enterprise.premium":    {Requests: 500, Window: time.Hour, Burst: 50},
			"enterprise.enterprise": {Requests: 1000, Window: time.Hour, Burst: 100},
			"agencySeat.standard":   {Requests: 100, Window: time.Hour, Burst: 20},
			"partner.standard":      {Requests: 200, Window: time.Hour, Burst: 30},
			"partner.premium":       {Requests: 500, Window: time.Hour, Burst: 50},
		},
		Default: ratelimit.Limit{Requests: 100, Window: time.Hour},
	}

	const prefix = "IDENTITY_RATE_LIMIT_"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) || name == "IDENTITY_RATE_LIMIT_ENABLED" {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		parts := strings.SplitN(key, "_", 2)
		if len(parts) != 2 {
			return cfg, fmt.Errorf("config: malformed rate limit variable %s", name)
		}
		lim, err := ratelimit.ParseLimit(value)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", name, err)
		}
		// AGENCYSEAT maps onto the camel-cased context type.
		ctxType := parts[0]
		if ctxType == "agencyseat" {
			ctxType = "agencySeat"
		}
		cfg.Tiers[ctxType+"."+parts[1]] = lim
	}
	return cfg, nil
}

// CacheConfig translates the cache-related settings.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Backend:       c.CacheBackend,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getint(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	return n, nil
}

func getduration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration: %w", name, err)
	}
	return d, nil
}
