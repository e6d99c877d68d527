// Package cache provides the short-TTL key/value layer fronting expensive
// store joins (context lists, tier lookups) and the rate-limit counters.
// Two backends implement one interface so callers never branch on where
// the data actually lives.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is the minimal contract shared by the in-process and redis backends.
// Values are opaque strings; callers serialize richer data themselves.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL reports the remaining lifetime of key; zero means no expiry is set.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Flush(ctx context.Context) error
	Close() error
}

// Key joins parts into a hierarchical colon-separated cache key,
// e.g. Key("user", id, "contexts") -> "user:<id>:contexts".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Backend selectors accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and tunes the backend.
type Config struct {
	Backend       string
	SweepInterval time.Duration // memory backend janitor interval

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds a Cache from configuration.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(cfg.SweepInterval), nil
	case BackendRedis:
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
