package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"aicomplyr.io/identity/internal/obs"
)

const defaultSweepInterval = time.Minute

// Memory is the in-process backend. Reads evict expired entries lazily and a
// background janitor sweeps the whole map on a fixed interval.
type Memory struct {
	c *gocache.Cache
}

var _ Cache = (*Memory)(nil)

// NewMemory builds the in-process backend. A non-positive sweep interval
// falls back to one minute.
func NewMemory(sweep time.Duration) *Memory {
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	return &Memory{c: gocache.New(gocache.NoExpiration, sweep)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(key)
	if !ok {
		obs.ObserveCacheOp(BackendMemory, "get", "miss")
		return "", ErrMiss
	}
	s, ok := v.(string)
	if !ok {
		obs.ObserveCacheOp(BackendMemory, "get", "error")
		return "", fmt.Errorf("cache: key %q holds %T, not string", key, v)
	}
	obs.ObserveCacheOp(BackendMemory, "get", "hit")
	return s, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	obs.ObserveCacheOp(BackendMemory, "set", "ok")
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	obs.ObserveCacheOp(BackendMemory, "del", "ok")
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.c.Get(key)
	return ok, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	for {
		if n, err := m.c.IncrementInt64(key, 1); err == nil {
			return n, nil
		}
		// Missing or expired: seed the counter. Add fails when a concurrent
		// writer beat us to it, in which case we loop back to Increment.
		if err := m.c.Add(key, int64(1), gocache.NoExpiration); err == nil {
			return 1, nil
		}
	}
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	v, _, ok := m.c.GetWithExpiration(key)
	if !ok {
		return ErrMiss
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, v, ttl)
	return nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, ok := m.c.GetWithExpiration(key)
	if !ok {
		return 0, ErrMiss
	}
	if exp.IsZero() {
		return 0, nil
	}
	d := time.Until(exp)
	if d < 0 {
		d = 0
	}
	return d, nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.c.Flush()
	return nil
}

func (m *Memory) Close() error { return nil }
