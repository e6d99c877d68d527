package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"aicomplyr.io/identity/internal/obs"
)

// Redis is the networked backend shared by all API replicas.
type Redis struct {
	client *redis.Client
}

var _ Cache = (*Redis)(nil)

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping verifies connectivity; main calls it at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		obs.ObserveCacheOp(BackendRedis, "get", "miss")
		return "", ErrMiss
	}
	if err != nil {
		obs.ObserveCacheOp(BackendRedis, "get", "error")
		return "", err
	}
	obs.ObserveCacheOp(BackendRedis, "get", "hit")
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	err := r.client.Set(ctx, key, value, ttl).Err()
	if err != nil {
		obs.ObserveCacheOp(BackendRedis, "set", "error")
		return err
	}
	obs.ObserveCacheOp(BackendRedis, "set", "ok")
	return nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrMiss
	}
	return nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -2:
		return 0, ErrMiss
	case -1:
		// Key exists without expiry.
		return 0, nil
	default:
		return d, nil
	}
}

func (r *Redis) Flush(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
