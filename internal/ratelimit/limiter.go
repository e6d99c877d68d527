// Package ratelimit enforces per-tenant fixed-window request limits backed
// by the shared cache.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"aicomplyr.io/identity/internal/cache"
	"aicomplyr.io/identity/internal/obs"
)

// Limit is one tier's quota. Burst is parsed from configuration but the
// fixed-window algorithm does not consume it.
// TODO: use Burst when the limiter grows a sliding-window mode.
type Limit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Config maps "<contextType>.<tier>" keys, e.g. "enterprise.standard", to
// limits. Default applies when no key matches.
type Config struct {
	Enabled bool
	Tiers   map[string]Limit
	Default Limit
}

// Scope identifies the request being counted.
type Scope struct {
	ContextType  string
	Tier         string
	EnterpriseID string
	ContextID    string
	UserID       string
}

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Limiter counts requests in fixed windows keyed by tenant and by user.
type Limiter struct {
	cfg   Config
	cache cache.Cache
	log   *zap.Logger
}

func New(cfg Config, c cache.Cache) *Limiter {
	if cfg.Default.Requests == 0 {
		cfg.Default = Limit{Requests: 100, Window: time.Hour}
	}
	return &Limiter{cfg: cfg, cache: c, log: obs.Logger().Named("ratelimit")}
}

// resolve picks the limit for a scope: exact "<type>.<tier>" key first, then
// the type's standard tier, then the default.
func (l *Limiter) resolve(scope Scope) Limit {
	if lim, ok := l.cfg.Tiers[scope.ContextType+"."+scope.Tier]; ok {
		return lim
	}
	if lim, ok := l.cfg.Tiers[scope.ContextType+".standard"]; ok {
		return lim
	}
	return l.cfg.Default
}

// Allow admits or rejects one request. The tenant counter must be under
// quota; the per-user counter is consulted only when the scope carries a
// user id, so anonymous scopes never share a counter. Cache failures admit
// the request: an unavailable counter backend must not take authorization
// down with it.
func (l *Limiter) Allow(ctx context.Context, scope Scope) Result {
	lim := l.resolve(scope)
	if !l.cfg.Enabled || lim.Requests <= 0 {
		return Result{Allowed: true, Limit: lim.Requests, Remaining: lim.Requests, ResetIn: lim.Window}
	}

	tenantKey := cache.Key("ratelimit", scope.EnterpriseID, scope.ContextID)

	res := l.count(ctx, tenantKey, lim)
	if !res.Allowed {
		obs.ObserveRateLimit(scope.ContextType, "denied")
		return res
	}
	if scope.UserID != "" {
		userKey := cache.Key("ratelimit", "user", scope.UserID)
		userRes := l.count(ctx, userKey, lim)
		if !userRes.Allowed {
			obs.ObserveRateLimit(scope.ContextType, "denied")
			return userRes
		}
		if userRes.Remaining < res.Remaining {
			res = userRes
		}
	}

	obs.ObserveRateLimit(scope.ContextType, "allowed")
	return res
}

func (l *Limiter) count(ctx context.Context, key string, lim Limit) Result {
	n, err := l.cache.Incr(ctx, key)
	if err != nil {
		l.log.Warn("counter increment failed, admitting request", zap.String("key", key), zap.Error(err))
		obs.ObserveRateLimit("unknown", "error")
		return Result{Allowed: true, Limit: lim.Requests, Remaining: lim.Requests, ResetIn: lim.Window}
	}
	// First hit in a window owns setting its expiry.
	if n == 1 {
		if err := l.cache.Expire(ctx, key, lim.Window); err != nil {
			l.log.Warn("counter expiry failed", zap.String("key", key), zap.Error(err))
		}
	}

	resetIn := lim.Window
	if ttl, err := l.cache.TTL(ctx, key); err == nil && ttl > 0 {
		resetIn = ttl
	}

	remaining := lim.Requests - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   n <= int64(lim.Requests),
		Limit:     lim.Requests,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// ParseLimit reads "requests:window[:burst]", e.g. "100:1h:20".
func ParseLimit(s string) (Limit, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Limit{}, fmt.Errorf("ratelimit: malformed limit %q", s)
	}
	requests, err := strconv.Atoi(parts[0])
	if err != nil || requests < 0 {
		return Limit{}, fmt.Errorf("ratelimit: bad request count in %q", s)
	}
	window, err := time.ParseDuration(parts[1])
	if err != nil || window <= 0 {
		return Limit{}, fmt.Errorf("ratelimit: bad window in %q", s)
	}
	lim := Limit{Requests: requests, Window: window}
	if len(parts) == 3 {
		burst, err := strconv.Atoi(parts[2])
		if err != nil || burst < 0 {
			return Limit{}, fmt.Errorf("ratelimit: bad burst in %q", s)
		}
		lim.Burst = burst
	}
	return lim, nil
}
