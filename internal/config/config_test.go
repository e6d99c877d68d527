package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("IDENTITY_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without auth secret")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IDENTITY_AUTH_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr, got %s", cfg.Addr)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %v", cfg.TokenTTL)
	}
	if cfg.CacheBackend != "memory" {
		t.Fatalf("expected memory backend, got %s", cfg.CacheBackend)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatalf("expected rate limiting enabled by default")
	}
	lim, ok := cfg.RateLimit.Tiers["enterprise.standard"]
	if !ok || lim.Requests != 100 || lim.Window != time.Hour {
		t.Fatalf("unexpected standard tier: %+v", lim)
	}
	lim, ok = cfg.RateLimit.Tiers["enterprise.enterprise"]
	if !ok || lim.Requests != 1000 {
		t.Fatalf("unexpected enterprise tier: %+v", lim)
	}
	lim, ok = cfg.RateLimit.Tiers["partner.premium"]
	if !ok || lim.Requests != 500 {
		t.Fatalf("unexpected partner premium tier: %+v", lim)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IDENTITY_AUTH_SECRET", "secret")
	t.Setenv("IDENTITY_ADDR", ":9090")
	t.Setenv("IDENTITY_TOKEN_TTL", "2h")
	t.Setenv("IDENTITY_RATE_LIMIT_ENTERPRISE_PREMIUM", "1000:30m:100")
	t.Setenv("IDENTITY_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Addr)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("expected 2h ttl, got %v", cfg.TokenTTL)
	}
	if cfg.RateLimit.Enabled {
		t.Fatalf("expected rate limiting disabled")
	}
	lim := cfg.RateLimit.Tiers["enterprise.premium"]
	if lim.Requests != 1000 || lim.Window != 30*time.Minute || lim.Burst != 100 {
		t.Fatalf("override not applied: %+v", lim)
	}
}

func TestLoadRejectsMalformedLimit(t *testing.T) {
	t.Setenv("IDENTITY_AUTH_SECRET", "secret")
	t.Setenv("IDENTITY_RATE_LIMIT_ENTERPRISE_PREMIUM", "lots")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed limit")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("IDENTITY_AUTH_SECRET", "secret")
	t.Setenv("IDENTITY_TOKEN_TTL", "never")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}
