package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"aicomplyr.io/identity/internal/access"
	"aicomplyr.io/identity/internal/audit"
	"aicomplyr.io/identity/internal/cache"
	"aicomplyr.io/identity/internal/config"
	"aicomplyr.io/identity/internal/httpapi"
	"aicomplyr.io/identity/internal/identity"
	"aicomplyr.io/identity/internal/obs"
	"aicomplyr.io/identity/internal/ratelimit"
)

var version = "0.3.1"

func main() {
	// Observability first: metric registration and the JSON logger.
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("IDENTITY_COMMIT"))
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := identity.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	c, err := cache.New(cfg.CacheConfig())
	if err != nil {
		log.Fatalf("cache: %v", err)
	}

	trail := audit.New(store.Audit(), cfg.AuditBuffer)

	tokens, err := identity.NewTokenService(cfg.AuthSecret, identity.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	resolver := identity.NewResolver(store, c, tokens, trail, logger)
	perms := identity.NewPermissionResolver(store.RolePermissions())
	limiter := ratelimit.New(cfg.RateLimit, c)

	matrix := access.DefaultMatrix()
	if cfg.ScreenMatrixPath != "" {
		if matrix, err = access.LoadMatrix(cfg.ScreenMatrixPath); err != nil {
			log.Fatalf("screen matrix: %v", err)
		}
	}
	guard := access.NewGuard(matrix, store, nil, trail)

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, resolver, perms, guard, matrix, limiter)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting identity-api", zap.String("version", version), zap.String("addr", srv.Addr))

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	trail.Close()
	_ = c.Close()
	_ = store.Close()
	logger.Info("stopped")
}
