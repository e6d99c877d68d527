// Package httpapi exposes the identity core over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"aicomplyr.io/identity/internal/access"
	"aicomplyr.io/identity/internal/identity"
	"aicomplyr.io/identity/internal/obs"
	"aicomplyr.io/identity/internal/ratelimit"
)

// ReadyProbe pings the database for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	resolver *identity.Resolver
	perms    *identity.PermissionResolver
	guard    *access.Guard
	matrix   access.Matrix
	limiter  *ratelimit.Limiter
	log      *zap.Logger
}

func New(rp ReadyProbe, version string, resolver *identity.Resolver, perms *identity.PermissionResolver, guard *access.Guard, matrix access.Matrix, limiter *ratelimit.Limiter) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		resolver:   resolver,
		perms:      perms,
		guard:      guard,
		matrix:     matrix,
		limiter:    limiter,
		log:        obs.Logger().Named("httpapi"),
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)

	// context resolution and switching
	a.mux.HandleFunc("/v1/contexts", a.handleContexts)
	a.mux.HandleFunc("/v1/contexts/default", a.handleDefaultContext)
	a.mux.HandleFunc("/v1/contexts/switch", a.handleSwitch)
	a.mux.HandleFunc("/v1/contexts/partner", a.handlePartnerContexts)
	a.mux.HandleFunc("/v1/contexts/partner/", a.handlePartnerContextResource)

	// tenant administration
	a.mux.HandleFunc("/v1/enterprises", a.handleEnterprises)
	a.mux.HandleFunc("/v1/enterprises/", a.handleEnterpriseScoped)
	a.mux.HandleFunc("/v1/relationships", a.handleRelationships)
	a.mux.HandleFunc("/v1/relationships/", a.handleRelationshipResource)

	// screen access
	a.mux.HandleFunc("/v1/screens", a.handleScreens)
	a.mux.HandleFunc("/v1/screens/", a.handleScreenAccess)

	// audit
	a.mux.HandleFunc("/v1/audit", a.handleAudit)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wires the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withTenantRateLimit(h)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RateLimit(h, 50, 25)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "identity-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "identity-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleIdentityError maps the core's sentinel errors to status codes.
func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	var denial *identity.AccessDenialError
	switch {
	case errors.As(err, &denial):
		writeError(w, r, http.StatusForbidden, denial.Reason)
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, "access denied")
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "identity operation failed")
	}
}
