package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aicomplyr.io/identity/internal/access"
	"aicomplyr.io/identity/internal/cache"
	"aicomplyr.io/identity/internal/identity"
	"aicomplyr.io/identity/internal/ratelimit"
)

// stubStore backs the HTTP tests with one user owning two enterprise
// contexts. Unimplemented surfaces panic via the embedded nil interfaces.
type stubStore struct {
	identity.Store
	user *identity.User
	ctx1 identity.EnterpriseContext
	ctx2 identity.EnterpriseContext
}

func newStubStore(t *testing.T) *stubStore {
	t.Helper()
	hash, err := identity.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &stubStore{
		user: &identity.User{ID: "u1", Email: "alice@example.com", Name: "Alice", PasswordHash: hash, IsActive: true},
		ctx1: identity.EnterpriseContext{ID: "ctx1", UserID: "u1", EnterpriseID: "ent1", Role: identity.RoleEnterpriseOwner, IsDefault: true, IsActive: true},
		ctx2: identity.EnterpriseContext{ID: "ctx2", UserID: "u1", EnterpriseID: "ent2", Role: identity.RoleEnterpriseAdmin, IsActive: true},
	}
}

func (s *stubStore) Users() identity.UserStore                 { return stubUsers{s} }
func (s *stubStore) Enterprises() identity.EnterpriseStore     { return stubEnterprises{} }
func (s *stubStore) Contexts() identity.ContextStore           { return stubContexts{s} }
func (s *stubStore) Audit() identity.AuditStore                { return stubAudit{} }
func (s *stubStore) RolePermissions() identity.RolePermissionStore {
	return stubRoles{}
}

type stubUsers struct{ s *stubStore }

func (u stubUsers) Create(context.Context, *identity.User) error { return nil }

func (u stubUsers) Find(_ context.Context, id string) (*identity.User, error) {
	if id == u.s.user.ID {
		return u.s.user, nil
	}
	return nil, identity.ErrNotFound
}

func (u stubUsers) FindByEmail(_ context.Context, email string) (*identity.User, error) {
	if email == u.s.user.Email {
		return u.s.user, nil
	}
	return nil, identity.ErrNotFound
}

func (u stubUsers) Deactivate(context.Context, string) error { return nil }

type stubEnterprises struct{ identity.EnterpriseStore }

func (stubEnterprises) Tier(context.Context, string) (string, error) { return "standard", nil }

type stubContexts struct{ s *stubStore }

func (c stubContexts) Resolve(_ context.Context, userID, contextID string) (identity.Context, error) {
	for _, ec := range []identity.EnterpriseContext{c.s.ctx1, c.s.ctx2} {
		if ec.ID == contextID && ec.UserID == userID {
			return ec, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (c stubContexts) ListEnterprise(context.Context, string) ([]identity.EnterpriseContext, error) {
	return []identity.EnterpriseContext{c.s.ctx1, c.s.ctx2}, nil
}

func (c stubContexts) ListPartner(context.Context, string) ([]identity.PartnerContext, error) {
	return nil, nil
}

func (c stubContexts) ListPartnerForEnterprise(context.Context, string, string) ([]identity.PartnerContext, error) {
	return nil, nil
}

func (c stubContexts) Default(context.Context, string) (*identity.EnterpriseContext, error) {
	ec := c.s.ctx1
	return &ec, nil
}

func (c stubContexts) TouchLastAccessed(context.Context, identity.ContextKind, string) error { return nil }

func (c stubContexts) HasActiveEnterpriseContext(context.Context, string, string) (bool, error) {
	return true, nil
}

func (c stubContexts) CreatePartner(context.Context, *identity.PartnerContext) error { return nil }
func (c stubContexts) DeactivatePartner(context.Context, string, string) error       { return nil }
func (c stubContexts) CountActiveClients(context.Context, string, string) (int, error) {
	return 0, nil
}
func (c stubContexts) CountActive(context.Context, string) (int, error) { return 2, nil }

type stubRoles struct{}

func (stubRoles) ForRole(context.Context, string) ([]identity.Permission, error) { return nil, nil }

type stubAudit struct{}

func (stubAudit) Append(context.Context, *identity.AuditEntry) error { return nil }
func (stubAudit) ListByUser(context.Context, string, int) ([]identity.AuditEntry, error) {
	return []identity.AuditEntry{{UserID: "u1", Action: identity.AuditContextSwitchSuccess}}, nil
}
func (stubAudit) ListByContext(context.Context, string, int) ([]identity.AuditEntry, error) {
	return nil, nil
}

func newTestAPI(t *testing.T, rl ratelimit.Config) (*API, *identity.Resolver) {
	t.Helper()
	store := newStubStore(t)
	c, err := cache.New(cache.Config{Backend: cache.BackendMemory})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	tokens, err := identity.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	resolver := identity.NewResolver(store, c, tokens, nil, nil)
	perms := identity.NewPermissionResolver(store.RolePermissions())
	matrix := access.DefaultMatrix()
	guard := access.NewGuard(matrix, store, nil, nil)
	limiter := ratelimit.New(rl, c)
	api := New(ReadyProbe{}, "test", resolver, perms, guard, matrix, limiter)
	return api, resolver
}

func login(t *testing.T, handler http.Handler) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "s3cret"})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("login returned no token")
	}
	return result.Token
}

func TestHealthzIsPublic(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestProtectedEndpointRequiresToken(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/contexts", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/contexts", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()

	body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestListContextsWithToken(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()
	token := login(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/contexts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var list identity.ContextList
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.EnterpriseContexts) != 2 || !list.HasMultiple {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSwitchContextEndpoint(t *testing.T) {
	api, resolver := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()
	token := login(t, handler)

	body, _ := json.Marshal(map[string]string{"contextId": "ctx2"})
	req := httptest.NewRequest(http.MethodPost, "/v1/contexts/switch", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := resolver.Tokens().Verify(result.Token)
	if err != nil {
		t.Fatalf("verify switched token: %v", err)
	}
	if claims.ContextID != "ctx2" {
		t.Fatalf("token not bound to ctx2: %+v", claims)
	}
}

func TestSwitchToForeignContextForbidden(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()
	token := login(t, handler)

	body, _ := json.Marshal(map[string]string{"contextId": "not-mine"})
	req := httptest.NewRequest(http.MethodPost, "/v1/contexts/switch", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestScreenAccessEndpoint(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()
	token := login(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/screens/enterprise-settings/access", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var decision access.Decision
	if err := json.Unmarshal(rr.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decision.Allowed || decision.Route != "/enterprise/settings" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestTenantRateLimitHeadersAnd429(t *testing.T) {
	rl := ratelimit.Config{
		Enabled: true,
		Tiers: map[string]ratelimit.Limit{
			"enterprise.standard": {Requests: 2, Window: time.Hour},
		},
		Default: ratelimit.Limit{Requests: 2, Window: time.Hour},
	}
	api, _ := newTestAPI(t, rl)
	handler := api.Handler()
	token := login(t, handler)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/contexts", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last.Code)
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("missing X-RateLimit-Limit header")
	}
	if last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected 0 remaining, got %q", last.Header().Get("X-RateLimit-Remaining"))
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestAuditEndpointReturnsEntries(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()
	token := login(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result struct {
		Entries []identity.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
}

func TestMethodNotAllowedOnLogin(t *testing.T) {
	api, _ := newTestAPI(t, ratelimit.Config{})
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != "POST" {
		t.Fatalf("missing Allow header")
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatalf("expected error for empty header")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatalf("expected error for wrong scheme")
	}
	token, err := extractBearerToken("Bearer abc123")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("expected abc123, got %q", token)
	}
}
