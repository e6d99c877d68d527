package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"aicomplyr.io/identity/internal/cache"
	"aicomplyr.io/identity/internal/ids"
	"aicomplyr.io/identity/internal/obs"
)

const (
	contextListTTL = 5 * time.Minute
	tierTTL        = 5 * time.Minute
)

// Resolver implements the context state-transition logic: listing available
// contexts, validating switch requests, re-minting tokens, invalidating the
// cache and emitting audit records.
type Resolver struct {
	store  Store
	cache  cache.Cache
	tokens *TokenService
	trail  AuditRecorder
	log    *zap.Logger
	now    func() time.Time
}

func NewResolver(store Store, c cache.Cache, tokens *TokenService, trail AuditRecorder, log *zap.Logger) *Resolver {
	if log == nil {
		log = obs.Logger()
	}
	return &Resolver{
		store:  store,
		cache:  c,
		tokens: tokens,
		trail:  trail,
		log:    log,
		now:    time.Now,
	}
}

// Tokens exposes the token service for transport-layer verification.
func (r *Resolver) Tokens() *TokenService { return r.tokens }

// AuthResult is returned by Authenticate.
type AuthResult struct {
	User     *User              `json:"user"`
	Contexts *ContextList       `json:"contexts"`
	Context  *EnterpriseContext `json:"context"`
	Token    string             `json:"token"`
}

// SwitchResult is returned by SwitchContext.
type SwitchResult struct {
	Context Context `json:"context"`
	Token   string  `json:"token"`
}

func contextsKey(userID string) string { return cache.Key("user", userID, "contexts") }
func tierKey(enterpriseID string) string {
	return cache.Key("enterprise", enterpriseID, "tier")
}

// Authenticate verifies credentials and issues a token bound to the user's
// default context. Every user must hold exactly one default context; its
// absence is a data-integrity failure surfaced as ErrNotFound.
func (r *Resolver) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := r.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	def, err := r.DefaultContext(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	token, err := r.tokens.Mint(u, *def)
	if err != nil {
		return nil, err
	}
	list, err := r.ListContexts(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Contexts: list, Context: def, Token: token}, nil
}

// ListContexts returns the user's active contexts of both kinds, grouped,
// with enterprise and relationship details joined in. The result is cached
// for five minutes and invalidated on any mutation touching the user's
// contexts.
func (r *Resolver) ListContexts(ctx context.Context, userID string) (*ContextList, error) {
	key := contextsKey(userID)
	if cached, err := r.cache.Get(ctx, key); err == nil {
		var list ContextList
		if err := json.Unmarshal([]byte(cached), &list); err == nil {
			return &list, nil
		}
		// Undecodable entry: drop it and fall through to the store.
		_ = r.cache.Del(ctx, key)
	}

	list, err := r.listContextsUncached(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(list); err == nil {
		if err := r.cache.Set(ctx, key, string(data), contextListTTL); err != nil {
			r.log.Warn("context list cache set failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return list, nil
}

func (r *Resolver) listContextsUncached(ctx context.Context, userID string) (*ContextList, error) {
	enterprise, err := r.store.Contexts().ListEnterprise(ctx, userID)
	if err != nil {
		return nil, err
	}
	partner, err := r.store.Contexts().ListPartner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ContextList{
		EnterpriseContexts: enterprise,
		PartnerContexts:    partner,
		HasMultiple:        len(enterprise)+len(partner) > 1,
	}, nil
}

// InvalidateContexts drops the user's cached context list. Invalidation
// happens after the underlying mutation commits, never before.
func (r *Resolver) InvalidateContexts(ctx context.Context, userID string) {
	if err := r.cache.Del(ctx, contextsKey(userID)); err != nil {
		r.log.Warn("context cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// DefaultContext returns the user's default enterprise context.
func (r *Resolver) DefaultContext(ctx context.Context, userID string) (*EnterpriseContext, error) {
	return r.store.Contexts().Default(ctx, userID)
}

// SwitchContext validates that the user may assume the target context,
// re-mints a token for it and records the switch. The ownership check,
// relationship re-validation and row touch run against the store's
// transactional resolve so a concurrent revocation cannot slip through.
func (r *Resolver) SwitchContext(ctx context.Context, userID, contextID, targetType string) (*SwitchResult, error) {
	target, err := r.store.Contexts().Resolve(ctx, userID, contextID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = Denial("context not found or access denied")
		}
		r.auditSwitch(userID, contextID, targetType, err)
		obs.ObserveContextSwitch("denied")
		return nil, err
	}

	// A partner context is only as good as its relationship. Resolve joins
	// the live edge status, so a lapse between creation and use surfaces
	// right here at switch time.
	if pc, ok := target.(PartnerContext); ok && !pc.Switchable() {
		denial := Denial("partner relationship is not active")
		r.auditSwitch(userID, contextID, targetType, denial)
		obs.ObserveContextSwitch("denied")
		return nil, denial
	}

	if err := r.store.Contexts().TouchLastAccessed(ctx, target.Kind(), contextID); err != nil {
		r.log.Warn("last_accessed touch failed", zap.String("context_id", contextID), zap.Error(err))
	}

	r.InvalidateContexts(ctx, userID)

	u, err := r.store.Users().Find(ctx, userID)
	if err != nil {
		r.auditSwitch(userID, contextID, targetType, err)
		obs.ObserveContextSwitch("error")
		return nil, err
	}
	token, err := r.tokens.Mint(u, target)
	if err != nil {
		r.auditSwitch(userID, contextID, targetType, err)
		obs.ObserveContextSwitch("error")
		return nil, err
	}

	r.auditSwitch(userID, contextID, targetType, nil)
	obs.ObserveContextSwitch("success")
	return &SwitchResult{Context: target, Token: token}, nil
}

// CreatePartnerClientContext binds the user into a partner relationship. It
// fails whenever no active relationship links the two enterprises, regardless
// of what other contexts the user holds.
func (r *Resolver) CreatePartnerClientContext(ctx context.Context, userID, partnerEnterpriseID, clientEnterpriseID, role string, perms []Permission) (*PartnerContext, error) {
	held, err := r.store.Contexts().HasActiveEnterpriseContext(ctx, userID, partnerEnterpriseID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, Denial("user holds no active context in the partner enterprise")
	}
	rel, err := r.store.Relationships().Find(ctx, partnerEnterpriseID, clientEnterpriseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Denial("no partner relationship between the enterprises")
		}
		return nil, err
	}
	if rel.Status != RelationshipActive {
		return nil, Denial(fmt.Sprintf("partner relationship is %s, not active", rel.Status))
	}

	pc := &PartnerContext{
		ID:                  ids.New(),
		UserID:              userID,
		PartnerEnterpriseID: partnerEnterpriseID,
		ClientEnterpriseID:  clientEnterpriseID,
		Role:                role,
		Permissions:         perms,
		IsActive:            true,
		RelationshipStatus:  rel.Status,
		ComplianceScore:     rel.ComplianceScore,
	}
	if err := r.store.Contexts().CreatePartner(ctx, pc); err != nil {
		return nil, err
	}

	r.InvalidateContexts(ctx, userID)
	r.record(AuditEntry{
		UserID:       userID,
		ContextID:    pc.ID,
		Action:       AuditPartnerContextCreate,
		ResourceType: "partner_client_context",
		ResourceID:   pc.ID,
		Details: map[string]any{
			"partner_enterprise_id": partnerEnterpriseID,
			"client_enterprise_id":  clientEnterpriseID,
			"role":                  role,
		},
	})
	return pc, nil
}

// RemovePartnerClientContext soft-deactivates the binding, preserving audit
// continuity. Rows are never hard-deleted.
func (r *Resolver) RemovePartnerClientContext(ctx context.Context, userID, contextID string) error {
	if err := r.store.Contexts().DeactivatePartner(ctx, userID, contextID); err != nil {
		return err
	}
	r.InvalidateContexts(ctx, userID)
	r.record(AuditEntry{
		UserID:       userID,
		ContextID:    contextID,
		Action:       AuditPartnerContextRemove,
		ResourceType: "partner_client_context",
		ResourceID:   contextID,
	})
	return nil
}

// PartnerClientContexts lists the user's bindings under one partner
// enterprise, with client and relationship details joined in.
func (r *Resolver) PartnerClientContexts(ctx context.Context, userID, partnerEnterpriseID string) ([]PartnerContext, error) {
	return r.store.Contexts().ListPartnerForEnterprise(ctx, userID, partnerEnterpriseID)
}

// CreateEnterprise creates the tenant and an owner default context for its
// creator in one transaction.
func (r *Resolver) CreateEnterprise(ctx context.Context, e *Enterprise, ownerUserID string) error {
	if e == nil || strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: enterprise name is required", ErrInvalidInput)
	}
	if e.SubscriptionTier == "" {
		e.SubscriptionTier = "standard"
	}
	if err := r.store.Enterprises().Create(ctx, e, ownerUserID); err != nil {
		return err
	}
	r.InvalidateContexts(ctx, ownerUserID)
	r.record(AuditEntry{
		UserID:       ownerUserID,
		ContextID:    e.ID,
		Action:       AuditEnterpriseCreate,
		ResourceType: "enterprise",
		ResourceID:   e.ID,
		Details:      map[string]any{"name": e.Name, "type": e.Type},
	})
	return nil
}

// CreateAgencySeat creates the seat and a seat admin context for its creator
// in one transaction.
func (r *Resolver) CreateAgencySeat(ctx context.Context, s *AgencySeat, adminUserID string) error {
	if s == nil || strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: seat name is required", ErrInvalidInput)
	}
	if s.SeatType == "" {
		s.SeatType = "standard"
	}
	if err := r.store.Seats().Create(ctx, s, adminUserID); err != nil {
		return err
	}
	r.InvalidateContexts(ctx, adminUserID)
	r.record(AuditEntry{
		UserID:       adminUserID,
		ContextID:    s.ID,
		Action:       AuditSeatCreate,
		ResourceType: "agency_seat",
		ResourceID:   s.ID,
		Details:      map[string]any{"name": s.Name, "enterprise_id": s.EnterpriseID},
	})
	return nil
}

// CreateRelationship inserts a partner-enterprise edge, pending by default.
func (r *Resolver) CreateRelationship(ctx context.Context, rel *PartnerRelationship) error {
	if rel == nil {
		return ErrInvalidInput
	}
	if rel.PartnerEnterpriseID == rel.ClientEnterpriseID {
		return fmt.Errorf("%w: partner and client enterprises must be different", ErrInvalidInput)
	}
	if rel.Status == "" {
		rel.Status = RelationshipPending
	}
	if rel.RiskLevel == "" {
		rel.RiskLevel = "low"
	}
	return r.store.Relationships().Create(ctx, rel)
}

// UpdateRelationshipStatus transitions an edge. Contexts bound to the edge
// stay listed but stop being switchable once the status leaves active.
func (r *Resolver) UpdateRelationshipStatus(ctx context.Context, id string, status RelationshipStatus) error {
	switch status {
	case RelationshipPending, RelationshipActive, RelationshipSuspended, RelationshipEnded:
	default:
		return fmt.Errorf("%w: unknown relationship status %q", ErrInvalidInput, status)
	}
	return r.store.Relationships().UpdateStatus(ctx, id, status)
}

// EnterpriseTier resolves the subscription tier for a tenant through the
// cache; the rate limiter calls this on every check.
func (r *Resolver) EnterpriseTier(ctx context.Context, enterpriseID string) (string, error) {
	key := tierKey(enterpriseID)
	if tier, err := r.cache.Get(ctx, key); err == nil && tier != "" {
		return tier, nil
	}
	tier, err := r.store.Enterprises().Tier(ctx, enterpriseID)
	if err != nil {
		return "", err
	}
	if err := r.cache.Set(ctx, key, tier, tierTTL); err != nil {
		r.log.Warn("tier cache set failed", zap.String("enterprise_id", enterpriseID), zap.Error(err))
	}
	return tier, nil
}

// AuditLog reads the trail for a user, timestamp ascending.
func (r *Resolver) AuditLog(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	return r.store.Audit().ListByUser(ctx, userID, limit)
}

func (r *Resolver) auditSwitch(userID, contextID, targetType string, switchErr error) {
	action := AuditContextSwitchSuccess
	details := map[string]any{}
	if targetType != "" {
		details["target_type"] = targetType
	}
	if switchErr != nil {
		action = AuditContextSwitchFailed
		details["error"] = switchErr.Error()
	}
	r.record(AuditEntry{
		UserID:       userID,
		ContextID:    contextID,
		Action:       action,
		ResourceType: "context",
		ResourceID:   contextID,
		Details:      details,
	})
}

// record hands the entry to the trail; the trail owns the best-effort
// semantics, so this never fails and never blocks.
func (r *Resolver) record(e AuditEntry) {
	if r.trail == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	r.trail.Record(e)
}
