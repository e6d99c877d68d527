package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aicomplyr.io/identity/internal/identity"
	"aicomplyr.io/identity/internal/obs"
)

// FeatureChecker reports whether an enterprise's subscription includes a
// feature flag.
type FeatureChecker interface {
	Enabled(ctx context.Context, enterpriseID, feature string) (bool, error)
}

// AllFeatures enables every feature. It stands in until subscription
// entitlements are wired up.
type AllFeatures struct{}

func (AllFeatures) Enabled(context.Context, string, string) (bool, error) { return true, nil }

// Guard evaluates the screen matrix against a verified token's claims.
type Guard struct {
	matrix   Matrix
	store    identity.Store
	features FeatureChecker
	trail    identity.AuditRecorder
	log      *zap.Logger
	now      func() time.Time
}

func NewGuard(matrix Matrix, store identity.Store, features FeatureChecker, trail identity.AuditRecorder) *Guard {
	if features == nil {
		features = AllFeatures{}
	}
	return &Guard{
		matrix:   matrix,
		store:    store,
		features: features,
		trail:    trail,
		log:      obs.Logger().Named("access"),
		now:      time.Now,
	}
}

// Authorize decides whether the claims may open the screen. Static checks
// run before any store access; an unknown screen is denied. The decision is
// audited either way.
func (g *Guard) Authorize(ctx context.Context, claims *identity.Claims, screen string) (Decision, error) {
	decision, err := g.evaluate(ctx, claims, screen)
	if err != nil {
		return Decision{}, err
	}
	g.audit(claims, decision)
	return decision, nil
}

func (g *Guard) evaluate(ctx context.Context, claims *identity.Claims, screen string) (Decision, error) {
	deny := func(d *identity.AccessDenialError) Decision {
		return Decision{Screen: screen, Reason: d.Reason, Denial: d, CheckedAt: g.now().UTC()}
	}

	rule, ok := g.matrix[screen]
	if !ok {
		return deny(identity.Denial("unknown screen")), nil
	}
	if !roleAllowed(rule, claims.Role) {
		return deny(&identity.AccessDenialError{
			Reason:        fmt.Sprintf("role %s not permitted", claims.Role),
			RequiredRoles: rule.Roles,
		}), nil
	}

	kind := identity.ContextKind(claims.ContextType)
	if !kindAllowed(rule, kind) {
		return deny(&identity.AccessDenialError{
			Reason:        fmt.Sprintf("context type %s not permitted", kind),
			RequiredKinds: rule.ContextTypes,
		}), nil
	}

	if rule.RequiresFeature != "" {
		enabled, err := g.features.Enabled(ctx, claims.EnterpriseID, rule.RequiresFeature)
		if err != nil {
			return Decision{}, err
		}
		if !enabled {
			return deny(identity.Denial(fmt.Sprintf("feature %s not enabled", rule.RequiresFeature))), nil
		}
	}

	if rule.RequiresRelationship && kind == identity.KindPartner {
		rel, err := g.store.Relationships().Find(ctx, claims.PartnerEnterpriseID, claims.ClientEnterpriseID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return deny(identity.Denial("no partner relationship")), nil
			}
			return Decision{}, err
		}
		if rel.Status != identity.RelationshipActive {
			return deny(identity.Denial(fmt.Sprintf("partner relationship is %s", rel.Status))), nil
		}
	}

	if rule.RequiresMultipleClients {
		n, err := g.store.Contexts().CountActiveClients(ctx, claims.UserID, claims.PartnerEnterpriseID)
		if err != nil {
			return Decision{}, err
		}
		if n < 2 {
			return deny(&identity.AccessDenialError{
				Reason:   fmt.Sprintf("requires more than one client, found %d", n),
				Required: 2,
				Found:    n,
			}), nil
		}
	}

	if rule.RequiresMultipleContexts {
		n, err := g.store.Contexts().CountActive(ctx, claims.UserID)
		if err != nil {
			return Decision{}, err
		}
		if n < 2 {
			return deny(&identity.AccessDenialError{
				Reason:   fmt.Sprintf("requires more than one context, found %d", n),
				Required: 2,
				Found:    n,
			}), nil
		}
	}

	return Decision{Allowed: true, Screen: screen, Route: rule.Route, CheckedAt: g.now().UTC()}, nil
}

func (g *Guard) audit(claims *identity.Claims, d Decision) {
	if g.trail == nil {
		return
	}
	outcome := "denied"
	if d.Allowed {
		outcome = "allowed"
	}
	g.trail.Record(identity.AuditEntry{
		UserID:       claims.UserID,
		ContextID:    claims.ContextID,
		Action:       identity.AuditScreenAccess,
		ResourceType: "screen",
		ResourceID:   d.Screen,
		Details: map[string]any{
			"outcome": outcome,
			"reason":  d.Reason,
			"role":    claims.Role,
		},
		OccurredAt: d.CheckedAt,
	})
}
