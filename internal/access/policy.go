// Package access decides whether an identity context may open a named
// screen. Decisions come from a declarative matrix of per-screen rules.
package access

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"aicomplyr.io/identity/internal/identity"
)

// Rule describes who may open one screen. Empty Roles or ContextTypes means
// no restriction on that axis. RoleAny in Roles admits every role.
type Rule struct {
	Route                    string                 `json:"route"`
	Roles                    []string               `json:"roles,omitempty"`
	ContextTypes             []identity.ContextKind `json:"contextTypes,omitempty"`
	RequiresFeature          string                 `json:"requiresFeature,omitempty"`
	RequiresRelationship     bool                   `json:"requiresRelationship,omitempty"`
	RequiresMultipleClients  bool                   `json:"requiresMultipleClients,omitempty"`
	RequiresMultipleContexts bool                   `json:"requiresMultipleContexts,omitempty"`
}

// RoleAny in a rule's Roles list admits every authenticated role.
const RoleAny = "*"

// Matrix maps screen names to their rules.
type Matrix map[string]Rule

// DefaultMatrix returns the built-in screen policy.
func DefaultMatrix() Matrix {
	enterpriseKinds := []identity.ContextKind{identity.KindEnterprise, identity.KindAgencySeat}
	adminRoles := []string{identity.RoleSuperAdmin, identity.RoleEnterpriseOwner, identity.RoleEnterpriseAdmin}

	return Matrix{
		"dashboard": {
			Route: "/dashboard",
			Roles: []string{RoleAny},
		},
		"context-switcher": {
			Route:                    "/contexts",
			Roles:                    []string{RoleAny},
			RequiresMultipleContexts: true,
		},
		"enterprise-settings": {
			Route:        "/enterprise/settings",
			Roles:        adminRoles,
			ContextTypes: enterpriseKinds,
		},
		"user-management": {
			Route:        "/enterprise/users",
			Roles:        adminRoles,
			ContextTypes: enterpriseKinds,
		},
		"seat-management": {
			Route:        "/enterprise/seats",
			Roles:        []string{identity.RoleSuperAdmin, identity.RoleEnterpriseOwner, identity.RoleEnterpriseAdmin, identity.RoleSeatAdmin},
			ContextTypes: enterpriseKinds,
		},
		"policy-management": {
			Route:        "/enterprise/policies",
			Roles:        adminRoles,
			ContextTypes: enterpriseKinds,
		},
		"compliance-reports": {
			Route:           "/reports/compliance",
			Roles:           adminRoles,
			ContextTypes:    enterpriseKinds,
			RequiresFeature: "compliance_reporting",
		},
		"billing": {
			Route:        "/enterprise/billing",
			Roles:        []string{identity.RoleSuperAdmin, identity.RoleEnterpriseOwner},
			ContextTypes: enterpriseKinds,
		},
		"audit-log": {
			Route: "/audit",
			Roles: adminRoles,
		},
		"partner-dashboard": {
			Route:                "/partner/dashboard",
			Roles:                []string{identity.RoleSuperAdmin, identity.RolePartnerAdmin, identity.RolePartnerUser},
			ContextTypes:         []identity.ContextKind{identity.KindPartner},
			RequiresRelationship: true,
		},
		"client-management": {
			Route:                "/partner/clients",
			Roles:                []string{identity.RoleSuperAdmin, identity.RolePartnerAdmin},
			ContextTypes:         []identity.ContextKind{identity.KindPartner},
			RequiresRelationship: true,
		},
		"client-switcher": {
			Route:                   "/partner/clients/switch",
			Roles:                   []string{identity.RoleSuperAdmin, identity.RolePartnerAdmin, identity.RolePartnerUser},
			ContextTypes:            []identity.ContextKind{identity.KindPartner},
			RequiresRelationship:    true,
			RequiresMultipleClients: true,
		},
		"relationship-management": {
			Route:        "/enterprise/relationships",
			Roles:        adminRoles,
			ContextTypes: enterpriseKinds,
		},
		"admin-console": {
			Route: "/admin",
			Roles: []string{identity.RoleSuperAdmin},
		},
	}
}

// LoadMatrix reads a JSON matrix from path, replacing the built-in policy.
func LoadMatrix(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("access: read matrix: %w", err)
	}
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("access: parse matrix: %w", err)
	}
	for name, rule := range m {
		if rule.Route == "" {
			return nil, fmt.Errorf("access: screen %q has no route", name)
		}
	}
	return m, nil
}

// ScreensForRole lists screens the role could open, ignoring the dynamic
// requirements. Sorted for stable output.
func (m Matrix) ScreensForRole(role string) []string {
	var out []string
	for name, rule := range m {
		if roleAllowed(rule, role) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ScreensForContextType lists screens open to the context kind.
func (m Matrix) ScreensForContextType(kind identity.ContextKind) []string {
	var out []string
	for name, rule := range m {
		if kindAllowed(rule, kind) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func roleAllowed(rule Rule, role string) bool {
	if role == identity.RoleSuperAdmin || len(rule.Roles) == 0 {
		return true
	}
	for _, r := range rule.Roles {
		if r == RoleAny || r == role {
			return true
		}
	}
	return false
}

func kindAllowed(rule Rule, kind identity.ContextKind) bool {
	if len(rule.ContextTypes) == 0 {
		return true
	}
	for _, k := range rule.ContextTypes {
		if k == kind {
			return true
		}
	}
	return false
}

// Decision is the outcome of one screen authorization.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Screen  string `json:"screen"`
	Route   string `json:"route,omitempty"`
	Reason  string `json:"reason,omitempty"`
	// Denial carries the structured detail behind Reason: which roles or
	// context types the rule wanted, or the counts that fell short.
	Denial    *identity.AccessDenialError `json:"denial,omitempty"`
	CheckedAt time.Time                   `json:"checkedAt"`
}
