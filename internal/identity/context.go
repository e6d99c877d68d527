package identity

import "time"

// ContextKind tags the two context shapes. An enterprise context with a seat
// reports KindAgencySeat; the row layout is the same.
type ContextKind string

const (
	KindEnterprise ContextKind = "enterprise"
	KindAgencySeat ContextKind = "agencySeat"
	KindPartner    ContextKind = "partner"
)

// Context is the single active identity a token represents. Exactly two
// concrete shapes exist: EnterpriseContext and PartnerContext. Modeling the
// shapes as a tagged variant keeps the two-kind polymorphism explicit instead
// of hiding it in optional fields.
type Context interface {
	ContextID() string
	Owner() string
	Kind() ContextKind
	ContextRole() string
	// Grants returns the explicit permission set bound to the context.
	Grants() []Permission
	// Tenant returns the enterprise whose rate budget the context consumes.
	Tenant() string
}

// EnterpriseContext binds a user into an enterprise, optionally through an
// agency seat.
type EnterpriseContext struct {
	ID               string       `json:"context_id"`
	UserID           string       `json:"user_id"`
	EnterpriseID     string       `json:"enterprise_id"`
	EnterpriseName   string       `json:"enterprise_name"`
	EnterpriseType   string       `json:"enterprise_type"`
	SubscriptionTier string       `json:"subscription_tier,omitempty"`
	AgencySeatID     string       `json:"agency_seat_id,omitempty"`
	AgencySeatName   string       `json:"agency_seat_name,omitempty"`
	AgencySeatSlug   string       `json:"agency_seat_slug,omitempty"`
	Role             string       `json:"role"`
	Permissions      []Permission `json:"permissions"`
	IsDefault        bool         `json:"is_default"`
	IsActive         bool         `json:"is_active"`
	LastAccessed     time.Time    `json:"last_accessed"`
}

func (c EnterpriseContext) ContextID() string    { return c.ID }
func (c EnterpriseContext) Owner() string        { return c.UserID }
func (c EnterpriseContext) ContextRole() string  { return c.Role }
func (c EnterpriseContext) Grants() []Permission { return c.Permissions }
func (c EnterpriseContext) Tenant() string       { return c.EnterpriseID }

func (c EnterpriseContext) Kind() ContextKind {
	if c.AgencySeatID != "" {
		return KindAgencySeat
	}
	return KindEnterprise
}

// PartnerContext binds a user into a partner relationship: the user acts from
// the partner enterprise on behalf of the client enterprise. Only
// constructible while an active relationship edge exists between the two.
type PartnerContext struct {
	ID                    string             `json:"context_id"`
	UserID                string             `json:"user_id"`
	PartnerEnterpriseID   string             `json:"partner_enterprise_id"`
	PartnerEnterpriseName string             `json:"partner_enterprise_name"`
	ClientEnterpriseID    string             `json:"client_enterprise_id"`
	ClientEnterpriseName  string             `json:"client_enterprise_name"`
	SubscriptionTier      string             `json:"subscription_tier,omitempty"`
	Role                  string             `json:"role"`
	Permissions           []Permission       `json:"permissions"`
	IsDefault             bool               `json:"is_default"`
	IsActive              bool               `json:"is_active"`
	LastAccessed          time.Time          `json:"last_accessed"`
	RelationshipStatus    RelationshipStatus `json:"relationship_status"`
	ComplianceScore       float64            `json:"compliance_score"`
}

func (c PartnerContext) ContextID() string    { return c.ID }
func (c PartnerContext) Owner() string        { return c.UserID }
func (c PartnerContext) Kind() ContextKind    { return KindPartner }
func (c PartnerContext) ContextRole() string  { return c.Role }
func (c PartnerContext) Grants() []Permission { return c.Permissions }

// Tenant reports the client enterprise: partner work is metered against the
// client it is performed for.
func (c PartnerContext) Tenant() string { return c.ClientEnterpriseID }

// Switchable reports whether the context can currently be switched into.
// A partner context with a lapsed relationship stays listed but is not
// actionable.
func (c PartnerContext) Switchable() bool {
	return c.IsActive && c.RelationshipStatus == RelationshipActive
}

// ContextList is the grouped view returned to callers of ListContexts.
type ContextList struct {
	EnterpriseContexts []EnterpriseContext `json:"enterprise_contexts"`
	PartnerContexts    []PartnerContext    `json:"partner_contexts"`
	HasMultiple        bool                `json:"has_multiple"`
}
