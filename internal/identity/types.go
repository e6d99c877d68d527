package identity

import "time"

// User is a platform identity. Users are soft-deactivated, never hard-deleted.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Enterprise is a tenant root. It owns zero or more agency seats and carries
// the subscription tier that rate budgets key off.
type Enterprise struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Slug             string         `json:"slug"`
	Type             string         `json:"type"` // e.g. pharma, agency, partner
	SubscriptionTier string         `json:"subscription_tier"`
	Settings         map[string]any `json:"settings,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// AgencySeat is a named sub-division of an enterprise, such as a creative team.
type AgencySeat struct {
	ID           string         `json:"id"`
	EnterpriseID string         `json:"enterprise_id"`
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	Description  string         `json:"description,omitempty"`
	SeatType     string         `json:"seat_type"`
	Settings     map[string]any `json:"settings,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Permission is a single grant over a resource/action pair, optionally
// narrowed to one resource instance.
type Permission struct {
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	ResourceID string `json:"resource_id,omitempty"`
}

// RolePermission is reference data linking a role to a statically granted
// resource/action pair. Rarely mutated.
type RolePermission struct {
	Role     string `json:"role"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Granted  bool   `json:"granted"`
}

// RelationshipStatus is the lifecycle state of a partner-enterprise edge.
type RelationshipStatus string

const (
	RelationshipPending   RelationshipStatus = "pending"
	RelationshipActive    RelationshipStatus = "active"
	RelationshipSuspended RelationshipStatus = "suspended"
	RelationshipEnded     RelationshipStatus = "ended"
)

// PartnerRelationship is a directed edge authorizing a partner enterprise to
// act on behalf of a client enterprise. At most one row exists per ordered
// pair, and partner must differ from client.
type PartnerRelationship struct {
	ID                  string             `json:"id"`
	PartnerEnterpriseID string             `json:"partner_enterprise_id"`
	ClientEnterpriseID  string             `json:"client_enterprise_id"`
	Status              RelationshipStatus `json:"status"`
	RelationshipType    string             `json:"relationship_type"`
	ComplianceScore     float64            `json:"compliance_score"`
	RiskLevel           string             `json:"risk_level"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// AuditEntry is one immutable record in the append-only context audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ContextID    string         `json:"context_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Audit actions written by this package and internal/access.
const (
	AuditContextSwitchSuccess = "context_switch_success"
	AuditContextSwitchFailed  = "context_switch_failed"
	AuditScreenAccess         = "screen_access"
	AuditPartnerContextCreate = "partner_context_created"
	AuditPartnerContextRemove = "partner_context_removed"
	AuditEnterpriseCreate     = "enterprise_created"
	AuditSeatCreate           = "agency_seat_created"
)

// AuditRecorder accepts best-effort audit writes. Implementations must never
// block the caller or surface sink failures.
type AuditRecorder interface {
	Record(entry AuditEntry)
}

// Well-known roles.
const (
	RoleSuperAdmin      = "platform_super_admin"
	RoleEnterpriseOwner = "enterprise_owner"
	RoleEnterpriseAdmin = "enterprise_admin"
	RoleSeatAdmin       = "seat_admin"
	RolePartnerAdmin    = "partner_admin"
	RolePartnerUser     = "partner_user"
)
