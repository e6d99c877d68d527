package identity

import "context"

// Store describes the persistence operations required by the identity core.
// The relational schema behind it is owned elsewhere; the core only defines
// these query contracts.
type Store interface {
	Users() UserStore
	Enterprises() EnterpriseStore
	Seats() SeatStore
	Contexts() ContextStore
	Relationships() RelationshipStore
	RolePermissions() RolePermissionStore
	Audit() AuditStore
}

// UserStore manages platform identities.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Deactivate soft-deletes the user; rows are never removed.
	Deactivate(ctx context.Context, id string) error
}

// EnterpriseStore manages tenant roots.
type EnterpriseStore interface {
	// Create inserts the enterprise and, in the same transaction, an
	// enterprise_owner default context for ownerUserID. Partial state is
	// never observable.
	Create(ctx context.Context, e *Enterprise, ownerUserID string) error
	Find(ctx context.Context, id string) (*Enterprise, error)
	Tier(ctx context.Context, id string) (string, error)
}

// SeatStore manages agency seats.
type SeatStore interface {
	// Create inserts the seat and a seat_admin context for adminUserID in one
	// transaction.
	Create(ctx context.Context, s *AgencySeat, adminUserID string) error
	ListByEnterprise(ctx context.Context, enterpriseID string) ([]AgencySeat, error)
}

// ContextStore manages both context kinds. Resolve returns the tagged
// variant in a single call so switch/validate paths never race a two-step
// lookup.
type ContextStore interface {
	// Resolve finds contextID among the user's contexts of either kind.
	// Inactive or foreign rows resolve to ErrNotFound.
	Resolve(ctx context.Context, userID, contextID string) (Context, error)
	ListEnterprise(ctx context.Context, userID string) ([]EnterpriseContext, error)
	ListPartner(ctx context.Context, userID string) ([]PartnerContext, error)
	// ListPartnerForEnterprise narrows ListPartner to one partner enterprise.
	ListPartnerForEnterprise(ctx context.Context, userID, partnerEnterpriseID string) ([]PartnerContext, error)
	// Default returns the user's is_default enterprise context, or ErrNotFound.
	Default(ctx context.Context, userID string) (*EnterpriseContext, error)
	// TouchLastAccessed updates last_accessed on the row; callers treat
	// failures as best-effort.
	TouchLastAccessed(ctx context.Context, kind ContextKind, contextID string) error
	// HasActiveEnterpriseContext reports whether the user holds any active
	// context inside the enterprise.
	HasActiveEnterpriseContext(ctx context.Context, userID, enterpriseID string) (bool, error)
	// CreatePartner inserts the partner context after re-checking, inside one
	// transaction, that an active relationship still links the two
	// enterprises. Returns ErrAccessDenied when the edge is missing or not
	// active, ErrConflict when an active binding already exists.
	CreatePartner(ctx context.Context, pc *PartnerContext) error
	// DeactivatePartner soft-deletes the binding after an ownership check in
	// the same transaction.
	DeactivatePartner(ctx context.Context, userID, contextID string) error
	CountActiveClients(ctx context.Context, userID, partnerEnterpriseID string) (int, error)
	CountActive(ctx context.Context, userID string) (int, error)
}

// RelationshipStore manages partner-enterprise edges.
type RelationshipStore interface {
	// Create inserts the edge; ErrConflict when the ordered pair already has
	// a row, ErrInvalidInput when partner equals client.
	Create(ctx context.Context, rel *PartnerRelationship) error
	Find(ctx context.Context, partnerEnterpriseID, clientEnterpriseID string) (*PartnerRelationship, error)
	UpdateStatus(ctx context.Context, id string, status RelationshipStatus) error
	ListByPartner(ctx context.Context, partnerEnterpriseID string) ([]PartnerRelationship, error)
	ListByClient(ctx context.Context, clientEnterpriseID string) ([]PartnerRelationship, error)
}

// RolePermissionStore reads the rarely-mutated role grant reference data.
type RolePermissionStore interface {
	ForRole(ctx context.Context, role string) ([]Permission, error)
}

// AuditStore appends and reads the immutable context audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	// ListByUser returns entries ordered by timestamp ascending.
	ListByUser(ctx context.Context, userID string, limit int) ([]AuditEntry, error)
	ListByContext(ctx context.Context, contextID string, limit int) ([]AuditEntry, error)
}
