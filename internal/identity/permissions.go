package identity

import (
	"context"
	"sync"
)

// PermissionResolver decides whether a claim set authorizes a
// (resource, action, optional resource id) triple. Role grants are reference
// data cached per role without TTL; the cache is an explicitly owned object
// with an Invalidate hook called whenever the role-permission table changes.
type PermissionResolver struct {
	source RolePermissionStore

	mu     sync.RWMutex
	byRole map[string][]Permission
}

func NewPermissionResolver(source RolePermissionStore) *PermissionResolver {
	return &PermissionResolver{
		source: source,
		byRole: make(map[string][]Permission),
	}
}

// Check reports whether claims authorize action on resource. A false return
// means "not permitted" and is not an error; the error return is reserved for
// infrastructure faults loading role grants.
func (r *PermissionResolver) Check(ctx context.Context, claims *Claims, resource, action, resourceID string) (bool, error) {
	if claims == nil {
		return false, nil
	}

	// The platform super admin is granted everything, unconditionally.
	if claims.Role == RoleSuperAdmin {
		return true, nil
	}

	// Explicit permissions embedded in the token win over role grants.
	for _, p := range claims.Permissions {
		if p.Resource != resource || p.Action != action {
			continue
		}
		if p.ResourceID == "" || p.ResourceID == resourceID {
			return true, nil
		}
	}

	granted, err := r.roleGrants(ctx, claims.Role)
	if err != nil {
		return false, err
	}
	for _, p := range granted {
		if p.Resource == resource && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func (r *PermissionResolver) roleGrants(ctx context.Context, role string) ([]Permission, error) {
	r.mu.RLock()
	perms, ok := r.byRole[role]
	r.mu.RUnlock()
	if ok {
		return perms, nil
	}

	perms, err := r.source.ForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byRole[role] = perms
	r.mu.Unlock()
	return perms, nil
}

// Invalidate drops the cached grants for role, or for every role when role
// is empty. Call it after any role-permission table mutation.
func (r *PermissionResolver) Invalidate(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role == "" {
		r.byRole = make(map[string][]Permission)
		return
	}
	delete(r.byRole, role)
}
