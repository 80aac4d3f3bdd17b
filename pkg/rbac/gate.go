package rbac

import (
	"context"
)

// Requirement is what a gate demands of the caller
type Requirement struct {
	roles []Role
	perms []Permission
	any   bool
}

// AnyRole passes when the caller holds at least one of roles
func AnyRole(roles ...Role) Requirement {
	return Requirement{roles: roles}
}

// AllPermissions passes when the caller's roles grant every one of perms
func AllPermissions(perms ...Permission) Requirement {
	return Requirement{perms: perms}
}

// AnyPermission passes when the caller's roles grant at least one of perms
func AnyPermission(perms ...Permission) Requirement {
	return Requirement{perms: perms, any: true}
}

// Grant is handed to an operation that passed its gate
type Grant struct {
	Identity    Identity
	Roles       []Role
	Permissions PermissionSet
}

// IsAdmin reports whether the grant carries the admin role
func (g *Grant) IsAdmin() bool {
	return HasRole(g.Roles, RoleAdmin)
}

// Authorize resolves the caller for rc and checks req against it
func (r *Resolver) Authorize(ctx context.Context, rc *RequestContext, req Requirement) (*Grant, error) {
	id, err := r.resolveForGate(ctx, rc)
	if err != nil {
		return nil, err
	}

	roles := id.ValidRoles()
	if len(roles) == 0 {
		return nil, noValidRoles()
	}

	grant := &Grant{
		Identity:    id,
		Roles:       roles,
		Permissions: PermissionsForRoles(roles),
	}

	if len(req.roles) > 0 {
		for _, want := range req.roles {
			if HasRole(roles, want) {
				return grant, nil
			}
		}
		return nil, roleDenied(req.roles, roles)
	}

	if req.any {
		for _, p := range req.perms {
			if grant.Permissions.Has(p) {
				return grant, nil
			}
		}
		if len(req.perms) > 0 {
			return nil, missingPermissions(req.perms)
		}
		return grant, nil
	}

	var missing []Permission
	for _, p := range req.perms {
		if !grant.Permissions.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, missingPermissions(missing)
	}
	return grant, nil
}

// Operation is a function that runs once its gate has passed
type Operation[T any] func(ctx context.Context, grant *Grant) (T, error)

// Guard wraps op so that it only runs for callers meeting req
func Guard[T any](r *Resolver, req Requirement, op Operation[T]) func(ctx context.Context, rc *RequestContext) (T, error) {
	return func(ctx context.Context, rc *RequestContext) (T, error) {
		grant, err := r.Authorize(ctx, rc, req)
		if err != nil {
			var zero T
			return zero, err
		}
		return op(ctx, grant)
	}
}
