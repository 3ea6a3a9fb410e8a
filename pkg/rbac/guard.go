package rbac

import (
	"context"
)

// Guard answers authorization questions against a resolver. Boolean
// predicates report (allowed, error); the Require variants collapse a denial
// into a ForbiddenError so call sites can return a single error. All guards
// fail closed: a resolution error never grants access.
type Guard struct {
	resolver *Resolver
	metrics  Metrics
}

// NewGuard creates a guard over the resolver.
func NewGuard(resolver *Resolver) *Guard {
	return &Guard{resolver: resolver, metrics: nopMetrics{}}
}

// SetMetrics installs a metrics sink. Safe to call before serving only.
func (g *Guard) SetMetrics(m Metrics) {
	if m != nil {
		g.metrics = m
	}
}

// HasPermission reports whether the user's effective set contains the named
// permission. Role-derived and direct grants are indistinguishable here.
func (g *Guard) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	perms, err := g.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := contains(perms, permission)
	g.metrics.CheckObserved("permission", allowed)
	return allowed, nil
}

// HasRole reports whether the user holds the named role. Role checks never
// consult permissions: a user granted every permission a role confers still
// does not hold the role.
func (g *Guard) HasRole(ctx context.Context, userID int64, role string) (bool, error) {
	roles, err := g.resolver.RoleNames(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := contains(roles, role)
	g.metrics.CheckObserved("role", allowed)
	return allowed, nil
}

// HasAnyPermission reports whether the user holds at least one of the named
// permissions. An empty requirement list is vacuously false.
func (g *Guard) HasAnyPermission(ctx context.Context, userID int64, permissions ...string) (bool, error) {
	if len(permissions) == 0 {
		return false, nil
	}
	perms, err := g.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, want := range permissions {
		if contains(perms, want) {
			g.metrics.CheckObserved("permission", true)
			return true, nil
		}
	}
	g.metrics.CheckObserved("permission", false)
	return false, nil
}

// HasAllPermissions reports whether the user holds every named permission.
// An empty requirement list is vacuously true.
func (g *Guard) HasAllPermissions(ctx context.Context, userID int64, permissions ...string) (bool, error) {
	perms, err := g.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, want := range permissions {
		if !contains(perms, want) {
			g.metrics.CheckObserved("permission", false)
			return false, nil
		}
	}
	g.metrics.CheckObserved("permission", true)
	return true, nil
}

// IsAdmin reports whether the user holds a privileged role.
func (g *Guard) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	allowed, err := g.resolver.IsAdmin(ctx, userID)
	if err != nil {
		return false, err
	}
	g.metrics.CheckObserved("admin", allowed)
	return allowed, nil
}

// RequirePermission returns nil when the user holds the permission, a
// ForbiddenError naming it otherwise.
func (g *Guard) RequirePermission(ctx context.Context, userID int64, permission string) error {
	allowed, err := g.HasPermission(ctx, userID, permission)
	if err != nil {
		return err
	}
	if !allowed {
		return missingPermission(permission)
	}
	return nil
}

// RequireRole returns nil when the user holds the role, a ForbiddenError
// naming it otherwise.
func (g *Guard) RequireRole(ctx context.Context, userID int64, role string) error {
	allowed, err := g.HasRole(ctx, userID, role)
	if err != nil {
		return err
	}
	if !allowed {
		return missingRole(role)
	}
	return nil
}

// RequireAnyPermission returns nil when the user holds at least one of the
// permissions, a ForbiddenError naming the first requirement otherwise.
func (g *Guard) RequireAnyPermission(ctx context.Context, userID int64, permissions ...string) error {
	allowed, err := g.HasAnyPermission(ctx, userID, permissions...)
	if err != nil {
		return err
	}
	if !allowed {
		requirement := ""
		if len(permissions) > 0 {
			requirement = permissions[0]
		}
		return missingPermission(requirement)
	}
	return nil
}

// RequireAdmin returns nil when the user holds a privileged role.
func (g *Guard) RequireAdmin(ctx context.Context, userID int64) error {
	allowed, err := g.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return missingRole(RoleAdmin)
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
