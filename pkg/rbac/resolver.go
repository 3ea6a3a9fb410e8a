package rbac

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Metrics receives cache and check outcomes from the resolver and guards.
// The zero implementation discards everything; pkg/observability provides a
// prometheus-backed one.
type Metrics interface {
	CacheHit(kind string)
	CacheMiss(kind string)
	CheckObserved(kind string, allowed bool)
	InvalidationObserved(origin string)
}

type nopMetrics struct{}

func (nopMetrics) CacheHit(string)             {}
func (nopMetrics) CacheMiss(string)            {}
func (nopMetrics) CheckObserved(string, bool)  {}
func (nopMetrics) InvalidationObserved(string) {}

// Resolver computes a user's role names and effective permission set. Every
// read goes through the AccessCache; a miss hits the store and back-fills
// the cache for the TTL window. Denials can therefore be stale for up to the
// TTL after a grant, and allows stale for up to the TTL after a revoke,
// unless the mutating path invalidates (the Manager always does).
type Resolver struct {
	store   *Store
	cache   *AccessCache
	metrics Metrics
}

// NewResolver creates a resolver over the given store and cache.
func NewResolver(store *Store, cache *AccessCache) *Resolver {
	return &Resolver{store: store, cache: cache, metrics: nopMetrics{}}
}

// SetMetrics installs a metrics sink. Safe to call before serving only.
func (r *Resolver) SetMetrics(m Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// RoleNames returns the user's role names, sorted. Served from cache when
// fresh.
func (r *Resolver) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	if names, ok := r.cache.Roles(userID); ok {
		r.metrics.CacheHit("roles")
		return names, nil
	}
	r.metrics.CacheMiss("roles")

	roles, err := r.store.RolesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	sort.Strings(names)
	r.cache.SetRoles(userID, names)
	return names, nil
}

// EffectivePermissions returns the deduplicated union of role-derived and
// directly granted permission names, sorted. A user with no roles and no
// direct grants gets an empty set, not an error.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if names, ok := r.cache.Permissions(userID); ok {
		r.metrics.CacheHit("permissions")
		return names, nil
	}
	r.metrics.CacheMiss("permissions")

	roles, err := r.store.RolesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles: %w", err)
	}

	seen := make(map[string]struct{})
	if len(roles) > 0 {
		roleIDs := make([]int64, 0, len(roles))
		for _, role := range roles {
			roleIDs = append(roleIDs, role.ID)
		}
		rolePerms, err := r.store.PermissionsByRoleIDs(ctx, roleIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role permissions: %w", err)
		}
		for _, perm := range rolePerms {
			seen[perm.Name] = struct{}{}
		}
	}

	direct, err := r.store.DirectPermissionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve direct permissions: %w", err)
	}
	for _, perm := range direct {
		seen[perm.Name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	r.cache.SetPermissions(userID, names)
	return names, nil
}

// IsAdmin reports whether the user holds any privileged role. This is a
// role-set membership check only; no permission grant can confer admin.
func (r *Resolver) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	names, err := r.RoleNames(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if IsPrivilegedRole(name) {
			return true, nil
		}
	}
	return false, nil
}

// Summary aggregates roles, effective permissions and admin status in one
// call. The two resolutions run concurrently; either error cancels both.
func (r *Resolver) Summary(ctx context.Context, userID int64) (*AccessSummary, error) {
	var roles, perms []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = r.RoleNames(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		perms, err = r.EffectivePermissions(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &AccessSummary{
		UserID:      userID,
		Roles:       roles,
		Permissions: perms,
	}
	for _, name := range roles {
		if IsPrivilegedRole(name) {
			summary.IsAdmin = true
			break
		}
	}
	return summary, nil
}

// Invalidate drops the user's cached role and permission lists.
func (r *Resolver) Invalidate(userID int64) {
	r.cache.Invalidate(userID)
	r.metrics.InvalidationObserved("local")
}

// InvalidateAll drops every cached entry.
func (r *Resolver) InvalidateAll() {
	r.cache.InvalidateAll()
	r.metrics.InvalidationObserved("local")
}
