package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dentflow/dentflow/pkg/audit"
)

// Invalidator propagates cache invalidations beyond this process. The
// Broadcaster satisfies it; single-instance deployments run without one.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
	InvalidateAll(ctx context.Context) error
}

// Manager is the admin mutation API over the grant relations. Every
// mutation follows the same shape: resolve names to IDs, write through the
// store, invalidate the local cache, broadcast the invalidation, record an
// audit event. Cache and audit failures never fail a mutation that already
// committed.
type Manager struct {
	store     *Store
	resolver  *Resolver
	broadcast Invalidator
	audit     audit.Logger
	log       *slog.Logger
}

// NewManager creates a manager. broadcast may be nil when no cross-instance
// propagation is configured; auditLog may be nil to disable auditing.
func NewManager(store *Store, resolver *Resolver, broadcast Invalidator, auditLog audit.Logger, log *slog.Logger) *Manager {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:     store,
		resolver:  resolver,
		broadcast: broadcast,
		audit:     auditLog,
		log:       log,
	}
}

// AssignRole grants a role to a user. Assigning a role the user already
// holds returns ErrDuplicateGrant; an unknown role name returns ErrNotFound.
func (m *Manager) AssignRole(ctx context.Context, userID int64, roleName string, assignedBy int64) (*UserRoleGrant, error) {
	role, err := m.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}

	grant := &UserRoleGrant{UserID: userID, RoleID: role.ID, AssignedBy: assignedBy}
	if err := m.store.InsertUserRole(ctx, grant); err != nil {
		return nil, err
	}

	m.invalidate(ctx, userID)
	m.audit.Record(ctx, audit.Event{
		Action:       audit.ActionRoleAssigned,
		ActorID:      assignedBy,
		TargetUserID: userID,
		Subject:      roleName,
	})
	return grant, nil
}

// RemoveRole revokes a role from a user. Removing a role the user does not
// hold returns ErrNotFound; the store delete is the authority, so two
// concurrent removals resolve with exactly one winner.
func (m *Manager) RemoveRole(ctx context.Context, userID int64, roleName string, removedBy int64) error {
	role, err := m.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	deleted, err := m.store.DeleteUserRole(ctx, userID, role.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("user %d does not hold role %q: %w", userID, roleName, ErrNotFound)
	}

	m.invalidate(ctx, userID)
	m.audit.Record(ctx, audit.Event{
		Action:       audit.ActionRoleRemoved,
		ActorID:      removedBy,
		TargetUserID: userID,
		Subject:      roleName,
	})
	return nil
}

// GrantPermission grants a direct permission to a user, independent of any
// role. Duplicates return ErrDuplicateGrant.
func (m *Manager) GrantPermission(ctx context.Context, userID int64, permissionName string, grantedBy int64) (*UserPermissionGrant, error) {
	perm, err := m.store.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return nil, err
	}

	grant := &UserPermissionGrant{UserID: userID, PermissionID: perm.ID, AssignedBy: grantedBy}
	if err := m.store.InsertUserPermission(ctx, grant); err != nil {
		return nil, err
	}

	m.invalidate(ctx, userID)
	m.audit.Record(ctx, audit.Event{
		Action:       audit.ActionPermissionGranted,
		ActorID:      grantedBy,
		TargetUserID: userID,
		Subject:      permissionName,
	})
	return grant, nil
}

// RevokePermission removes a direct permission grant. Revoking a grant that
// does not exist returns ErrNotFound. Revocation never touches role-derived
// permissions: a user may still hold the permission through a role after a
// successful revoke.
func (m *Manager) RevokePermission(ctx context.Context, userID int64, permissionName string, revokedBy int64) error {
	perm, err := m.store.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return err
	}

	deleted, err := m.store.DeleteUserPermission(ctx, userID, perm.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("user %d has no direct grant of %q: %w", userID, permissionName, ErrNotFound)
	}

	m.invalidate(ctx, userID)
	m.audit.Record(ctx, audit.Event{
		Action:       audit.ActionPermissionRevoked,
		ActorID:      revokedBy,
		TargetUserID: userID,
		Subject:      permissionName,
	})
	return nil
}

// BulkAssignRoles replaces the user's entire role set atomically. Every
// role name is resolved before any write, so one unknown name fails the
// whole call with ErrNotFound and the existing set is untouched. An empty
// roleNames slice strips the user of all roles.
func (m *Manager) BulkAssignRoles(ctx context.Context, userID int64, roleNames []string, assignedBy int64) error {
	roleIDs := make([]int64, 0, len(roleNames))
	for _, name := range roleNames {
		role, err := m.store.GetRoleByName(ctx, name)
		if err != nil {
			return err
		}
		roleIDs = append(roleIDs, role.ID)
	}

	if err := m.store.ReplaceUserRoles(ctx, userID, roleIDs, assignedBy); err != nil {
		return err
	}

	m.invalidate(ctx, userID)
	m.audit.Record(ctx, audit.Event{
		Action:       audit.ActionRolesReplaced,
		ActorID:      assignedBy,
		TargetUserID: userID,
		Detail:       fmt.Sprintf("roles=%v", roleNames),
	})
	return nil
}

// ListUsers returns a summary row per user holding any grant. Two batched
// queries total, regardless of user count.
func (m *Manager) ListUsers(ctx context.Context) ([]UserSummary, error) {
	return m.store.ListUserAccess(ctx)
}

// GetUserDetails returns the expanded admin view for one user. Roles and
// direct grants come straight from the store; the effective set goes through
// the resolver so it reflects what guards will actually see.
func (m *Manager) GetUserDetails(ctx context.Context, userID int64) (*UserDetails, error) {
	roles, err := m.store.RolesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	direct, err := m.store.DirectPermissionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	effective, err := m.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	details := &UserDetails{
		UserID:               userID,
		Roles:                roles,
		DirectPermissions:    direct,
		EffectivePermissions: effective,
	}
	for _, role := range roles {
		if IsPrivilegedRole(role.Name) {
			details.IsAdmin = true
			break
		}
	}
	return details, nil
}

// ListRoles exposes the role catalog rows for admin UIs.
func (m *Manager) ListRoles(ctx context.Context) ([]Role, error) {
	return m.store.ListRoles(ctx)
}

// ListPermissions exposes the permission catalog rows for admin UIs.
func (m *Manager) ListPermissions(ctx context.Context) ([]Permission, error) {
	return m.store.ListPermissions(ctx)
}

// invalidate drops the local cache entry and broadcasts. The mutation has
// already committed when this runs, so failures are logged, not returned.
func (m *Manager) invalidate(ctx context.Context, userID int64) {
	m.resolver.Invalidate(userID)
	if m.broadcast == nil {
		return
	}
	if err := m.broadcast.Invalidate(ctx, userID); err != nil {
		m.log.Error("failed to broadcast cache invalidation", "user_id", userID, "error", err)
	}
}
