package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Store handles persistence for the five authorization relations. All
// uniqueness rules are enforced by database constraints, not application
// logic; see migrations.go.
type Store struct {
	db *sql.DB
}

// NewStore creates a new authorization store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole inserts a role and populates its ID.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, role.Name, role.Description, now, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID.
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		WHERE id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// GetRoleByName retrieves a role by its stable name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		WHERE name = $1
	`, name).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles lists all roles ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreatePermission inserts a permission and populates its ID.
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, description, category, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, perm.Name, perm.Description, perm.Category, now).Scan(&perm.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	perm.CreatedAt = now
	return nil
}

// GetPermission retrieves a permission by ID.
func (s *Store) GetPermission(ctx context.Context, permissionID int64) (*Permission, error) {
	var perm Permission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, created_at
		FROM permissions
		WHERE id = $1
	`, permissionID).Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Category, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission %d: %w", permissionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &perm, nil
}

// GetPermissionByName retrieves a permission by its stable name.
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var perm Permission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, created_at
		FROM permissions
		WHERE name = $1
	`, name).Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Category, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &perm, nil
}

// ListPermissions lists all permissions ordered by category, then name.
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, category, created_at
		FROM permissions
		ORDER BY category ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Category, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// AddRolePermission inserts a role↔permission edge. Duplicate edges surface
// as ErrDuplicateGrant.
func (s *Store) AddRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
	`, roleID, permissionID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateGrant
		}
		return fmt.Errorf("failed to add role permission: %w", err)
	}
	return nil
}

// RemoveRolePermission deletes a role↔permission edge. Returns false when no
// edge existed.
func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to remove role permission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// RolePermissionNames returns the permission names currently attached to a
// role, sorted. Used by catalog reconciliation.
func (s *Store) RolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name ASC
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RolesByUser returns all roles a user holds, ordered by name.
func (s *Store) RolesByUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// PermissionsByRoleIDs returns the distinct permissions reachable through
// any of the given roles, in one batched query. Callers must short-circuit
// an empty roleIDs slice; an empty IN list is a programming error.
func (s *Store) PermissionsByRoleIDs(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	if len(roleIDs) == 0 {
		return nil, fmt.Errorf("rbac: PermissionsByRoleIDs called with empty role set")
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT p.id, p.name, p.description, p.category, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (%s)
		ORDER BY p.name ASC
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role-derived permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Category, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// DirectPermissionsByUser returns the user's direct permission grants,
// ordered by name.
func (s *Store) DirectPermissionsByUser(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.category, p.created_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Category, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// InsertUserRole creates a user↔role edge. The insert is attempted directly;
// a constraint violation from a concurrent duplicate surfaces as
// ErrDuplicateGrant, so there is no check-then-insert race window.
func (s *Store) InsertUserRole(ctx context.Context, grant *UserRoleGrant) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, grant.UserID, grant.RoleID, grant.AssignedBy, now).Scan(&grant.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateGrant
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	grant.AssignedAt = now
	return nil
}

// DeleteUserRole removes a user↔role edge by exact pair. Returns false when
// no edge existed.
func (s *Store) DeleteUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2
	`, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to remove role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertUserPermission creates a direct user↔permission edge. Duplicates
// surface as ErrDuplicateGrant via the unique constraint.
func (s *Store) InsertUserPermission(ctx context.Context, grant *UserPermissionGrant) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, grant.UserID, grant.PermissionID, grant.AssignedBy, now).Scan(&grant.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateGrant
		}
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	grant.AssignedAt = now
	return nil
}

// DeleteUserPermission removes a direct user↔permission edge. Returns false
// when no edge existed.
func (s *Store) DeleteUserPermission(ctx context.Context, userID, permissionID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2
	`, userID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke permission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ReplaceUserRoles atomically replaces a user's entire role set: every
// existing edge is deleted and one edge per entry in roleIDs is inserted,
// all inside one transaction. roleIDs may be empty, yielding zero roles. A
// failure at any point rolls back, so the prior set is never left partially
// deleted.
func (s *Store) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear user roles: %w", err)
	}

	now := time.Now()
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at)
			VALUES ($1, $2, $3, $4)
		`, userID, roleID, assignedBy, now); err != nil {
			tx.Rollback()
			if isUniqueViolation(err) {
				return ErrDuplicateGrant
			}
			return fmt.Errorf("failed to insert role %d: %w", roleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role replacement: %w", err)
	}
	return nil
}

// ListUserAccess returns a summary row for every user holding at least one
// grant. The computation is two batched queries regardless of the number of
// users: one for all user→role-name pairs, one for direct-permission counts.
func (s *Store) ListUserAccess(ctx context.Context) ([]UserSummary, error) {
	byUser := make(map[int64]*UserSummary)

	rows, err := s.db.QueryContext(ctx, `
		SELECT ur.user_id, r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		ORDER BY ur.user_id ASC, r.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	for rows.Next() {
		var userID int64
		var roleName string
		if err := rows.Scan(&userID, &roleName); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		summary, ok := byUser[userID]
		if !ok {
			summary = &UserSummary{UserID: userID}
			byUser[userID] = summary
		}
		summary.Roles = append(summary.Roles, roleName)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*)
		FROM user_permissions
		GROUP BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count direct permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan permission count: %w", err)
		}
		summary, ok := byUser[userID]
		if !ok {
			summary = &UserSummary{UserID: userID}
			byUser[userID] = summary
		}
		summary.DirectPermissions = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]UserSummary, 0, len(byUser))
	for _, summary := range byUser {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].UserID < summaries[j].UserID })
	return summaries, nil
}
