package rbac

import (
	"time"
)

// Role is a named bundle of permissions assignable to a user.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is an atomic capability checked by a guard. Category is a
// grouping label used by the admin UI only.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserRoleGrant is a user↔role edge. At most one live edge may exist per
// (UserID, RoleID) pair; the store enforces this with a unique constraint.
type UserRoleGrant struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedBy int64     `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

// UserPermissionGrant is a direct user↔permission edge, independent of any
// role membership. Same uniqueness rule as UserRoleGrant.
type UserPermissionGrant struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	PermissionID int64     `json:"permission_id"`
	AssignedBy   int64     `json:"assigned_by"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// RolePermissionGrant defines what a role confers. Maintained by catalog
// reconciliation rather than runtime mutation in the common path.
type RolePermissionGrant struct {
	ID           int64 `json:"id"`
	RoleID       int64 `json:"role_id"`
	PermissionID int64 `json:"permission_id"`
}

// AccessSummary aggregates a user's authorization state for admin views.
type AccessSummary struct {
	UserID      int64    `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	IsAdmin     bool     `json:"is_admin"`
}

// UserSummary is one row of the admin user listing: every user holding at
// least one grant, with role names and a direct-permission count.
type UserSummary struct {
	UserID            int64    `json:"user_id"`
	Roles             []string `json:"roles"`
	DirectPermissions int      `json:"direct_permission_count"`
}

// UserDetails is the expanded admin view for a single user.
type UserDetails struct {
	UserID               int64        `json:"user_id"`
	Roles                []Role       `json:"roles"`
	DirectPermissions    []Permission `json:"direct_permissions"`
	EffectivePermissions []string     `json:"effective_permissions"`
	IsAdmin              bool         `json:"is_admin"`
}
