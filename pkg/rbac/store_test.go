package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database with the authorization
// schema. SQLite accepts the $N placeholders the store uses, so the same
// queries run against both engines.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE role_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			UNIQUE(role_id, permission_id)
		)`,
		`CREATE TABLE user_roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			assigned_by INTEGER NOT NULL,
			assigned_at TIMESTAMP NOT NULL,
			UNIQUE(user_id, role_id)
		)`,
		`CREATE TABLE user_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			assigned_by INTEGER NOT NULL,
			assigned_at TIMESTAMP NOT NULL,
			UNIQUE(user_id, permission_id)
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

// setupSeededStore returns a store with the full catalog seeded.
func setupSeededStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore(setupTestDB(t))
	require.NoError(t, SeedCatalog(context.Background(), store, nil))
	return store
}

func TestCreateAndGetRole(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	role := &Role{Name: "estimator", Description: "writes damage estimates"}
	require.NoError(t, store.CreateRole(ctx, role))
	assert.NotZero(t, role.ID)

	byID, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "estimator", byID.Name)

	byName, err := store.GetRoleByName(ctx, "estimator")
	require.NoError(t, err)
	assert.Equal(t, role.ID, byName.ID)
}

func TestGetRoleNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	_, err := store.GetRole(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetRoleByName(ctx, "no_such_role")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	// A second run must not duplicate anything.
	require.NoError(t, SeedCatalog(ctx, store, nil))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, len(RoleCatalog()))

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(PermissionCatalog()))
}

func TestSeedCatalogRestoresMissingEdges(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	role, err := store.GetRoleByName(ctx, RoleSales)
	require.NoError(t, err)
	perm, err := store.GetPermissionByName(ctx, PermExportData)
	require.NoError(t, err)

	deleted, err := store.RemoveRolePermission(ctx, role.ID, perm.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	require.NoError(t, SeedCatalog(ctx, store, nil))

	names, err := store.RolePermissionNames(ctx, role.ID)
	require.NoError(t, err)
	assert.Contains(t, names, PermExportData)
}

func TestInsertUserRoleDuplicate(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	role, err := store.GetRoleByName(ctx, RoleSales)
	require.NoError(t, err)

	grant := &UserRoleGrant{UserID: 42, RoleID: role.ID, AssignedBy: 1}
	require.NoError(t, store.InsertUserRole(ctx, grant))
	assert.NotZero(t, grant.ID)

	dup := &UserRoleGrant{UserID: 42, RoleID: role.ID, AssignedBy: 1}
	err = store.InsertUserRole(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateGrant)
}

func TestDeleteUserRoleReportsAbsence(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	role, err := store.GetRoleByName(ctx, RoleSupport)
	require.NoError(t, err)

	deleted, err := store.DeleteUserRole(ctx, 42, role.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, store.InsertUserRole(ctx, &UserRoleGrant{UserID: 42, RoleID: role.ID, AssignedBy: 1}))
	deleted, err = store.DeleteUserRole(ctx, 42, role.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestInsertUserPermissionDuplicate(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	perm, err := store.GetPermissionByName(ctx, PermSendSMS)
	require.NoError(t, err)

	require.NoError(t, store.InsertUserPermission(ctx, &UserPermissionGrant{UserID: 7, PermissionID: perm.ID, AssignedBy: 1}))
	err = store.InsertUserPermission(ctx, &UserPermissionGrant{UserID: 7, PermissionID: perm.ID, AssignedBy: 1})
	assert.ErrorIs(t, err, ErrDuplicateGrant)
}

func TestPermissionsByRoleIDsBatches(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	sales, err := store.GetRoleByName(ctx, RoleSales)
	require.NoError(t, err)
	support, err := store.GetRoleByName(ctx, RoleSupport)
	require.NoError(t, err)

	perms, err := store.PermissionsByRoleIDs(ctx, []int64{sales.ID, support.ID})
	require.NoError(t, err)

	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	// Union of the two default sets, deduplicated.
	assert.ElementsMatch(t, []string{
		PermViewFinancialData, PermExportData, PermViewAnalytics,
		PermViewLeads, PermViewCalendar,
	}, names)
}

func TestPermissionsByRoleIDsRejectsEmptySet(t *testing.T) {
	store := setupSeededStore(t)

	_, err := store.PermissionsByRoleIDs(context.Background(), nil)
	assert.Error(t, err)
}

func TestReplaceUserRoles(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	sales, _ := store.GetRoleByName(ctx, RoleSales)
	manager, _ := store.GetRoleByName(ctx, RoleManager)
	support, _ := store.GetRoleByName(ctx, RoleSupport)

	require.NoError(t, store.InsertUserRole(ctx, &UserRoleGrant{UserID: 42, RoleID: sales.ID, AssignedBy: 1}))

	require.NoError(t, store.ReplaceUserRoles(ctx, 42, []int64{manager.ID, support.ID}, 1))

	roles, err := store.RolesByUser(ctx, 42)
	require.NoError(t, err)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{RoleManager, RoleSupport}, names)
}

func TestReplaceUserRolesWithEmptySetClearsAll(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	sales, _ := store.GetRoleByName(ctx, RoleSales)
	require.NoError(t, store.InsertUserRole(ctx, &UserRoleGrant{UserID: 42, RoleID: sales.ID, AssignedBy: 1}))

	require.NoError(t, store.ReplaceUserRoles(ctx, 42, nil, 1))

	roles, err := store.RolesByUser(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestReplaceUserRolesRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM user_roles").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_roles").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = store.ReplaceUserRoles(context.Background(), 42, []int64{5}, 1)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUserAccess(t *testing.T) {
	store := setupSeededStore(t)
	ctx := context.Background()

	sales, _ := store.GetRoleByName(ctx, RoleSales)
	support, _ := store.GetRoleByName(ctx, RoleSupport)
	sms, _ := store.GetPermissionByName(ctx, PermSendSMS)

	require.NoError(t, store.InsertUserRole(ctx, &UserRoleGrant{UserID: 1, RoleID: sales.ID, AssignedBy: 1}))
	require.NoError(t, store.InsertUserRole(ctx, &UserRoleGrant{UserID: 1, RoleID: support.ID, AssignedBy: 1}))
	require.NoError(t, store.InsertUserRole(ctx, &UserRoleGrant{UserID: 2, RoleID: support.ID, AssignedBy: 1}))
	require.NoError(t, store.InsertUserPermission(ctx, &UserPermissionGrant{UserID: 2, PermissionID: sms.ID, AssignedBy: 1}))
	// User 3 has a direct grant only, no role.
	require.NoError(t, store.InsertUserPermission(ctx, &UserPermissionGrant{UserID: 3, PermissionID: sms.ID, AssignedBy: 1}))

	summaries, err := store.ListUserAccess(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	assert.Equal(t, int64(1), summaries[0].UserID)
	assert.ElementsMatch(t, []string{RoleSales, RoleSupport}, summaries[0].Roles)
	assert.Zero(t, summaries[0].DirectPermissions)

	assert.Equal(t, int64(2), summaries[1].UserID)
	assert.Equal(t, 1, summaries[1].DirectPermissions)

	assert.Equal(t, int64(3), summaries[2].UserID)
	assert.Empty(t, summaries[2].Roles)
	assert.Equal(t, 1, summaries[2].DirectPermissions)
}
