package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres launches a throwaway Postgres container. Skipped when
// Docker is unavailable (local laptops without the daemon, restricted CI).
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dentflow_test"),
		tcpostgres.WithUsername("dentflow"),
		tcpostgres.WithPassword("dentflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func TestPostgresMigrationsAndConstraints(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, db, nil))
	// Re-running is a no-op.
	require.NoError(t, RunMigrations(ctx, db, nil))

	store := NewStore(db)
	require.NoError(t, SeedCatalog(ctx, store, nil))

	role, err := store.GetRoleByName(ctx, RoleSales)
	require.NoError(t, err)

	// The duplicate surfaces through the real Postgres unique-violation
	// code path, not the SQLite string match.
	require.NoError(t, store.InsertUserRole(ctx, &UserRoleGrant{UserID: 42, RoleID: role.ID, AssignedBy: 1}))
	err = store.InsertUserRole(ctx, &UserRoleGrant{UserID: 42, RoleID: role.ID, AssignedBy: 1})
	assert.ErrorIs(t, err, ErrDuplicateGrant)
}

func TestPostgresEndToEndResolution(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, db, nil))
	store := NewStore(db)
	require.NoError(t, SeedCatalog(ctx, store, nil))

	resolver := NewResolver(store, NewAccessCache(64, time.Minute))
	manager := NewManager(store, resolver, nil, nil, nil)

	_, err := manager.AssignRole(ctx, 42, RoleSales, 1)
	require.NoError(t, err)
	_, err = manager.GrantPermission(ctx, 42, PermManageLeads, 1)
	require.NoError(t, err)

	perms, err := resolver.EffectivePermissions(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{PermExportData, PermManageLeads, PermViewAnalytics, PermViewFinancialData}, perms)

	require.NoError(t, manager.BulkAssignRoles(ctx, 42, []string{RoleSupport}, 1))
	roles, err := resolver.RoleNames(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleSupport}, roles)
}
