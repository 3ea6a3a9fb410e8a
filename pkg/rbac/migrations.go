package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// Migration represents one schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the authorization schema in order. The unique
// constraints on the grant tables are load-bearing: duplicate-grant
// detection relies on them, not on application-level checks.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(64) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(64) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					UNIQUE(role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_role_id ON role_permissions(role_id);
			`,
		},
		{
			Version:     4,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					assigned_by BIGINT NOT NULL,
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_user_id ON user_roles(user_id);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create user_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					assigned_by BIGINT NOT NULL,
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_permissions_user_id ON user_permissions(user_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own
// transaction, tracked in authz_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log.Info("running migration", "version", migration.Version, "description", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

// SeedCatalog reconciles the store against the compiled-in catalog: missing
// roles and permissions are created, and every role gets its default
// permission edges. Edges an admin added beyond the defaults are left
// alone, so re-running is safe. Callers with a live cache should go through
// ReconcileCatalog instead, which purges after seeding.
func SeedCatalog(ctx context.Context, store *Store, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	permIDs := make(map[string]int64)
	for _, def := range PermissionCatalog() {
		perm, err := store.GetPermissionByName(ctx, def.Name)
		if errors.Is(err, ErrNotFound) {
			perm = &Permission{Name: def.Name, Description: def.Description, Category: def.Category}
			if err := store.CreatePermission(ctx, perm); err != nil {
				return fmt.Errorf("failed to seed permission %q: %w", def.Name, err)
			}
			log.Info("created permission", "name", def.Name)
		} else if err != nil {
			return err
		}
		permIDs[def.Name] = perm.ID
	}

	for _, def := range RoleCatalog() {
		role, err := store.GetRoleByName(ctx, def.Name)
		if errors.Is(err, ErrNotFound) {
			role = &Role{Name: def.Name, Description: def.Description}
			if err := store.CreateRole(ctx, role); err != nil {
				return fmt.Errorf("failed to seed role %q: %w", def.Name, err)
			}
			log.Info("created role", "name", def.Name)
		} else if err != nil {
			return err
		}

		existing, err := store.RolePermissionNames(ctx, role.ID)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, name := range existing {
			have[name] = true
		}

		for _, permName := range def.Permissions {
			if have[permName] {
				continue
			}
			permID, ok := permIDs[permName]
			if !ok {
				return fmt.Errorf("role %q references unknown permission %q", def.Name, permName)
			}
			if err := store.AddRolePermission(ctx, role.ID, permID); err != nil && !errors.Is(err, ErrDuplicateGrant) {
				return fmt.Errorf("failed to link %q to %q: %w", permName, def.Name, err)
			}
		}
	}
	return nil
}

// ReconcileCatalog re-runs SeedCatalog and then purges every cached access
// list, locally and, when a broadcaster is configured, on peer instances.
// A restored role edge changes the effective set of every holder of that
// role, so per-user invalidation cannot cover it. broadcast may be nil; a
// failed broadcast is logged, not returned, since the edges are already
// committed and peer caches self-heal at TTL expiry.
func ReconcileCatalog(ctx context.Context, store *Store, resolver *Resolver, broadcast Invalidator, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	if err := SeedCatalog(ctx, store, log); err != nil {
		return err
	}

	resolver.InvalidateAll()
	if broadcast != nil {
		if err := broadcast.InvalidateAll(ctx); err != nil {
			log.Error("failed to broadcast cache invalidation after reconciliation", "error", err)
		}
	}
	return nil
}
