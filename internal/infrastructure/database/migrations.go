package database

import (
	"context"
	"fmt"
)

// migration is a single versioned schema change.
type migration struct {
	version string
	name    string
	sql     string
}

// migrations is the ordered list of schema changes, oldest first.
// Versions follow the YYYYMMDD_HHMMSS convention.
var migrations = []migration{
	{
		version: "20260512_100000",
		name:    "bridge_credentials",
		sql: `CREATE TABLE IF NOT EXISTS bridge_credentials (
	bridge_address TEXT PRIMARY KEY,
	credential     TEXT NOT NULL,
	paired_at      TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);`,
	},
}

// Migrate applies all pending migrations to the database.
// Migrations are applied in version order, each in its own transaction,
// so a failure leaves earlier migrations committed and later ones
// unattempted. Re-running Migrate after fixing the issue continues from
// the failed migration.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.version, m.name, err)
		}
	}

	return nil
}

// createMigrationsTable creates the schema_migrations tracking table.
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);`)
	return err
}

// appliedMigrations returns the set of already-applied migration versions.
func (db *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applyMigration runs a single migration inside a transaction and records it.
func (db *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return err
	}

	return tx.Commit()
}
