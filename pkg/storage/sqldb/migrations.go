package sqldb

import (
	"context"
	"fmt"
)

// Migration is one schema step with per-dialect SQL
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// Migrations returns every schema migration in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create documents table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS documents (
					collection TEXT NOT NULL,
					id TEXT NOT NULL,
					data JSONB NOT NULL DEFAULT '{}',
					version BIGINT NOT NULL DEFAULT 1,
					created_at BIGINT NOT NULL,
					updated_at BIGINT NOT NULL,
					PRIMARY KEY (collection, id)
				);
				CREATE INDEX IF NOT EXISTS idx_documents_collection_updated ON documents(collection, updated_at);`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS documents (
					collection TEXT NOT NULL,
					id TEXT NOT NULL,
					data TEXT NOT NULL DEFAULT '{}',
					version INTEGER NOT NULL DEFAULT 1,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL,
					PRIMARY KEY (collection, id)
				);
				CREATE INDEX IF NOT EXISTS idx_documents_collection_updated ON documents(collection, updated_at);`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					label TEXT NOT NULL,
					level INTEGER NOT NULL,
					permissions JSONB NOT NULL DEFAULT '[]',
					updated_at BIGINT NOT NULL
				);`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					label TEXT NOT NULL,
					level INTEGER NOT NULL,
					permissions TEXT NOT NULL DEFAULT '[]',
					updated_at INTEGER NOT NULL
				);`,
		},
		{
			Version:     3,
			Description: "Create auth_claims table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS auth_claims (
					uid TEXT PRIMARY KEY,
					claims JSONB NOT NULL DEFAULT '{}',
					display_name TEXT NOT NULL DEFAULT '',
					updated_at BIGINT NOT NULL
				);`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS auth_claims (
					uid TEXT PRIMARY KEY,
					claims TEXT NOT NULL DEFAULT '{}',
					display_name TEXT NOT NULL DEFAULT '',
					updated_at INTEGER NOT NULL
				);`,
		},
		{
			Version:     4,
			Description: "Create audit_events table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					occurred_at BIGINT NOT NULL,
					event_type TEXT NOT NULL,
					actor_uid TEXT NOT NULL DEFAULT '',
					actor_role TEXT NOT NULL DEFAULT '',
					resource TEXT NOT NULL DEFAULT '',
					resource_id TEXT NOT NULL DEFAULT '',
					outcome TEXT NOT NULL,
					message TEXT NOT NULL DEFAULT '',
					details JSONB
				);
				CREATE INDEX IF NOT EXISTS idx_audit_events_occurred ON audit_events(occurred_at);`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					occurred_at INTEGER NOT NULL,
					event_type TEXT NOT NULL,
					actor_uid TEXT NOT NULL DEFAULT '',
					actor_role TEXT NOT NULL DEFAULT '',
					resource TEXT NOT NULL DEFAULT '',
					resource_id TEXT NOT NULL DEFAULT '',
					outcome TEXT NOT NULL,
					message TEXT NOT NULL DEFAULT '',
					details TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_audit_events_occurred ON audit_events(occurred_at);`,
		},
	}
}

// Migrate applies every migration not yet recorded in schema_migrations
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := d.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate migrations: %w", err)
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}
		stmt := m.SQLite
		if d.Dialect == Postgres {
			stmt = m.Postgres
		}

		tx, err := d.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)`,
			m.Version, m.Description, NowMillis()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
