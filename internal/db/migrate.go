// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations, embedded so the
// binary carries its own schema.
var migrations = []Migration{
	{
		Version:     1,
		Description: "create todo_lists and todo_items",
		SQL: `
CREATE TABLE IF NOT EXISTS todo_lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	last_modified INTEGER NOT NULL DEFAULT 0,
	last_synced_at INTEGER NOT NULL DEFAULT 0,
	pending_sync INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS todo_items (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL REFERENCES todo_lists(id),
	description TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	external_id TEXT NOT NULL DEFAULT '',
	last_modified INTEGER NOT NULL DEFAULT 0,
	last_synced_at INTEGER NOT NULL DEFAULT 0,
	pending_sync INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_todo_lists_external_id ON todo_lists(external_id);
CREATE INDEX IF NOT EXISTS idx_todo_lists_pending ON todo_lists(pending_sync, is_deleted);
CREATE INDEX IF NOT EXISTS idx_todo_items_list_id ON todo_items(list_id);
CREATE INDEX IF NOT EXISTS idx_todo_items_external_id ON todo_items(external_id);
`,
	},
}

// Migrator applies embedded schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate applies all pending migrations in order. Each migration runs
// inside its own transaction.
func (m *Migrator) Migrate() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}

		sum := sha256.Sum256([]byte(mig.SQL))
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description, hex.EncodeToString(sum[:]),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
	}

	return nil
}
