package journal

import (
	"fmt"
	"time"
)

// currentSchemaVersion is the journal database schema version. Increment it
// when making schema changes and add migration logic.
const currentSchemaVersion = 1

// initSchema creates required tables and applies pending migrations.
// Idempotent: every statement uses IF NOT EXISTS.
func (j *Journal) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := j.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := j.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the initial schema: connection transitions and
// terminal task outcomes. Timestamps are stored as RFC 3339 strings for
// readability and portability.
func (j *Journal) migrateToV1() error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// connection_events records every connect, disconnect and connection
	// error. The auto-increment id doubles as the chronological order, so
	// pruning and newest-first queries go by id instead of parsing times.
	const connectionEventsTable = `
		CREATE TABLE IF NOT EXISTS connection_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);
	`
	if _, err := tx.Exec(connectionEventsTable); err != nil {
		return fmt.Errorf("create connection_events table: %w", err)
	}

	// task_events records one row per finished task: the terminal status,
	// final progress, error text and a JSON snapshot of the type-specific
	// detail. Live progress is never journaled.
	const taskEventsTable = `
		CREATE TABLE IF NOT EXISTS task_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			repository_id TEXT NOT NULL,
			status TEXT NOT NULL,
			progress REAL NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);

		-- Index for per-repository history queries.
		CREATE INDEX IF NOT EXISTS idx_task_events_repo ON task_events(repository_id);
	`
	if _, err := tx.Exec(taskEventsTable); err != nil {
		return fmt.Errorf("create task_events table: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		1,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

// SchemaVersion returns the journal's current schema version, for
// diagnostics and tests.
func (j *Journal) SchemaVersion() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var version int
	if err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
