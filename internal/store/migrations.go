package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"
)

//go:embed schema_v1.sql
var schemaV1 string

//go:embed schema_v2.sql
var schemaV2 string

// migration is one ordered, idempotent schema step. Down is the inverse DDL
// run, in reverse migration order, by rollbackMigration.
type migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "core trace schema: tasks, executions, spans, patterns, adaptations, rewards, stats",
		Up:          schemaV1,
		Down: `
			DROP TRIGGER IF EXISTS skills_cache_upsert;
			DROP TRIGGER IF EXISTS spans_fts_ad;
			DROP TRIGGER IF EXISTS spans_fts_au;
			DROP TRIGGER IF EXISTS spans_fts_ai;
			DROP TABLE IF EXISTS spans_fts;
			DROP TABLE IF EXISTS cost_records;
			DROP TABLE IF EXISTS evolution_stats;
			DROP TABLE IF EXISTS execution_metrics;
			DROP TABLE IF EXISTS rewards;
			DROP TABLE IF EXISTS adaptations;
			DROP TABLE IF EXISTS patterns;
			DROP TABLE IF EXISTS skills_performance_cache;
			DROP TABLE IF EXISTS spans;
			DROP TABLE IF EXISTS executions;
			DROP TABLE IF EXISTS tasks;
		`,
	},
	{
		Version:     2,
		Description: "A/B experiment tables",
		Up:          schemaV2,
		Down: `
			DROP TABLE IF EXISTS ab_metrics;
			DROP TABLE IF EXISTS ab_assignments;
			DROP TABLE IF EXISTS ab_experiments;
		`,
	},
}

// migrationsTableDDL is applied outside the migration loop so the version
// table itself always exists before we query it.
const migrationsTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// applyMigrations runs every migration whose version is not yet recorded in
// schema_migrations, each inside its own transaction that applies the DDL
// and inserts the version row atomically.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(migrationsTableDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate schema_migrations: %w", err)
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// rollbackMigration reverses a single applied migration by version, running
// its Down DDL and removing the schema_migrations row. Callers rolling back
// more than one version must call this in descending version order.
func rollbackMigration(db *sql.DB, version int) error {
	var down string
	found := false
	for _, m := range migrations {
		if m.Version == version {
			down = m.Down
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown migration version %d", version)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin rollback %d: %w", version, err)
	}
	if _, err := tx.Exec(down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", version, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", version); err != nil {
		tx.Rollback()
		return fmt.Errorf("unrecord migration %d: %w", version, err)
	}
	return tx.Commit()
}
