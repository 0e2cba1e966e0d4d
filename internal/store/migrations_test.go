package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func newMigrationTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrations.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count); err != nil {
		t.Fatalf("check table %q: %v", name, err)
	}
	return count > 0
}

func TestApplyMigrationsCreatesAllTables(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	for _, table := range []string{"tasks", "executions", "spans", "patterns", "adaptations",
		"rewards", "ab_experiments", "ab_assignments", "ab_metrics"} {
		if !tableExists(t, db, table) {
			t.Fatalf("expected table %q to exist after migrations", table)
		}
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := applyMigrations(db); err != nil {
		t.Fatalf("second apply should be a no-op, got error: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected exactly %d recorded migrations, got %d", len(migrations), count)
	}
}

func TestRollbackMigrationDropsItsTables(t *testing.T) {
	db := newMigrationTestDB(t)

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if !tableExists(t, db, "ab_experiments") {
		t.Fatalf("expected ab_experiments to exist before rollback")
	}

	if err := rollbackMigration(db, 2); err != nil {
		t.Fatalf("rollback migration 2: %v", err)
	}

	for _, table := range []string{"ab_experiments", "ab_assignments", "ab_metrics"} {
		if tableExists(t, db, table) {
			t.Fatalf("expected table %q to be dropped after rolling back migration 2", table)
		}
	}
	if !tableExists(t, db, "tasks") {
		t.Fatalf("rolling back migration 2 must not touch migration 1's tables")
	}

	var version int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 2").Scan(&version); err != nil {
		t.Fatalf("check schema_migrations: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected migration 2's schema_migrations row to be removed, found %d", version)
	}
}

func TestRollbackMigrationRejectsUnknownVersion(t *testing.T) {
	db := newMigrationTestDB(t)
	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if err := rollbackMigration(db, 99); err == nil {
		t.Fatalf("expected rollback of unknown version 99 to fail")
	}
}
