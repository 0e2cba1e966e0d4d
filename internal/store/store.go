// Package store is the durable, schema-versioned, concurrency-safe trace
// store: tasks, executions, spans, patterns, adaptations, rewards, and a
// materialized skill-performance cache, backed by an embedded SQLite
// database exactly as the teacher's memory package embeds one.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"path/filepath"

	"github.com/agentevolve/evocore/internal/store/errs"
	_ "modernc.org/sqlite"
)

// Options configures a Store. Zero values select the documented defaults.
type Options struct {
	// BaseDir allow-lists the directory Path must resolve under. Empty
	// disables the check (appropriate for ":memory:" or when the caller
	// already constrains Path, e.g. from t.TempDir()).
	BaseDir string
	// BusyTimeoutMS is the SQLite busy-timeout in milliseconds. Default 5000.
	BusyTimeoutMS int
	// DisableWAL turns off WAL mode, e.g. for ":memory:" databases where it
	// has no effect and SQLite would otherwise warn.
	DisableWAL bool
}

func (o Options) withDefaults() Options {
	if o.BusyTimeoutMS <= 0 {
		o.BusyTimeoutMS = 5000
	}
	return o
}

// Store is the embedded, single-writer-many-readers trace store.
type Store struct {
	db *sql.DB
}

// Open validates path against opts.BaseDir, opens the SQLite database,
// applies pragmas, and runs every pending migration.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if err := validatePath(path, opts.BaseDir); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Storagef(err, "open database %q", path)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeoutMS),
	}
	if path != ":memory:" && !opts.DisableWAL {
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errs.Storagef(err, "apply pragma %q", p)
		}
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, errs.Storagef(err, "apply migrations")
	}

	log.Printf("[STORE] opened %s (busy_timeout=%dms)", describePath(path), opts.BusyTimeoutMS)
	return &Store{db: db}, nil
}

func describePath(path string) string {
	if path == ":memory:" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for callers (e.g. the export path) that need to
// read tables this package does not otherwise expose typed accessors for.
func (s *Store) DB() *sql.DB {
	return s.db
}
