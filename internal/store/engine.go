// Package store owns the embedded relational database: the process-wide
// connection registry, the pragma sequence applied on open, and the
// migration engine (see migrate.go). Everything above the Repository
// layer only ever sees *sql.DB / *sql.Tx through here — no higher layer
// opens a connection directly.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// connKey identifies one cached handle. The registry returns the same
// *sql.DB to repeat callers for the same (path, readonly) pair.
type connKey struct {
	path     string
	readonly bool
}

// Engine is the process-scoped connection registry (§5: "process-wide
// state with explicit init/teardown"). Unlike the teacher's module-level
// map, it is constructed explicitly and threaded into the Repository by
// its owner.
type Engine struct {
	mu    sync.Mutex
	conns map[connKey]*sql.DB
}

// NewEngine returns an empty registry.
func NewEngine() *Engine {
	return &Engine{conns: make(map[connKey]*sql.DB)}
}

// Open returns the cached handle for (path, readonly), opening and
// configuring a fresh one on first use. Required parent directories are
// created eagerly.
func (e *Engine) Open(path string, readonly bool) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: missing database path")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := connKey{path: path, readonly: readonly}
	if db, ok := e.conns[key]; ok {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if readonly {
		// Read-only opens skip all writable pragmas (§4.C).
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	} else {
		if err := applyWritablePragmas(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		// Single writer: one connection avoids SQLITE_BUSY storms under WAL.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	e.conns[key] = db
	return db, nil
}

// writablePragmas mirrors §4.C: WAL journal, foreign keys on, NORMAL
// synchronous durability, a 5000ms busy timeout, a ~1000 page WAL
// checkpoint interval, a ~64MB page cache, and an in-memory temp store.
var writablePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA wal_autocheckpoint = 1000",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
}

func applyWritablePragmas(db *sql.DB) error {
	for _, p := range writablePragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close closes and evicts the handle for (path, readonly), if any.
func (e *Engine) Close(path string, readonly bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := connKey{path: path, readonly: readonly}
	db, ok := e.conns[key]
	if !ok {
		return nil
	}
	delete(e.conns, key)
	return db.Close()
}

// CloseAll closes every cached handle and empties the registry. Intended
// for process teardown.
func (e *Engine) CloseAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for key, db := range e.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.conns, key)
	}
	return firstErr
}
