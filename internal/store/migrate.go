package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one ordered, numbered schema script (§4.D). Migrations are
// additive-only: once committed to Migrations (see migrations.go), a
// Migration's Version and Up must never change — new schema evolution is a
// new, higher-numbered Migration.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *sql.Tx) error
}

// Result reports what RunMigrations did.
type Result struct {
	Applied int
	Current int
}

const createSchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);`

// CurrentVersion returns max(version) from schema_version, or 0 if the
// table doesn't exist yet or is empty.
func CurrentVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(createSchemaVersionTable); err != nil {
		return 0, fmt.Errorf("store: ensure schema_version: %w", err)
	}
	var current sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&current); err != nil {
		return 0, fmt.Errorf("store: read schema_version: %w", err)
	}
	if !current.Valid {
		return 0, nil
	}
	return int(current.Int64), nil
}

// latestVersion returns the highest Version among migrations, or 0 for an
// empty set.
func latestVersion(migrations []Migration) int {
	latest := 0
	for _, m := range migrations {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return latest
}

// NeedsMigration reports whether current < latest known migration.
func NeedsMigration(db *sql.DB, migrations []Migration) (bool, error) {
	current, err := CurrentVersion(db)
	if err != nil {
		return false, err
	}
	return current < latestVersion(migrations), nil
}

// RunMigrations applies every pending migration (version > current) in
// ascending order, each inside its own transaction that also records its
// own (version, applied_at) row on success. Running it twice in a row is a
// no-op the second time (§8 "Migration monotonicity").
func RunMigrations(db *sql.DB, migrations []Migration) (Result, error) {
	current, err := CurrentVersion(db)
	if err != nil {
		return Result{}, err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	sortMigrations(pending)

	applied := 0
	for _, m := range pending {
		if err := applyOne(db, m); err != nil {
			return Result{}, fmt.Errorf("store: migration %d (%s): %w", m.Version, m.Name, err)
		}
		current = m.Version
		applied++
	}

	return Result{Applied: applied, Current: current}, nil
}

func applyOne(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.Up(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_version(version, applied_at) VALUES(?, ?)`,
		m.Version, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func sortMigrations(migrations []Migration) {
	for i := 1; i < len(migrations); i++ {
		for j := i; j > 0 && migrations[j-1].Version > migrations[j].Version; j-- {
			migrations[j-1], migrations[j] = migrations[j], migrations[j-1]
		}
	}
}
