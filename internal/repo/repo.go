// Package repo is the only surface that touches the store (§4.E). It
// performs content-addressed, idempotent inserts, JSON-column
// (de)materialization with defensive defaulting, and mirrors every
// mutation to the audit log before returning success to its caller.
// Best-effort failures (a rollback after an already-reported error) log
// through an injected *slog.Logger rather than vanishing silently.
package repo

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/audit"
)

// dbExecutor is satisfied by both *sql.DB and *sql.Tx, letting every
// entity method run unmodified whether or not it is inside WithTx.
type dbExecutor interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Repository is constructed once per process and shared by every
// orchestrator (§9: "re-architect as an explicit service passed into the
// Repository at construction").
type Repository struct {
	db    dbExecutor
	rawDB *sql.DB
	audit *audit.Store
	log   *slog.Logger
}

// New wires a Repository to an already-migrated database handle and an
// open audit store. A nil logger defaults to a discarding one.
func New(db *sql.DB, auditStore *audit.Store, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Repository{db: db, rawDB: db, audit: auditStore, log: logger}
}

// WithTx runs fn against a Repository whose writes share one transaction,
// committing on success and rolling back on error or panic. Curate (§4.I)
// uses this so its multi-row mutations are atomic.
// Calling WithTx from inside another WithTx is a programming error (no
// nested transactions).
func (r *Repository) WithTx(fn func(tx *Repository) error) (err error) {
	if r.rawDB == nil {
		return apperr.State("repo: WithTx called on a transaction-scoped Repository")
	}

	tx, err := r.rawDB.Begin()
	if err != nil {
		return apperr.External("repo: begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Warn("repo: rollback after panic failed", "error", rbErr)
			}
			panic(p)
		}
	}()

	txRepo := &Repository{db: tx, audit: r.audit, log: r.log}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Warn("repo: rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.External("repo: commit transaction", err)
	}
	return nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// auditEntry builds the {timestamp, type, data} record mirrored for
// every mutation (§4.E step 4); Timestamp is stamped by the audit store.
func auditEntry(typ string, data map[string]any) audit.Entry {
	return audit.Entry{Type: typ, Data: data}
}

// marshalJSON serializes v (a map or slice column value) for storage.
func marshalJSON(v any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", apperr.External("repo: marshal json column", err)
	}
	return string(b), nil
}

// unmarshalList parses a JSON-array column defensively: null, empty, or
// missing content yields an empty slice rather than nil or an error.
func unmarshalList(raw sql.NullString) ([]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" || raw.String == "null" {
		return []any{}, nil
	}
	var out []any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, apperr.External("repo: unmarshal list column", err)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// unmarshalStringList is unmarshalList specialized to []string, the
// common case for metaTags/relatedSubjects/discoveredIssues.
func unmarshalStringList(raw sql.NullString) ([]string, error) {
	items, err := unmarshalList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// unmarshalMap parses a JSON-object column defensively: null, empty, or
// missing content yields an empty map.
func unmarshalMap(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" || raw.String == "null" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, apperr.External("repo: unmarshal map column", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// nullString maps an empty/absent optional string to a NULL column value.
func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueViolation reports whether err is a SQLite uniqueness conflict,
// as opposed to any other storage failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
