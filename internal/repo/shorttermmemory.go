package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type ShortTermMemory struct {
	ID        string
	RunID     string
	Key       string
	Value     map[string]any
	CreatedAt string
}

// shortTermMemoryID derives the id from (runId,key) alone (§4.E): value
// is deliberately excluded so upsertShortTermMemory can replace it
// in-place under a stable id.
func shortTermMemoryID(runID, key string) (string, error) {
	return canonical.ID(map[string]any{"runId": runID, "key": key})
}

// AddShortTermMemory is first-write-wins on (runId,key): a second Add
// with a different value for the same key returns the first value
// unchanged, per the Repository's general add contract. Use
// UpsertShortTermMemory to replace.
func (r *Repository) AddShortTermMemory(runID, key string, value map[string]any) (ShortTermMemory, error) {
	if err := requireNonEmpty("runId", runID); err != nil {
		return ShortTermMemory{}, err
	}
	if err := requireNonEmpty("key", key); err != nil {
		return ShortTermMemory{}, err
	}
	if value == nil {
		value = map[string]any{}
	}

	id, err := shortTermMemoryID(runID, key)
	if err != nil {
		return ShortTermMemory{}, err
	}
	valueJSON, err := marshalJSON(value)
	if err != nil {
		return ShortTermMemory{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO short_term_memory (id, run_id, key, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, key, valueJSON, now,
	)
	if err != nil {
		return ShortTermMemory{}, apperr.External("repo: insert short_term_memory", err)
	}

	stm, err := r.GetShortTermMemory(id)
	if err != nil {
		return ShortTermMemory{}, err
	}
	if err := r.audit.Append(auditEntry("shortTermMemory.add", shortTermMemoryRowImage(*stm))); err != nil {
		return ShortTermMemory{}, err
	}
	return *stm, nil
}

// UpsertShortTermMemory inserts or replaces the value for (runId,key);
// the id is unchanged since it excludes value.
func (r *Repository) UpsertShortTermMemory(runID, key string, value map[string]any) (ShortTermMemory, error) {
	if err := requireNonEmpty("runId", runID); err != nil {
		return ShortTermMemory{}, err
	}
	if err := requireNonEmpty("key", key); err != nil {
		return ShortTermMemory{}, err
	}
	if value == nil {
		value = map[string]any{}
	}

	id, err := shortTermMemoryID(runID, key)
	if err != nil {
		return ShortTermMemory{}, err
	}
	valueJSON, err := marshalJSON(value)
	if err != nil {
		return ShortTermMemory{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT INTO short_term_memory (id, run_id, key, value, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET value = excluded.value`,
		id, runID, key, valueJSON, now,
	)
	if err != nil {
		return ShortTermMemory{}, apperr.External("repo: upsert short_term_memory", err)
	}

	stm, err := r.GetShortTermMemory(id)
	if err != nil {
		return ShortTermMemory{}, err
	}
	if err := r.audit.Append(auditEntry("shortTermMemory.upsert", shortTermMemoryRowImage(*stm))); err != nil {
		return ShortTermMemory{}, err
	}
	return *stm, nil
}

func (r *Repository) GetShortTermMemory(id string) (*ShortTermMemory, error) {
	row := r.db.QueryRow(`SELECT id, run_id, key, value, created_at FROM short_term_memory WHERE id = ?`, id)
	return scanShortTermMemory(row)
}

func (r *Repository) ListShortTermMemory(runID string) ([]ShortTermMemory, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, key, value, created_at FROM short_term_memory WHERE run_id = ? ORDER BY key ASC`, runID,
	)
	if err != nil {
		return nil, apperr.External("repo: list short_term_memory", err)
	}
	defer rows.Close()

	var out []ShortTermMemory
	for rows.Next() {
		s, err := scanShortTermMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ClearShortTermMemory bulk-deletes every row for runID and emits a
// single audit entry with the deleted row count (§4.E).
func (r *Repository) ClearShortTermMemory(runID string) (int, error) {
	result, err := r.db.Exec(`DELETE FROM short_term_memory WHERE run_id = ?`, runID)
	if err != nil {
		return 0, apperr.External("repo: clear short_term_memory", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.External("repo: rows affected", err)
	}
	if err := r.audit.Append(auditEntry("shortTermMemory.clear", map[string]any{"runId": runID, "deleted": n})); err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanShortTermMemory(row interface{ Scan(...any) error }) (*ShortTermMemory, error) {
	var s ShortTermMemory
	var valueRaw sql.NullString
	err := row.Scan(&s.ID, &s.RunID, &s.Key, &valueRaw, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan short_term_memory", err)
	}
	value, err := unmarshalMap(valueRaw)
	if err != nil {
		return nil, err
	}
	s.Value = value
	return &s, nil
}

func shortTermMemoryRowImage(s ShortTermMemory) map[string]any {
	return map[string]any{"id": s.ID, "runId": s.RunID, "key": s.Key, "value": s.Value, "createdAt": s.CreatedAt}
}
