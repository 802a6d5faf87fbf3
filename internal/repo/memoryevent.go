package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type MemoryEvent struct {
	ID          string
	SubjectID   string
	SubjectKind string
	Event       string
	Data        map[string]any
	CreatedAt   string
}

// AddMemoryEvent appends one provenance record; MemoryEvents are
// append-only.
func (r *Repository) AddMemoryEvent(subjectID, subjectKind, event string, data map[string]any) (MemoryEvent, error) {
	if err := requireNonEmpty("subjectId", subjectID); err != nil {
		return MemoryEvent{}, err
	}
	if err := requireNonEmpty("subjectKind", subjectKind); err != nil {
		return MemoryEvent{}, err
	}
	if err := requireNonEmpty("event", event); err != nil {
		return MemoryEvent{}, err
	}
	if data == nil {
		data = map[string]any{}
	}

	inputs := map[string]any{
		"subjectId": subjectID, "subjectKind": subjectKind, "event": event, "data": data,
	}
	id, err := canonical.ID(inputs)
	if err != nil {
		return MemoryEvent{}, err
	}

	dataJSON, err := marshalJSON(data)
	if err != nil {
		return MemoryEvent{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO memory_events (id, subject_id, subject_kind, event, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, subjectID, subjectKind, event, dataJSON, now,
	)
	if err != nil {
		return MemoryEvent{}, apperr.External("repo: insert memory_events", err)
	}

	ev, err := r.GetMemoryEvent(id)
	if err != nil {
		return MemoryEvent{}, err
	}
	if err := r.audit.Append(auditEntry("memoryEvent.add", memoryEventRowImage(*ev))); err != nil {
		return MemoryEvent{}, err
	}
	return *ev, nil
}

func (r *Repository) GetMemoryEvent(id string) (*MemoryEvent, error) {
	row := r.db.QueryRow(
		`SELECT id, subject_id, subject_kind, event, data, created_at FROM memory_events WHERE id = ?`, id,
	)
	return scanMemoryEvent(row)
}

func (r *Repository) ListMemoryEventsBySubject(subjectID, subjectKind string) ([]MemoryEvent, error) {
	rows, err := r.db.Query(
		`SELECT id, subject_id, subject_kind, event, data, created_at
		 FROM memory_events WHERE subject_id = ? AND subject_kind = ? ORDER BY created_at ASC`,
		subjectID, subjectKind,
	)
	if err != nil {
		return nil, apperr.External("repo: list memory_events", err)
	}
	defer rows.Close()

	var out []MemoryEvent
	for rows.Next() {
		e, err := scanMemoryEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanMemoryEvent(row interface{ Scan(...any) error }) (*MemoryEvent, error) {
	var e MemoryEvent
	var dataRaw sql.NullString
	err := row.Scan(&e.ID, &e.SubjectID, &e.SubjectKind, &e.Event, &dataRaw, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan memory_events", err)
	}
	data, err := unmarshalMap(dataRaw)
	if err != nil {
		return nil, err
	}
	e.Data = data
	return &e, nil
}

func memoryEventRowImage(e MemoryEvent) map[string]any {
	return map[string]any{
		"id": e.ID, "subjectId": e.SubjectID, "subjectKind": e.SubjectKind,
		"event": e.Event, "data": e.Data, "createdAt": e.CreatedAt,
	}
}
