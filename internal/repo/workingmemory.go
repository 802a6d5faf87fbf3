package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

var WorkingMemoryTypes = []string{"summary", "invariant", "decision"}

type WorkingMemory struct {
	ID          string
	ProjectID   string
	Type        string
	ContentText string
	Provenance  map[string]any
	UpdatedAt   string
}

func workingMemoryID(projectID, typ, contentText string) (string, error) {
	return canonical.ID(map[string]any{"projectId": projectID, "type": typ, "contentText": contentText})
}

// AddWorkingMemory is the idempotent add (§4.E): identical
// (projectId,type,contentText) resolves to the same row.
func (r *Repository) AddWorkingMemory(projectID, typ, contentText string, provenance map[string]any) (WorkingMemory, error) {
	if err := requireNonEmpty("projectId", projectID); err != nil {
		return WorkingMemory{}, err
	}
	if err := requireOneOf("type", typ, WorkingMemoryTypes...); err != nil {
		return WorkingMemory{}, err
	}
	if err := requireNonEmpty("contentText", contentText); err != nil {
		return WorkingMemory{}, err
	}
	if provenance == nil {
		provenance = map[string]any{}
	}

	id, err := workingMemoryID(projectID, typ, contentText)
	if err != nil {
		return WorkingMemory{}, err
	}
	provenanceJSON, err := marshalJSON(provenance)
	if err != nil {
		return WorkingMemory{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO working_memory (id, project_id, type, content_text, provenance, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, projectID, typ, contentText, provenanceJSON, now,
	)
	if err != nil {
		return WorkingMemory{}, apperr.External("repo: insert working_memory", err)
	}

	wm, err := r.GetWorkingMemory(id)
	if err != nil {
		return WorkingMemory{}, err
	}
	if err := r.audit.Append(auditEntry("workingMemory.add", workingMemoryRowImage(*wm))); err != nil {
		return WorkingMemory{}, err
	}
	return *wm, nil
}

// UpsertWorkingMemory inserts or updates by derived id (§4.E): because
// contentText is part of the id, a content-changing "update" always
// lands under a new id; only provenance/updatedAt mutate in place.
func (r *Repository) UpsertWorkingMemory(projectID, typ, contentText string, provenance map[string]any) (WorkingMemory, error) {
	if err := requireNonEmpty("projectId", projectID); err != nil {
		return WorkingMemory{}, err
	}
	if err := requireOneOf("type", typ, WorkingMemoryTypes...); err != nil {
		return WorkingMemory{}, err
	}
	if err := requireNonEmpty("contentText", contentText); err != nil {
		return WorkingMemory{}, err
	}
	if provenance == nil {
		provenance = map[string]any{}
	}

	id, err := workingMemoryID(projectID, typ, contentText)
	if err != nil {
		return WorkingMemory{}, err
	}
	provenanceJSON, err := marshalJSON(provenance)
	if err != nil {
		return WorkingMemory{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT INTO working_memory (id, project_id, type, content_text, provenance, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET provenance = excluded.provenance, updated_at = excluded.updated_at`,
		id, projectID, typ, contentText, provenanceJSON, now,
	)
	if err != nil {
		return WorkingMemory{}, apperr.External("repo: upsert working_memory", err)
	}

	wm, err := r.GetWorkingMemory(id)
	if err != nil {
		return WorkingMemory{}, err
	}
	if err := r.audit.Append(auditEntry("workingMemory.upsert", workingMemoryRowImage(*wm))); err != nil {
		return WorkingMemory{}, err
	}
	return *wm, nil
}

func (r *Repository) GetWorkingMemory(id string) (*WorkingMemory, error) {
	row := r.db.QueryRow(
		`SELECT id, project_id, type, content_text, provenance, updated_at FROM working_memory WHERE id = ?`, id,
	)
	return scanWorkingMemory(row)
}

func (r *Repository) ListWorkingMemoryByProject(projectID string) ([]WorkingMemory, error) {
	rows, err := r.db.Query(
		`SELECT id, project_id, type, content_text, provenance, updated_at
		 FROM working_memory WHERE project_id = ? ORDER BY updated_at DESC`, projectID,
	)
	if err != nil {
		return nil, apperr.External("repo: list working_memory", err)
	}
	defer rows.Close()

	var out []WorkingMemory
	for rows.Next() {
		wm, err := scanWorkingMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wm)
	}
	return out, rows.Err()
}

func scanWorkingMemory(row interface{ Scan(...any) error }) (*WorkingMemory, error) {
	var wm WorkingMemory
	var provenanceRaw sql.NullString
	err := row.Scan(&wm.ID, &wm.ProjectID, &wm.Type, &wm.ContentText, &provenanceRaw, &wm.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan working_memory", err)
	}
	provenance, err := unmarshalMap(provenanceRaw)
	if err != nil {
		return nil, err
	}
	wm.Provenance = provenance
	return &wm, nil
}

func workingMemoryRowImage(wm WorkingMemory) map[string]any {
	return map[string]any{
		"id": wm.ID, "projectId": wm.ProjectID, "type": wm.Type, "contentText": wm.ContentText,
		"provenance": wm.Provenance, "updatedAt": wm.UpdatedAt,
	}
}
