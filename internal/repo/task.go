package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type Task struct {
	ID        string
	SubjectID string
	Spec      map[string]any
	CreatedAt string
}

func (r *Repository) AddTask(subjectID string, spec map[string]any) (Task, error) {
	if spec == nil {
		spec = map[string]any{}
	}

	inputs := map[string]any{"subjectId": subjectID, "spec": spec}
	id, err := canonical.ID(inputs)
	if err != nil {
		return Task{}, err
	}

	specJSON, err := marshalJSON(spec)
	if err != nil {
		return Task{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO tasks (id, subject_id, spec, created_at) VALUES (?, ?, ?, ?)`,
		id, nullString(subjectID), specJSON, now,
	)
	if err != nil {
		return Task{}, apperr.External("repo: insert tasks", err)
	}

	task, err := r.GetTask(id)
	if err != nil {
		return Task{}, err
	}
	if err := r.audit.Append(auditEntry("task.add", taskRowImage(*task))); err != nil {
		return Task{}, err
	}
	return *task, nil
}

func (r *Repository) GetTask(id string) (*Task, error) {
	row := r.db.QueryRow(`SELECT id, subject_id, spec, created_at FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var subjectID, specRaw sql.NullString
	err := row.Scan(&t.ID, &subjectID, &specRaw, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan tasks", err)
	}
	t.SubjectID = subjectID.String
	spec, err := unmarshalMap(specRaw)
	if err != nil {
		return nil, err
	}
	t.Spec = spec
	return &t, nil
}

func taskRowImage(t Task) map[string]any {
	return map[string]any{"id": t.ID, "subjectId": t.SubjectID, "spec": t.Spec, "createdAt": t.CreatedAt}
}
