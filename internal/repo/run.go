package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type Run struct {
	ID        string
	TaskID    string
	N         int
	Seed      int64
	Config    map[string]any
	CreatedAt string
}

func (r *Repository) AddRun(taskID string, n int, seed int64, config map[string]any) (Run, error) {
	if err := requireNonEmpty("taskId", taskID); err != nil {
		return Run{}, err
	}
	if err := requirePositive("n", n); err != nil {
		return Run{}, err
	}
	if config == nil {
		config = map[string]any{}
	}

	inputs := map[string]any{"taskId": taskID, "n": n, "seed": seed, "config": config}
	id, err := canonical.ID(inputs)
	if err != nil {
		return Run{}, err
	}

	configJSON, err := marshalJSON(config)
	if err != nil {
		return Run{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO runs (id, task_id, n, seed, config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, taskID, n, seed, configJSON, now,
	)
	if err != nil {
		return Run{}, apperr.External("repo: insert runs", err)
	}

	run, err := r.GetRun(id)
	if err != nil {
		return Run{}, err
	}
	if err := r.audit.Append(auditEntry("run.add", runRowImage(*run))); err != nil {
		return Run{}, err
	}
	return *run, nil
}

func (r *Repository) GetRun(id string) (*Run, error) {
	row := r.db.QueryRow(`SELECT id, task_id, n, seed, config, created_at FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var configRaw sql.NullString
	err := row.Scan(&run.ID, &run.TaskID, &run.N, &run.Seed, &configRaw, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan runs", err)
	}
	config, err := unmarshalMap(configRaw)
	if err != nil {
		return nil, err
	}
	run.Config = config
	return &run, nil
}

func runRowImage(run Run) map[string]any {
	return map[string]any{
		"id": run.ID, "taskId": run.TaskID, "n": run.N, "seed": run.Seed,
		"config": run.Config, "createdAt": run.CreatedAt,
	}
}
