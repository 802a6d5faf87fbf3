package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

// AttemptStatuses is the state machine of §4.M: pending -> running ->
// {completed, failed}; completed and failed are absorbing.
const (
	AttemptPending   = "pending"
	AttemptRunning   = "running"
	AttemptCompleted = "completed"
	AttemptFailed    = "failed"
)

var attemptTransitions = map[string][]string{
	AttemptPending:   {AttemptRunning},
	AttemptRunning:   {AttemptCompleted, AttemptFailed},
	AttemptCompleted: {},
	AttemptFailed:    {},
}

type Attempt struct {
	ID          string
	RunID       string
	Ordinal     int
	Status      string
	Result      map[string]any
	CreatedAt   string
	CompletedAt string
}

// AddAttempt creates an attempt in AttemptPending. Its id is derived from
// (runId, ordinal) alone (§4.E), so it is naturally unique on that pair
// regardless of status/result at call time.
func (r *Repository) AddAttempt(runID string, ordinal int) (Attempt, error) {
	if err := requireNonEmpty("runId", runID); err != nil {
		return Attempt{}, err
	}
	if err := requireNonNegative("ordinal", ordinal); err != nil {
		return Attempt{}, err
	}

	inputs := map[string]any{"runId": runID, "ordinal": ordinal}
	id, err := canonical.ID(inputs)
	if err != nil {
		return Attempt{}, err
	}

	resultJSON, err := marshalJSON(map[string]any{})
	if err != nil {
		return Attempt{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO attempts (id, run_id, ordinal, status, result, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		id, runID, ordinal, AttemptPending, resultJSON, now,
	)
	if err != nil {
		return Attempt{}, apperr.External("repo: insert attempts", err)
	}

	attempt, err := r.GetAttempt(id)
	if err != nil {
		return Attempt{}, err
	}
	if err := r.audit.Append(auditEntry("attempt.add", attemptRowImage(*attempt))); err != nil {
		return Attempt{}, err
	}
	return *attempt, nil
}

func (r *Repository) GetAttempt(id string) (*Attempt, error) {
	row := r.db.QueryRow(
		`SELECT id, run_id, ordinal, status, result, created_at, completed_at FROM attempts WHERE id = ?`, id,
	)
	return scanAttempt(row)
}

func (r *Repository) ListAttemptsByRun(runID string) ([]Attempt, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, ordinal, status, result, created_at, completed_at
		 FROM attempts WHERE run_id = ? ORDER BY ordinal ASC`, runID,
	)
	if err != nil {
		return nil, apperr.External("repo: list attempts", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AttemptUpdate is the patch accepted by UpdateAttempt; zero-value fields
// are left unchanged except where explicitly flagged.
type AttemptUpdate struct {
	Status      string
	SetStatus   bool
	Result      map[string]any
	SetResult   bool
	CompletedAt string
	SetComplete bool
}

// UpdateAttempt applies a patch subset, validating any status change
// against the §4.M state machine: no path may leave a terminal state.
func (r *Repository) UpdateAttempt(id string, patch AttemptUpdate) (Attempt, error) {
	existing, err := r.GetAttempt(id)
	if err != nil {
		return Attempt{}, err
	}
	if existing == nil {
		return Attempt{}, apperr.NotFound("attempt", id)
	}

	newStatus := existing.Status
	if patch.SetStatus {
		allowed := attemptTransitions[existing.Status]
		ok := false
		for _, a := range allowed {
			if a == patch.Status {
				ok = true
				break
			}
		}
		if !ok {
			return Attempt{}, apperr.State("attempt " + id + ": invalid transition " + existing.Status + " -> " + patch.Status)
		}
		newStatus = patch.Status
	}

	newResult := existing.Result
	if patch.SetResult {
		newResult = patch.Result
	}
	resultJSON, err := marshalJSON(newResult)
	if err != nil {
		return Attempt{}, err
	}

	newCompletedAt := existing.CompletedAt
	if patch.SetComplete {
		newCompletedAt = patch.CompletedAt
	}

	_, err = r.db.Exec(
		`UPDATE attempts SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		newStatus, resultJSON, nullString(newCompletedAt), id,
	)
	if err != nil {
		return Attempt{}, apperr.External("repo: update attempts", err)
	}

	updated, err := r.GetAttempt(id)
	if err != nil {
		return Attempt{}, err
	}
	if err := r.audit.Append(auditEntry("attempt.update", attemptRowImage(*updated))); err != nil {
		return Attempt{}, err
	}
	return *updated, nil
}

func scanAttempt(row interface{ Scan(...any) error }) (*Attempt, error) {
	var a Attempt
	var resultRaw sql.NullString
	var completedAt sql.NullString
	err := row.Scan(&a.ID, &a.RunID, &a.Ordinal, &a.Status, &resultRaw, &a.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan attempts", err)
	}
	result, err := unmarshalMap(resultRaw)
	if err != nil {
		return nil, err
	}
	a.Result = result
	a.CompletedAt = completedAt.String
	return &a, nil
}

func attemptRowImage(a Attempt) map[string]any {
	return map[string]any{
		"id": a.ID, "runId": a.RunID, "ordinal": a.Ordinal, "status": a.Status,
		"result": a.Result, "createdAt": a.CreatedAt, "completedAt": a.CompletedAt,
	}
}
