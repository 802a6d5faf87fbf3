package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type AttemptStep struct {
	ID          string
	AttemptID   string
	StepIndex   int
	Kind        string
	Input       map[string]any
	Output      map[string]any
	Observation map[string]any
	CreatedAt   string
}

// AddAttemptStep appends one step; AttemptSteps are immutable and
// append-only, and callers must supply strictly increasing StepIndex
// within one attempt (§5 ordering guarantee).
func (r *Repository) AddAttemptStep(attemptID string, stepIndex int, kind string, input, output, observation map[string]any) (AttemptStep, error) {
	if err := requireNonEmpty("attemptId", attemptID); err != nil {
		return AttemptStep{}, err
	}
	if err := requireNonNegative("stepIndex", stepIndex); err != nil {
		return AttemptStep{}, err
	}
	if err := requireNonEmpty("kind", kind); err != nil {
		return AttemptStep{}, err
	}
	if input == nil {
		input = map[string]any{}
	}
	if output == nil {
		output = map[string]any{}
	}
	if observation == nil {
		observation = map[string]any{}
	}

	inputs := map[string]any{
		"attemptId": attemptID, "stepIndex": stepIndex, "kind": kind,
		"input": input, "output": output, "observation": observation,
	}
	id, err := canonical.ID(inputs)
	if err != nil {
		return AttemptStep{}, err
	}

	inputJSON, err := marshalJSON(input)
	if err != nil {
		return AttemptStep{}, err
	}
	outputJSON, err := marshalJSON(output)
	if err != nil {
		return AttemptStep{}, err
	}
	observationJSON, err := marshalJSON(observation)
	if err != nil {
		return AttemptStep{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO attempt_steps
			(id, attempt_id, step_index, kind, input, output, observation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, attemptID, stepIndex, kind, inputJSON, outputJSON, observationJSON, now,
	)
	if err != nil {
		return AttemptStep{}, apperr.External("repo: insert attempt_steps", err)
	}

	step, err := r.GetAttemptStep(id)
	if err != nil {
		return AttemptStep{}, err
	}
	if err := r.audit.Append(auditEntry("attemptStep.add", attemptStepRowImage(*step))); err != nil {
		return AttemptStep{}, err
	}
	return *step, nil
}

func (r *Repository) GetAttemptStep(id string) (*AttemptStep, error) {
	row := r.db.QueryRow(
		`SELECT id, attempt_id, step_index, kind, input, output, observation, created_at
		 FROM attempt_steps WHERE id = ?`, id,
	)
	return scanAttemptStep(row)
}

// ListAttemptSteps returns the ordered step log of one attempt (§4.N
// input).
func (r *Repository) ListAttemptSteps(attemptID string) ([]AttemptStep, error) {
	rows, err := r.db.Query(
		`SELECT id, attempt_id, step_index, kind, input, output, observation, created_at
		 FROM attempt_steps WHERE attempt_id = ? ORDER BY step_index ASC`, attemptID,
	)
	if err != nil {
		return nil, apperr.External("repo: list attempt_steps", err)
	}
	defer rows.Close()

	var out []AttemptStep
	for rows.Next() {
		s, err := scanAttemptStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanAttemptStep(row interface{ Scan(...any) error }) (*AttemptStep, error) {
	var s AttemptStep
	var inputRaw, outputRaw, observationRaw sql.NullString
	err := row.Scan(&s.ID, &s.AttemptID, &s.StepIndex, &s.Kind, &inputRaw, &outputRaw, &observationRaw, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan attempt_steps", err)
	}
	var uerr error
	if s.Input, uerr = unmarshalMap(inputRaw); uerr != nil {
		return nil, uerr
	}
	if s.Output, uerr = unmarshalMap(outputRaw); uerr != nil {
		return nil, uerr
	}
	if s.Observation, uerr = unmarshalMap(observationRaw); uerr != nil {
		return nil, uerr
	}
	return &s, nil
}

func attemptStepRowImage(s AttemptStep) map[string]any {
	return map[string]any{
		"id": s.ID, "attemptId": s.AttemptID, "stepIndex": s.StepIndex, "kind": s.Kind,
		"input": s.Input, "output": s.Output, "observation": s.Observation, "createdAt": s.CreatedAt,
	}
}
