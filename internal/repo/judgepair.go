package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type JudgePair struct {
	ID             string
	RunID          string
	LeftAttemptID  string
	RightAttemptID string
	PromptVersion  string
	CreatedAt      string
}

// FindOrCreateJudgePair implements §4.P step 2: attemptA/attemptB are an
// unordered pair, canonicalized here (lexicographically smaller id goes
// left) so the same logical pair always derives the same id regardless
// of enumeration order.
func (r *Repository) FindOrCreateJudgePair(runID, attemptA, attemptB, promptVersion string) (JudgePair, error) {
	if err := requireNonEmpty("runId", runID); err != nil {
		return JudgePair{}, err
	}
	if err := requireNonEmpty("leftAttemptId", attemptA); err != nil {
		return JudgePair{}, err
	}
	if err := requireNonEmpty("rightAttemptId", attemptB); err != nil {
		return JudgePair{}, err
	}
	if err := requireNonEmpty("promptVersion", promptVersion); err != nil {
		return JudgePair{}, err
	}

	left, right := attemptA, attemptB
	if right < left {
		left, right = right, left
	}

	inputs := map[string]any{
		"runId": runID, "leftAttemptId": left, "rightAttemptId": right, "promptVersion": promptVersion,
	}
	id, err := canonical.ID(inputs)
	if err != nil {
		return JudgePair{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO judge_pairs (id, run_id, left_attempt_id, right_attempt_id, prompt_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, runID, left, right, promptVersion, now,
	)
	if err != nil {
		return JudgePair{}, apperr.External("repo: insert judge_pairs", err)
	}

	pair, err := r.GetJudgePair(id)
	if err != nil {
		return JudgePair{}, err
	}
	if err := r.audit.Append(auditEntry("judgePair.add", judgePairRowImage(*pair))); err != nil {
		return JudgePair{}, err
	}
	return *pair, nil
}

func (r *Repository) GetJudgePair(id string) (*JudgePair, error) {
	row := r.db.QueryRow(
		`SELECT id, run_id, left_attempt_id, right_attempt_id, prompt_version, created_at
		 FROM judge_pairs WHERE id = ?`, id,
	)
	return scanJudgePair(row)
}

func (r *Repository) ListJudgePairsByRun(runID string) ([]JudgePair, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, left_attempt_id, right_attempt_id, prompt_version, created_at
		 FROM judge_pairs WHERE run_id = ? ORDER BY created_at ASC`, runID,
	)
	if err != nil {
		return nil, apperr.External("repo: list judge_pairs", err)
	}
	defer rows.Close()

	var out []JudgePair
	for rows.Next() {
		p, err := scanJudgePair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanJudgePair(row interface{ Scan(...any) error }) (*JudgePair, error) {
	var p JudgePair
	err := row.Scan(&p.ID, &p.RunID, &p.LeftAttemptID, &p.RightAttemptID, &p.PromptVersion, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan judge_pairs", err)
	}
	return &p, nil
}

func judgePairRowImage(p JudgePair) map[string]any {
	return map[string]any{
		"id": p.ID, "runId": p.RunID, "leftAttemptId": p.LeftAttemptID, "rightAttemptId": p.RightAttemptID,
		"promptVersion": p.PromptVersion, "createdAt": p.CreatedAt,
	}
}
