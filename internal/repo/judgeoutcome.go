package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type JudgeOutcome struct {
	ID              string
	PairID          string
	WinnerAttemptID string
	Confidence      float64
	Rationale       string
	NarrativeDiff   map[string]any
	Model           string
	CreatedAt       string
}

// AddJudgeOutcome is idempotent for identical judgments but a genuine
// ConflictError if a different outcome is proposed for a pair that
// already has one (§3 invariant 6: at most one JudgeOutcome per
// JudgePair).
func (r *Repository) AddJudgeOutcome(pairID, winnerAttemptID string, confidence float64, rationale string, narrativeDiff map[string]any, model string) (JudgeOutcome, error) {
	if err := requireNonEmpty("pairId", pairID); err != nil {
		return JudgeOutcome{}, err
	}
	if err := requireNonEmpty("winnerAttemptId", winnerAttemptID); err != nil {
		return JudgeOutcome{}, err
	}
	if err := requireUnitInterval("confidence", confidence); err != nil {
		return JudgeOutcome{}, err
	}
	if err := requireNonEmpty("model", model); err != nil {
		return JudgeOutcome{}, err
	}
	if narrativeDiff == nil {
		narrativeDiff = map[string]any{}
	}

	inputs := map[string]any{
		"pairId": pairID, "winnerAttemptId": winnerAttemptID, "confidence": confidence,
		"rationale": rationale, "narrativeDiff": narrativeDiff, "model": model,
	}
	id, err := canonical.ID(inputs)
	if err != nil {
		return JudgeOutcome{}, err
	}

	diffJSON, err := marshalJSON(narrativeDiff)
	if err != nil {
		return JudgeOutcome{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO judge_outcomes
			(id, pair_id, winner_attempt_id, confidence, rationale, narrative_diff, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, pairID, winnerAttemptID, confidence, rationale, diffJSON, model, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return JudgeOutcome{}, apperr.Conflict("judgeOutcome: pair " + pairID + " already has a different outcome")
		}
		return JudgeOutcome{}, apperr.External("repo: insert judge_outcomes", err)
	}

	outcome, err := r.GetJudgeOutcome(id)
	if err != nil {
		return JudgeOutcome{}, err
	}
	if outcome == nil {
		// The insert was ignored on UNIQUE(pair_id): the pair already has
		// an outcome with different content.
		return JudgeOutcome{}, apperr.Conflict("judgeOutcome: pair " + pairID + " already has a different outcome")
	}
	if err := r.audit.Append(auditEntry("judgeOutcome.add", judgeOutcomeRowImage(*outcome))); err != nil {
		return JudgeOutcome{}, err
	}
	return *outcome, nil
}

func (r *Repository) GetJudgeOutcome(id string) (*JudgeOutcome, error) {
	row := r.db.QueryRow(
		`SELECT id, pair_id, winner_attempt_id, confidence, rationale, narrative_diff, model, created_at
		 FROM judge_outcomes WHERE id = ?`, id,
	)
	return scanJudgeOutcome(row)
}

// GetJudgeOutcomeByPair supports the judge driver's cache-hit check
// (§4.P step 3).
func (r *Repository) GetJudgeOutcomeByPair(pairID string) (*JudgeOutcome, error) {
	row := r.db.QueryRow(
		`SELECT id, pair_id, winner_attempt_id, confidence, rationale, narrative_diff, model, created_at
		 FROM judge_outcomes WHERE pair_id = ?`, pairID,
	)
	return scanJudgeOutcome(row)
}

func (r *Repository) ListJudgeOutcomesByRun(runID string) ([]JudgeOutcome, error) {
	rows, err := r.db.Query(
		`SELECT jo.id, jo.pair_id, jo.winner_attempt_id, jo.confidence, jo.rationale, jo.narrative_diff, jo.model, jo.created_at
		 FROM judge_outcomes jo JOIN judge_pairs jp ON jp.id = jo.pair_id
		 WHERE jp.run_id = ? ORDER BY jo.created_at ASC`, runID,
	)
	if err != nil {
		return nil, apperr.External("repo: list judge_outcomes", err)
	}
	defer rows.Close()

	var out []JudgeOutcome
	for rows.Next() {
		o, err := scanJudgeOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanJudgeOutcome(row interface{ Scan(...any) error }) (*JudgeOutcome, error) {
	var o JudgeOutcome
	var diffRaw sql.NullString
	err := row.Scan(&o.ID, &o.PairID, &o.WinnerAttemptID, &o.Confidence, &o.Rationale, &diffRaw, &o.Model, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan judge_outcomes", err)
	}
	diff, err := unmarshalMap(diffRaw)
	if err != nil {
		return nil, err
	}
	o.NarrativeDiff = diff
	return &o, nil
}

func judgeOutcomeRowImage(o JudgeOutcome) map[string]any {
	return map[string]any{
		"id": o.ID, "pairId": o.PairID, "winnerAttemptId": o.WinnerAttemptID, "confidence": o.Confidence,
		"rationale": o.Rationale, "narrativeDiff": o.NarrativeDiff, "model": o.Model, "createdAt": o.CreatedAt,
	}
}
