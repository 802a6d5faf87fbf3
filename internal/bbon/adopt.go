package bbon

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/apply"
	"github.com/engramhq/engram/internal/canonical"
	"github.com/engramhq/engram/internal/llm"
	"github.com/engramhq/engram/internal/repo"
)

// DriveJudging implements the judge driver of §4.P steps 1-4: load
// completed attempts, form every unordered pair, reuse any cached
// outcome, and judge the rest.
func DriveJudging(ctx context.Context, r *repo.Repository, provider llm.Provider, runID string, cfg JudgeConfig) ([]repo.JudgeOutcome, error) {
	attempts, err := completedAttempts(r, runID)
	if err != nil {
		return nil, err
	}
	if len(attempts) < 2 {
		return nil, apperr.State("bbon: judge driver requires at least two completed attempts")
	}

	byID := make(map[string]repo.Attempt, len(attempts))
	stepsByID := make(map[string][]repo.AttemptStep, len(attempts))
	for _, a := range attempts {
		byID[a.ID] = a
		steps, err := r.ListAttemptSteps(a.ID)
		if err != nil {
			return nil, err
		}
		stepsByID[a.ID] = steps
	}

	log := cfg.logger()

	var outcomes []repo.JudgeOutcome
	for i := 0; i < len(attempts); i++ {
		for j := i + 1; j < len(attempts); j++ {
			pair, err := r.FindOrCreateJudgePair(runID, attempts[i].ID, attempts[j].ID, cfg.PromptVersion)
			if err != nil {
				return nil, err
			}

			existing, err := r.GetJudgeOutcomeByPair(pair.ID)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				log.Info("bbon judge cache hit", "pairId", canonical.ShortID(pair.ID))
				outcomes = append(outcomes, *existing)
				continue
			}

			left, right := byID[pair.LeftAttemptID], byID[pair.RightAttemptID]
			diff := Compute(left, right, stepsByID[left.ID], stepsByID[right.ID])

			verdict, err := Judge(ctx, provider, left, right, diff, cfg)
			if err != nil {
				return nil, err
			}
			log.Info("bbon judge called", "pairId", canonical.ShortID(pair.ID), "winnerAttemptId", canonical.ShortID(verdict.WinnerAttemptID))

			outcome, err := r.AddJudgeOutcome(pair.ID, verdict.WinnerAttemptID, verdict.Confidence, verdict.Rationale, diff.AsMap(), cfg.Model)
			if err != nil {
				return nil, err
			}
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

// AdoptResult is §4.P step 5's return value.
type AdoptResult struct {
	RunID            string
	WinnerAttemptID  string
	WinnerScore      float64
	KnowledgeApplied int
}

// Adopt implements §4.P's adoption procedure: score completed attempts
// by pairwise wins, pull the winner's learn_complete knowledge through
// the Repository, and re-render the guidance document. A nil logger
// discards the winner-selection line it emits.
func Adopt(r *repo.Repository, runID, projectID, guidanceDoc string, logger *slog.Logger) (AdoptResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	outcomes, err := r.ListJudgeOutcomesByRun(runID)
	if err != nil {
		return AdoptResult{}, err
	}
	if len(outcomes) == 0 {
		return AdoptResult{}, apperr.State("bbon: adoption requires at least one judge outcome")
	}

	attempts, err := completedAttempts(r, runID)
	if err != nil {
		return AdoptResult{}, err
	}
	if len(attempts) == 0 {
		return AdoptResult{}, apperr.State("bbon: adoption requires at least one completed attempt")
	}

	type tally struct {
		attempt repo.Attempt
		wins    int
		score   float64
	}
	tallies := make(map[string]*tally, len(attempts))
	for _, a := range attempts {
		tallies[a.ID] = &tally{attempt: a}
	}
	for _, o := range outcomes {
		t, ok := tallies[o.WinnerAttemptID]
		if !ok {
			continue
		}
		t.wins++
		t.score += o.Confidence
	}

	ranked := make([]*tally, 0, len(tallies))
	for _, t := range tallies {
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].wins != ranked[j].wins {
			return ranked[i].wins > ranked[j].wins
		}
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].attempt.Ordinal < ranked[j].attempt.Ordinal
	})
	winner := ranked[0]
	logger.Info("bbon adoption winner", "runId", canonical.ShortID(runID),
		"attemptId", canonical.ShortID(winner.attempt.ID), "ordinal", winner.attempt.Ordinal,
		"wins", winner.wins, "score", winner.score)

	steps, err := r.ListAttemptSteps(winner.attempt.ID)
	if err != nil {
		return AdoptResult{}, err
	}
	applied := 0
	for _, s := range steps {
		if s.Kind != stepKindLearnComplete {
			continue
		}
		items, _ := s.Output["knowledgeItems"].([]any)
		for _, raw := range items {
			text, ok := raw.(string)
			if !ok || text == "" {
				continue
			}
			if _, err := r.AddKnowledgeItem("pattern", text, "bbon", "", nil, 0.8); err != nil {
				return AdoptResult{}, err
			}
			applied++
		}
	}

	if _, err := apply.Run(r, projectID, guidanceDoc); err != nil {
		return AdoptResult{}, err
	}

	return AdoptResult{
		RunID:            runID,
		WinnerAttemptID:  winner.attempt.ID,
		WinnerScore:      winner.score,
		KnowledgeApplied: applied,
	}, nil
}

func completedAttempts(r *repo.Repository, runID string) ([]repo.Attempt, error) {
	attempts, err := r.ListAttemptsByRun(runID)
	if err != nil {
		return nil, err
	}
	out := make([]repo.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Status == repo.AttemptCompleted {
			out = append(out, a)
		}
	}
	return out, nil
}
