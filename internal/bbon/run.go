package bbon

import (
	"io"
	"log/slog"
	"time"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
	"github.com/engramhq/engram/internal/learn"
	"github.com/engramhq/engram/internal/repo"
)

const (
	// DefaultN is §4.M step 2's default attempt count.
	DefaultN = 3

	stepKindReflect      = "reflect"
	stepKindLearnComplete = "learn_complete"
	stepKindError        = "error"
)

// RunOptions configures one bBoN run. N and Seed default per §4.M step
// 2 when their Has* flag is unset. LearnOpts.GuidanceDoc and
// LearnOpts.DBPath are required; each attempt invokes the Learn
// orchestrator against the same project.
type RunOptions struct {
	N       int
	HasN    bool
	Seed    int64
	HasSeed bool

	LearnOpts learn.Options

	// Logger receives one Info line per attempt transition and one Warn
	// line per failed attempt. A nil Logger discards them.
	Logger *slog.Logger
}

func (o RunOptions) n() int {
	if o.HasN {
		return o.N
	}
	return DefaultN
}

func (o RunOptions) seed() int64 {
	if o.HasSeed {
		return o.Seed
	}
	return time.Now().UnixNano()
}

func (o RunOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// AttemptSummary is one entry of Run's returned summary.
type AttemptSummary struct {
	ID      string
	Ordinal int
	Status  string
	Result  map[string]any
}

// RunResult is §4.M step 4's return value.
type RunResult struct {
	TaskID   string
	RunID    string
	Attempts []AttemptSummary
}

// Run executes the bBoN orchestrator (§4.M) against a validated task
// spec: create a Task and a Run, then run n attempts sequentially
// (§5 concurrency model — attempts share one guidance document, so
// they must not run concurrently by default).
func Run(r *repo.Repository, spec TaskSpec, opts RunOptions) (RunResult, error) {
	if r == nil {
		return RunResult{}, apperr.InvalidInput("bbon: nil repository")
	}
	if opts.LearnOpts.GuidanceDoc == "" || opts.LearnOpts.DBPath == "" {
		return RunResult{}, apperr.InvalidInput("bbon: missing guidance document or database path")
	}

	task, err := r.AddTask(spec.SubjectID, spec.AsMap())
	if err != nil {
		return RunResult{}, err
	}

	run, err := r.AddRun(task.ID, opts.n(), opts.seed(), nil)
	if err != nil {
		return RunResult{}, err
	}

	log := opts.logger()
	log.Info("bbon run started", "runId", canonical.ShortID(run.ID), "taskId", canonical.ShortID(task.ID), "n", run.N)

	result := RunResult{TaskID: task.ID, RunID: run.ID}
	for ordinal := 0; ordinal < run.N; ordinal++ {
		summary, err := runAttempt(r, run.ID, ordinal, spec, opts.LearnOpts, log)
		if err != nil {
			return RunResult{}, err
		}
		result.Attempts = append(result.Attempts, summary)
		if summary.Status == repo.AttemptFailed {
			log.Warn("bbon attempt failed", "attemptId", canonical.ShortID(summary.ID), "ordinal", summary.Ordinal)
		} else {
			log.Info("bbon attempt completed", "attemptId", canonical.ShortID(summary.ID), "ordinal", summary.Ordinal)
		}
	}
	return result, nil
}

// runAttempt executes §4.M step 3 for one ordinal: pending -> running,
// a reflect step, the learn cycle, then completed or failed. Any
// repository error (as opposed to a learn-step failure) is returned
// directly since it indicates the store itself is unusable.
func runAttempt(r *repo.Repository, runID string, ordinal int, spec TaskSpec, learnOpts learn.Options, log *slog.Logger) (AttemptSummary, error) {
	attempt, err := r.AddAttempt(runID, ordinal)
	if err != nil {
		return AttemptSummary{}, err
	}
	log.Info("bbon attempt started", "attemptId", canonical.ShortID(attempt.ID), "ordinal", ordinal)
	attempt, err = r.UpdateAttempt(attempt.ID, repo.AttemptUpdate{Status: repo.AttemptRunning, SetStatus: true})
	if err != nil {
		return AttemptSummary{}, err
	}

	if _, err := r.AddAttemptStep(attempt.ID, 0, stepKindReflect, spec.AsMap(), nil, nil); err != nil {
		return AttemptSummary{}, err
	}

	learnResult, learnErr := learn.Run(r, learnOpts)
	if learnErr != nil {
		if _, err := r.AddAttemptStep(attempt.ID, 1, stepKindError, nil, nil,
			map[string]any{"error": learnErr.Error()}); err != nil {
			return AttemptSummary{}, err
		}
		attempt, err = r.UpdateAttempt(attempt.ID, repo.AttemptUpdate{Status: repo.AttemptFailed, SetStatus: true})
		if err != nil {
			return AttemptSummary{}, err
		}
		return AttemptSummary{ID: attempt.ID, Ordinal: attempt.Ordinal, Status: attempt.Status, Result: attempt.Result}, nil
	}

	resultMap := learnResultToMap(learnResult)
	if _, err := r.AddAttemptStep(attempt.ID, 1, stepKindLearnComplete, nil, resultMap, nil); err != nil {
		return AttemptSummary{}, err
	}

	attempt, err = r.UpdateAttempt(attempt.ID, repo.AttemptUpdate{
		Status: repo.AttemptCompleted, SetStatus: true,
		Result: resultMap, SetResult: true,
		CompletedAt: nowISO(), SetComplete: true,
	})
	if err != nil {
		return AttemptSummary{}, err
	}
	return AttemptSummary{ID: attempt.ID, Ordinal: attempt.Ordinal, Status: attempt.Status, Result: attempt.Result}, nil
}

func learnResultToMap(res learn.Result) map[string]any {
	knowledgeItems := make([]any, len(res.KnowledgeItems))
	for i, text := range res.KnowledgeItems {
		knowledgeItems[i] = text
	}
	return map[string]any{
		"reflect": map[string]any{
			"traceCount":   res.Reflect.TraceCount,
			"insightCount": res.Reflect.InsightCount,
		},
		"curate": map[string]any{
			"promoted":      res.Curate.Promoted,
			"deduplicated":  res.Curate.Deduplicated,
		},
		"apply": map[string]any{
			"knowledgeCount":     res.Apply.KnowledgeCount,
			"workingMemoryCount": res.Apply.WorkingMemoryCount,
			"rendered":           res.Apply.Rendered,
		},
		"knowledgeItems": knowledgeItems,
	}
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
