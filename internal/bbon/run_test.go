package bbon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/internal/apply"
	"github.com/engramhq/engram/internal/audit"
	"github.com/engramhq/engram/internal/learn"
	"github.com/engramhq/engram/internal/llm"
	"github.com/engramhq/engram/internal/repo"
	"github.com/engramhq/engram/internal/store"
)

func newTestProject(t *testing.T) (*repo.Repository, learn.Options) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "engram.db")

	eng := store.NewEngine()
	db, err := eng.Open(dbPath, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = eng.CloseAll() })
	if _, err := store.RunMigrations(db, store.Migrations); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	auditStore, err := audit.Open(filepath.Join(dir, "snapshots"), nil)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	docPath := filepath.Join(dir, "GUIDANCE.md")
	content := "# Guidance\n\n" + apply.BeginMarker + "\n" + apply.EndMarker + "\n"
	if err := os.WriteFile(docPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := repo.New(db, auditStore, nil)
	opts := learn.Options{DBPath: dbPath, GuidanceDoc: docPath, ProjectID: "proj-1"}
	return r, opts
}

// fakeProvider returns a fixed winner for every Complete call, so tests
// can drive the judge deterministically without network access.
type fakeProvider struct {
	winner     string
	confidence float64
}

func (f fakeProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	return `{"winner":"` + f.winner + `","confidence":` + floatLiteral(f.confidence) + `,"rationale":"fixture verdict"}`, nil
}

func floatLiteral(f float64) string {
	if f == 1 {
		return "1"
	}
	if f == 0 {
		return "0"
	}
	return "0.9"
}

func TestRun_CreatesNCompletedAttempts(t *testing.T) {
	t.Parallel()
	r, learnOpts := newTestProject(t)

	spec := TaskSpec{Goal: "fix the build"}
	result, err := Run(r, spec, RunOptions{N: 2, HasN: true, Seed: 42, HasSeed: true, LearnOpts: learnOpts})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("len(Attempts) = %d, want 2", len(result.Attempts))
	}
	for _, a := range result.Attempts {
		if a.Status != repo.AttemptCompleted {
			t.Fatalf("attempt %s status = %s, want completed", a.ID, a.Status)
		}
	}

	attempts, err := r.ListAttemptsByRun(result.RunID)
	if err != nil {
		t.Fatalf("ListAttemptsByRun: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("stored attempts = %d, want 2", len(attempts))
	}
	for _, a := range attempts {
		steps, err := r.ListAttemptSteps(a.ID)
		if err != nil {
			t.Fatalf("ListAttemptSteps: %v", err)
		}
		if len(steps) != 2 {
			t.Fatalf("attempt %s has %d steps, want 2 (reflect, learn_complete)", a.ID, len(steps))
		}
	}
}

func TestRun_MarksAttemptFailedWhenLearnPreflightFails(t *testing.T) {
	t.Parallel()
	r, learnOpts := newTestProject(t)
	learnOpts.GuidanceDoc = filepath.Join(t.TempDir(), "missing.md")

	result, err := Run(r, TaskSpec{Goal: "x"}, RunOptions{N: 1, HasN: true, LearnOpts: learnOpts})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Status != repo.AttemptFailed {
		t.Fatalf("Attempts = %+v, want one failed attempt", result.Attempts)
	}

	steps, err := r.ListAttemptSteps(result.Attempts[0].ID)
	if err != nil {
		t.Fatalf("ListAttemptSteps: %v", err)
	}
	found := false
	for _, s := range steps {
		if s.Kind == stepKindError {
			found = true
		}
	}
	if !found {
		t.Fatalf("steps = %+v, want an error-kind step", steps)
	}
}

func TestDriveJudgingAndAdopt_EndToEnd(t *testing.T) {
	t.Parallel()
	r, learnOpts := newTestProject(t)

	if _, err := r.AddTrace("subj-1", "", "", []repo.Execution{
		{Runner: "tsc", Command: "tsc", Status: "fail", Errors: []repo.ErrorEntry{
			{Tool: "tsc", Severity: "error", Message: "type mismatch", File: "a.ts", Line: 1},
		}},
	}, "failure", nil); err != nil {
		t.Fatalf("AddTrace: %v", err)
	}

	result, err := Run(r, TaskSpec{Goal: "fix types"}, RunOptions{N: 2, HasN: true, Seed: 1, HasSeed: true, LearnOpts: learnOpts})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	provider := fakeProvider{winner: "A", confidence: 0.9}
	outcomes, err := DriveJudging(context.Background(), r, provider, result.RunID, JudgeConfig{Model: "test-model", PromptVersion: PromptVersionV1})
	if err != nil {
		t.Fatalf("DriveJudging: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("len(outcomes) = %d, want 1 (C(2,2)=1 pair)", len(outcomes))
	}

	again, err := DriveJudging(context.Background(), r, provider, result.RunID, JudgeConfig{Model: "test-model", PromptVersion: PromptVersionV1})
	if err != nil {
		t.Fatalf("DriveJudging (cached): %v", err)
	}
	if again[0].ID != outcomes[0].ID {
		t.Fatalf("DriveJudging did not reuse the cached outcome")
	}

	adopted, err := Adopt(r, result.RunID, "proj-1", learnOpts.GuidanceDoc, nil)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if adopted.WinnerAttemptID == "" {
		t.Fatalf("WinnerAttemptID is empty")
	}
}

func TestAdopt_FailsWithoutOutcomes(t *testing.T) {
	t.Parallel()
	r, learnOpts := newTestProject(t)
	result, err := Run(r, TaskSpec{Goal: "x"}, RunOptions{N: 1, HasN: true, LearnOpts: learnOpts})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := Adopt(r, result.RunID, "proj-1", learnOpts.GuidanceDoc, nil); err == nil {
		t.Fatalf("Adopt: want error with no judge outcomes, got nil")
	}
}
