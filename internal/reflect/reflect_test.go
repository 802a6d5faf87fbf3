package reflect

import (
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/internal/audit"
	"github.com/engramhq/engram/internal/repo"
	"github.com/engramhq/engram/internal/store"
)

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	eng := store.NewEngine()
	db, err := eng.Open(filepath.Join(t.TempDir(), "engram.db"), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = eng.CloseAll() })
	if _, err := store.RunMigrations(db, store.Migrations); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	auditStore, err := audit.Open(filepath.Join(t.TempDir(), "snapshots"), nil)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	return repo.New(db, auditStore, nil)
}

func addFailedTrace(t *testing.T, r *repo.Repository, subjectID, message string) {
	t.Helper()
	_, err := r.AddTrace(subjectID, "", "", []repo.Execution{{
		Runner: "tsc", Command: "tsc --noEmit", Status: "fail",
		Errors: []repo.ErrorEntry{{Tool: "tsc", Severity: "error", Message: message, File: "src/test.ts", Line: 1}},
	}}, "failure", nil)
	if err != nil {
		t.Fatalf("AddTrace: %v", err)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	res, err := Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TraceCount != 0 || res.InsightCount != 0 {
		t.Fatalf("Result = %+v, want zero everything", res)
	}
}

func TestRun_SingleFailure(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	addFailedTrace(t, r, "subj-1", "Property does not exist on type")

	res, err := Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TraceCount != 1 || res.InsightCount != 1 {
		t.Fatalf("Result = %+v, want 1,1", res)
	}
	if res.Summaries[0].Pattern != "tsc error in src/test.ts" {
		t.Fatalf("Pattern = %q", res.Summaries[0].Pattern)
	}
	if res.Summaries[0].Confidence != 1.0 {
		t.Fatalf("Confidence = %v, want 1.0 (1/1 failed traces)", res.Summaries[0].Confidence)
	}
}

func TestRun_BelowThresholdSkipped(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	addFailedTrace(t, r, "subj-1", "rare message")
	addFailedTrace(t, r, "subj-2", "other message entirely")
	addFailedTrace(t, r, "subj-3", "a third distinct message")

	res, err := Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Each message occurs in exactly 1 of 3 failed traces: confidence = 1/3 < 0.5.
	if res.InsightCount != 0 {
		t.Fatalf("InsightCount = %d, want 0 (all below threshold)", res.InsightCount)
	}
}

func TestRun_SkipsAlreadyStoredPattern(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	addFailedTrace(t, r, "subj-1", "boom")

	first, err := Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.InsightCount != 1 {
		t.Fatalf("first InsightCount = %d, want 1", first.InsightCount)
	}

	second, err := Run(r)
	if err != nil {
		t.Fatalf("Run (2nd): %v", err)
	}
	if second.InsightCount != 0 {
		t.Fatalf("second InsightCount = %d, want 0 (already stored)", second.InsightCount)
	}
}
