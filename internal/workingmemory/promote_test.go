package workingmemory

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

func TestClassify_DecisionBeatsInvariant(t *testing.T) {
	t.Parallel()
	kind := Classify("never mutate shared state", "this requires a lock")
	if kind != "decision" {
		t.Fatalf("Classify = %q, want decision", kind)
	}
}

func TestClassify_FallsBackToSummary(t *testing.T) {
	t.Parallel()
	kind := Classify("errors cluster in the parser", "seen across three runs")
	if kind != "summary" {
		t.Fatalf("Classify = %q, want summary", kind)
	}
}

func TestRun_PromotesInsightsAboveThreshold(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	if _, err := r.AddInsight("missing null check", "always guard nullable fields", 0.9, 3, nil, nil); err != nil {
		t.Fatalf("AddInsight: %v", err)
	}
	if _, err := r.AddInsight("rare formatting quirk", "observed once", 0.2, 1, nil, nil); err != nil {
		t.Fatalf("AddInsight: %v", err)
	}

	res, err := Run(r, "proj-1", DefaultThreshold)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Promoted != 1 {
		t.Fatalf("Promoted = %d, want 1", res.Promoted)
	}
}

func TestRun_RejectsThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)
	if _, err := Run(r, "proj-1", 1.5); err == nil {
		t.Fatalf("expected error for out-of-range threshold")
	}
}

func TestRun_IsIdempotentOnRepeatedInvocation(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	if _, err := r.AddInsight("missing await", "must await async calls", 0.95, 5, nil, nil); err != nil {
		t.Fatalf("AddInsight: %v", err)
	}

	first, err := Run(r, "proj-1", DefaultThreshold)
	if err != nil {
		t.Fatalf("Run (first): %v", err)
	}
	second, err := Run(r, "proj-1", DefaultThreshold)
	if err != nil {
		t.Fatalf("Run (second): %v", err)
	}
	if first.Promoted != second.Promoted {
		t.Fatalf("Promoted counts differ across reruns: %d vs %d", first.Promoted, second.Promoted)
	}
}
