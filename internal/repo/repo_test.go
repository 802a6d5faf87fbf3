package repo

import (
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/internal/audit"
	"github.com/engramhq/engram/internal/store"
)

func newTestRepo(t *testing.T) *Repository {
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

	return New(db, auditStore, nil)
}

func TestAddKnowledgeItem_Idempotent(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	a, err := r.AddKnowledgeItem("pattern", "prefer X over Y", "repo", "", []string{"go"}, 0.9)
	if err != nil {
		t.Fatalf("AddKnowledgeItem: %v", err)
	}
	b, err := r.AddKnowledgeItem("pattern", "prefer X over Y", "repo", "", []string{"go"}, 0.9)
	if err != nil {
		t.Fatalf("AddKnowledgeItem (2nd): %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("ids differ across identical add calls: %s != %s", a.ID, b.ID)
	}

	items, err := r.ListKnowledgeItems(KnowledgeItemFilter{})
	if err != nil {
		t.Fatalf("ListKnowledgeItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("row count = %d, want 1 after duplicate add", len(items))
	}
}

func TestAddKnowledgeItem_RejectsBadType(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	_, err := r.AddKnowledgeItem("nonsense", "x", "repo", "", nil, 0.5)
	if err == nil {
		t.Fatalf("AddKnowledgeItem: want ValidationError, got nil")
	}
}

func TestUpdateKnowledgeItemFeedback_Increments(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	item, err := r.AddKnowledgeItem("fact", "x is true", "repo", "", nil, 0.7)
	if err != nil {
		t.Fatalf("AddKnowledgeItem: %v", err)
	}

	deltas := [][2]int{{1, 0}, {2, 1}, {0, 3}}
	for _, d := range deltas {
		if _, err := r.UpdateKnowledgeItemFeedback(item.ID, d[0], d[1]); err != nil {
			t.Fatalf("UpdateKnowledgeItemFeedback: %v", err)
		}
	}

	updated, err := r.GetKnowledgeItem(item.ID)
	if err != nil {
		t.Fatalf("GetKnowledgeItem: %v", err)
	}
	if updated.Helpful != 3 || updated.Harmful != 4 {
		t.Fatalf("helpful=%d harmful=%d, want 3,4", updated.Helpful, updated.Harmful)
	}
}

func TestAttempt_StateMachine(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	task, err := r.AddTask("subj", map[string]any{"goal": "ship it"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	run, err := r.AddRun(task.ID, 3, 1, nil)
	if err != nil {
		t.Fatalf("AddRun: %v", err)
	}
	attempt, err := r.AddAttempt(run.ID, 0)
	if err != nil {
		t.Fatalf("AddAttempt: %v", err)
	}
	if attempt.Status != AttemptPending {
		t.Fatalf("initial status = %q, want pending", attempt.Status)
	}

	if _, err := r.UpdateAttempt(attempt.ID, AttemptUpdate{Status: AttemptCompleted, SetStatus: true}); err == nil {
		t.Fatalf("pending -> completed: want error, got nil")
	}

	if _, err := r.UpdateAttempt(attempt.ID, AttemptUpdate{Status: AttemptRunning, SetStatus: true}); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if _, err := r.UpdateAttempt(attempt.ID, AttemptUpdate{
		Status: AttemptCompleted, SetStatus: true,
		CompletedAt: "2026-01-01T00:00:00Z", SetComplete: true,
	}); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}

	if _, err := r.UpdateAttempt(attempt.ID, AttemptUpdate{Status: AttemptRunning, SetStatus: true}); err == nil {
		t.Fatalf("completed -> running: want error (terminal state), got nil")
	}

	final, err := r.GetAttempt(attempt.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if final.Status != AttemptCompleted || final.CompletedAt == "" {
		t.Fatalf("final attempt = %+v, want completed with completedAt", final)
	}
}

func TestAttempt_UniqueOrdinalViaID(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	task, _ := r.AddTask("subj", nil)
	run, _ := r.AddRun(task.ID, 3, 1, nil)

	a1, err := r.AddAttempt(run.ID, 0)
	if err != nil {
		t.Fatalf("AddAttempt: %v", err)
	}
	a2, err := r.AddAttempt(run.ID, 0)
	if err != nil {
		t.Fatalf("AddAttempt (same ordinal): %v", err)
	}
	if a1.ID != a2.ID {
		t.Fatalf("same (runId,ordinal) produced different ids: %s != %s", a1.ID, a2.ID)
	}
}

func TestJudgePair_UnorderedCanonicalization(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	task, _ := r.AddTask("subj", nil)
	run, _ := r.AddRun(task.ID, 3, 1, nil)
	a1, _ := r.AddAttempt(run.ID, 0)
	a2, _ := r.AddAttempt(run.ID, 1)

	p1, err := r.FindOrCreateJudgePair(run.ID, a1.ID, a2.ID, "v1")
	if err != nil {
		t.Fatalf("FindOrCreateJudgePair: %v", err)
	}
	p2, err := r.FindOrCreateJudgePair(run.ID, a2.ID, a1.ID, "v1")
	if err != nil {
		t.Fatalf("FindOrCreateJudgePair (swapped): %v", err)
	}
	if p1.ID != p2.ID {
		t.Fatalf("swapped attempt order produced different pair ids: %s != %s", p1.ID, p2.ID)
	}

	pairs, err := r.ListJudgePairsByRun(run.ID)
	if err != nil {
		t.Fatalf("ListJudgePairsByRun: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("pair count = %d, want 1", len(pairs))
	}
}

func TestJudgeOutcome_AtMostOnePerPair(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	task, _ := r.AddTask("subj", nil)
	run, _ := r.AddRun(task.ID, 3, 1, nil)
	a1, _ := r.AddAttempt(run.ID, 0)
	a2, _ := r.AddAttempt(run.ID, 1)
	pair, _ := r.FindOrCreateJudgePair(run.ID, a1.ID, a2.ID, "v1")

	if _, err := r.AddJudgeOutcome(pair.ID, a1.ID, 0.8, "a wins", nil, "stub"); err != nil {
		t.Fatalf("AddJudgeOutcome: %v", err)
	}
	if _, err := r.AddJudgeOutcome(pair.ID, a2.ID, 0.9, "b wins instead", nil, "stub"); err == nil {
		t.Fatalf("second distinct outcome for same pair: want ConflictError, got nil")
	}

	// Identical resubmission is a no-op, not a conflict.
	if _, err := r.AddJudgeOutcome(pair.ID, a1.ID, 0.8, "a wins", nil, "stub"); err != nil {
		t.Fatalf("AddJudgeOutcome (identical resubmit): %v", err)
	}
}

func TestShortTermMemory_UpsertReplacesValue(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	task, _ := r.AddTask("subj", nil)
	run, _ := r.AddRun(task.ID, 3, 1, nil)

	first, err := r.UpsertShortTermMemory(run.ID, "cursor", map[string]any{"n": 1.0})
	if err != nil {
		t.Fatalf("UpsertShortTermMemory: %v", err)
	}
	second, err := r.UpsertShortTermMemory(run.ID, "cursor", map[string]any{"n": 2.0})
	if err != nil {
		t.Fatalf("UpsertShortTermMemory (2nd): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("id changed across value-only upsert: %s != %s", first.ID, second.ID)
	}
	if second.Value["n"] != 2.0 {
		t.Fatalf("value = %v, want replaced n=2", second.Value)
	}
}

func TestClearShortTermMemory_BulkDelete(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	task, _ := r.AddTask("subj", nil)
	run, _ := r.AddRun(task.ID, 3, 1, nil)
	_, _ = r.UpsertShortTermMemory(run.ID, "a", nil)
	_, _ = r.UpsertShortTermMemory(run.ID, "b", nil)

	n, err := r.ClearShortTermMemory(run.ID)
	if err != nil {
		t.Fatalf("ClearShortTermMemory: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d, want 2", n)
	}

	remaining, err := r.ListShortTermMemory(run.ID)
	if err != nil {
		t.Fatalf("ListShortTermMemory: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("remaining = %d, want 0", len(remaining))
	}
}

func TestWorkingMemory_ContentChangeYieldsNewID(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	wm1, err := r.UpsertWorkingMemory("proj", "summary", "v1 text", nil)
	if err != nil {
		t.Fatalf("UpsertWorkingMemory: %v", err)
	}
	wm2, err := r.UpsertWorkingMemory("proj", "summary", "v2 text", map[string]any{"source": "run-1"})
	if err != nil {
		t.Fatalf("UpsertWorkingMemory (changed content): %v", err)
	}
	if wm1.ID == wm2.ID {
		t.Fatalf("content-changing upsert kept the same id: %s", wm1.ID)
	}

	all, err := r.ListWorkingMemoryByProject("proj")
	if err != nil {
		t.Fatalf("ListWorkingMemoryByProject: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("row count = %d, want 2 (both content versions kept)", len(all))
	}
}

func TestWorkingMemory_SameContentUpdatesProvenanceInPlace(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	wm1, err := r.UpsertWorkingMemory("proj", "invariant", "never do X", nil)
	if err != nil {
		t.Fatalf("UpsertWorkingMemory: %v", err)
	}
	wm2, err := r.UpsertWorkingMemory("proj", "invariant", "never do X", map[string]any{"insightId": "abc"})
	if err != nil {
		t.Fatalf("UpsertWorkingMemory (same content): %v", err)
	}
	if wm1.ID != wm2.ID {
		t.Fatalf("same content produced different ids: %s != %s", wm1.ID, wm2.ID)
	}
	if wm2.Provenance["insightId"] != "abc" {
		t.Fatalf("provenance not updated: %v", wm2.Provenance)
	}

	all, err := r.ListWorkingMemoryByProject("proj")
	if err != nil {
		t.Fatalf("ListWorkingMemoryByProject: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("row count = %d, want 1 (in-place update)", len(all))
	}
}

func TestTrace_Idempotent(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	execs := []Execution{{
		Runner: "tsc", Command: "tsc --noEmit", Status: "fail",
		Errors: []ErrorEntry{{Tool: "tsc", Severity: "error", Message: "boom", File: "a.ts", Line: 1}},
	}}

	t1, err := r.AddTrace("subj", "", "", execs, "failure", nil)
	if err != nil {
		t.Fatalf("AddTrace: %v", err)
	}
	t2, err := r.AddTrace("subj", "", "", execs, "failure", nil)
	if err != nil {
		t.Fatalf("AddTrace (2nd): %v", err)
	}
	if t1.ID != t2.ID {
		t.Fatalf("identical trace payload produced different ids: %s != %s", t1.ID, t2.ID)
	}

	traces, err := r.ListTracesByOutcome("failure")
	if err != nil {
		t.Fatalf("ListTracesByOutcome: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("row count = %d, want 1", len(traces))
	}
	if len(traces[0].Executions) != 1 || traces[0].Executions[0].Errors[0].Message != "boom" {
		t.Fatalf("round-tripped executions malformed: %+v", traces[0].Executions)
	}
}

func TestInsight_FindByPatternDescription(t *testing.T) {
	t.Parallel()
	r := newTestRepo(t)

	_, err := r.AddInsight("tsc error in a.ts", "boom", 0.6, 1, []string{"subj"}, []string{"tsc"})
	if err != nil {
		t.Fatalf("AddInsight: %v", err)
	}

	found, err := r.FindInsightByPatternDescription("tsc error in a.ts", "boom")
	if err != nil {
		t.Fatalf("FindInsightByPatternDescription: %v", err)
	}
	if found == nil {
		t.Fatalf("FindInsightByPatternDescription: want a match, got nil")
	}

	missing, err := r.FindInsightByPatternDescription("tsc error in a.ts", "different message")
	if err != nil {
		t.Fatalf("FindInsightByPatternDescription (miss): %v", err)
	}
	if missing != nil {
		t.Fatalf("FindInsightByPatternDescription (miss): want nil, got %+v", missing)
	}
}
