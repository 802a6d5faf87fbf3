package learn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/engramhq/engram/internal/apply"
	"github.com/engramhq/engram/internal/audit"
	"github.com/engramhq/engram/internal/repo"
	"github.com/engramhq/engram/internal/store"
)

func newTestProject(t *testing.T) (*repo.Repository, Options) {
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
	return r, Options{DBPath: dbPath, GuidanceDoc: docPath, ProjectID: "proj-1"}
}

func TestRun_FullLearningCycle(t *testing.T) {
	t.Parallel()
	r, opts := newTestProject(t)

	if _, err := r.AddTrace("subj-1", "fix types", "", []repo.Execution{
		{Runner: "tsc", Command: "tsc --noEmit", Status: "fail", Errors: []repo.ErrorEntry{
			{Tool: "tsc", Severity: "error", Message: "Property does not exist on type", File: "src/test.ts", Line: 10},
		}},
	}, "failure", nil); err != nil {
		t.Fatalf("AddTrace: %v", err)
	}

	res, err := Run(r, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reflect.TraceCount != 1 {
		t.Fatalf("Reflect.TraceCount = %d, want 1", res.Reflect.TraceCount)
	}
	if res.Reflect.InsightCount < 1 {
		t.Fatalf("Reflect.InsightCount = %d, want >= 1", res.Reflect.InsightCount)
	}
	if res.Curate.Promoted < 1 {
		t.Fatalf("Curate.Promoted = %d, want >= 1", res.Curate.Promoted)
	}
	if !res.Apply.Rendered {
		t.Fatalf("Apply.Rendered = false, want true")
	}

	raw, err := os.ReadFile(opts.GuidanceDoc)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(raw)
	if !strings.Contains(content, apply.BeginMarker) || !strings.Contains(content, apply.EndMarker) {
		t.Fatalf("guidance document missing markers: %s", content)
	}
	if !strings.Contains(content, "Property does not exist on type") {
		t.Fatalf("guidance document missing promoted knowledge: %s", content)
	}
}

func TestRun_DeduplicatesAcrossTwoIdenticalTraces(t *testing.T) {
	t.Parallel()
	r, opts := newTestProject(t)

	execs := []repo.Execution{
		{Runner: "eslint", Command: "eslint .", Status: "fail", Errors: []repo.ErrorEntry{
			{Tool: "eslint", Severity: "error", Message: "no-unused-vars", File: "src/a.ts", Line: 1},
		}},
	}
	if _, err := r.AddTrace("subj-1", "", "", execs, "failure", nil); err != nil {
		t.Fatalf("AddTrace: %v", err)
	}
	if _, err := r.AddTrace("subj-2", "", "", execs, "failure", nil); err != nil {
		t.Fatalf("AddTrace: %v", err)
	}

	if _, err := Run(r, opts); err != nil {
		t.Fatalf("Run (1st): %v", err)
	}
	second, err := Run(r, opts)
	if err != nil {
		t.Fatalf("Run (2nd): %v", err)
	}
	if second.Curate.Promoted != 0 {
		t.Fatalf("Curate.Promoted on 2nd run = %d, want 0", second.Curate.Promoted)
	}

	items, err := r.ListKnowledgeItems(repo.KnowledgeItemFilter{Type: "pattern"})
	if err != nil {
		t.Fatalf("ListKnowledgeItems: %v", err)
	}
	count := 0
	for _, it := range items {
		if it.Text == "no-unused-vars" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("knowledge items with that text = %d, want 1", count)
	}
}

func TestPreflight_MissingMarkersFails(t *testing.T) {
	t.Parallel()
	r, opts := newTestProject(t)
	if err := os.WriteFile(opts.GuidanceDoc, []byte("no markers"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Run(r, opts); err == nil {
		t.Fatalf("Run: want error, got nil")
	}
}

