// Package learn composes the learning pipeline's three stages —
// reflect, curate, apply — into the single orchestrated operation of
// §4.L. It mirrors the teacher's knowledgegen generator: a staged
// pipeline where any step's failure is wrapped with the step's name and
// re-raised without attempting to undo earlier steps' side effects.
package learn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/apply"
	"github.com/engramhq/engram/internal/curate"
	"github.com/engramhq/engram/internal/reflect"
	"github.com/engramhq/engram/internal/repo"
)

// Result is the combined outcome of one Learn call, one field per stage
// plus the field §9 Open Question 2 requires the orchestrator itself
// emit: KnowledgeItems carries the text of every item Curate promoted
// this run, independent of what Apply returns (Apply only emits counts).
type Result struct {
	Reflect        reflect.Result
	Curate         curate.Result
	Apply          apply.Result
	KnowledgeItems []string
}

// Options configures a Learn call; when HasCurateThreshold is unset,
// Curate's own default (0.8, §4.I) applies.
type Options struct {
	DBPath             string
	GuidanceDoc        string
	ProjectID          string
	CurateThreshold    float64
	HasCurateThreshold bool
}

func (o Options) curateThreshold() float64 {
	if o.HasCurateThreshold {
		return o.CurateThreshold
	}
	return curate.DefaultThreshold
}

// Preflight implements §4.L's precondition check: the database file
// must exist, and the guidance document must exist and contain both
// markers in the correct order.
func Preflight(opts Options) error {
	if _, err := os.Stat(opts.DBPath); err != nil {
		return apperr.State(fmt.Sprintf("learn: preflight: database not found at %s", opts.DBPath))
	}

	raw, err := os.ReadFile(opts.GuidanceDoc)
	if err != nil {
		return apperr.State(fmt.Sprintf("learn: preflight: guidance document not found at %s", opts.GuidanceDoc))
	}
	content := string(raw)
	beginIdx := strings.Index(content, apply.BeginMarker)
	endIdx := strings.Index(content, apply.EndMarker)
	if beginIdx < 0 || endIdx < 0 || endIdx < beginIdx {
		return apperr.State("learn: preflight: guidance document missing LEARNED_PATTERNS markers in correct order")
	}
	return nil
}

// Run executes preflight -> Reflect -> Curate -> Apply in sequence
// against r (§4.L). On any step's failure the error is wrapped naming
// the step and returned immediately; earlier steps' writes are left in
// place, relying on their idempotence for safe reruns (§5
// Cancellation).
func Run(r *repo.Repository, opts Options) (Result, error) {
	if err := Preflight(opts); err != nil {
		return Result{}, fmt.Errorf("preflight step failed: %w", err)
	}

	reflectResult, err := reflect.Run(r)
	if err != nil {
		return Result{}, fmt.Errorf("reflect step failed: %w", err)
	}

	beforeKnowledge, err := r.ListKnowledgeItems(repo.KnowledgeItemFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("curate step failed: %w", err)
	}
	beforeIDs := make(map[string]bool, len(beforeKnowledge))
	for _, k := range beforeKnowledge {
		beforeIDs[k.ID] = true
	}

	curateResult, err := curate.Run(r, opts.curateThreshold())
	if err != nil {
		return Result{}, fmt.Errorf("curate step failed: %w", err)
	}

	afterKnowledge, err := r.ListKnowledgeItems(repo.KnowledgeItemFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("curate step failed: %w", err)
	}
	var newText []string
	for _, k := range afterKnowledge {
		if !beforeIDs[k.ID] {
			newText = append(newText, k.Text)
		}
	}

	applyResult, err := apply.Run(r, opts.ProjectID, opts.GuidanceDoc)
	if err != nil {
		return Result{}, fmt.Errorf("apply step failed: %w", err)
	}

	return Result{
		Reflect:        reflectResult,
		Curate:         curateResult,
		Apply:          applyResult,
		KnowledgeItems: newText,
	}, nil
}

// DefaultDBPath and DefaultGuidanceDoc mirror §6's fixed per-project
// layout under <cwd>/.engram/.
func DefaultDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".engram", "engram.db")
}

func DefaultGuidanceDoc(projectRoot string) string {
	return filepath.Join(projectRoot, ".engram", "GUIDANCE.md")
}
