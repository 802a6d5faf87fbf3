package bbon

import (
	"bytes"
	"fmt"

	"github.com/engramhq/engram/internal/canonical"
	"github.com/engramhq/engram/internal/repo"
)

// AlignedStep is one position-indexed pair of §4.N's alignedSteps.
// Left/Right are nil when that side has no step at this index.
type AlignedStep struct {
	Index int
	Left  *repo.AttemptStep
	Right *repo.AttemptStep
	Delta string
}

// ProsCons is §4.N's pros/cons breakdown: fewer errors and fewer steps
// are always pros for the side that has fewer of them.
type ProsCons struct {
	LeftPros  []string
	LeftCons  []string
	RightPros []string
	RightCons []string
}

// Diff is the narrative diff of two attempts (§4.N). It is computed
// purely from its inputs; calling it twice with the same attempts and
// steps produces byte-identical output.
type Diff struct {
	AlignedSteps []AlignedStep
	Deltas       []string
	ProsCons     ProsCons
	Summary      string
}

// AsMap materializes the diff into the opaque map shape JudgeOutcome
// stores its narrativeDiff column as.
func (d Diff) AsMap() map[string]any {
	aligned := make([]any, len(d.AlignedSteps))
	for i, a := range d.AlignedSteps {
		entry := map[string]any{"index": a.Index, "delta": a.Delta}
		if a.Left != nil {
			entry["left"] = a.Left.Kind
		}
		if a.Right != nil {
			entry["right"] = a.Right.Kind
		}
		aligned[i] = entry
	}
	deltas := make([]any, len(d.Deltas))
	for i, v := range d.Deltas {
		deltas[i] = v
	}
	return map[string]any{
		"alignedSteps": aligned,
		"deltas":       deltas,
		"prosCons": map[string]any{
			"leftPros":  toAnySlice(d.ProsCons.LeftPros),
			"leftCons":  toAnySlice(d.ProsCons.LeftCons),
			"rightPros": toAnySlice(d.ProsCons.RightPros),
			"rightCons": toAnySlice(d.ProsCons.RightCons),
		},
		"summary": d.Summary,
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// Compute builds the narrative diff between left and right, given each
// attempt's ordered step log (§4.N input).
func Compute(left, right repo.Attempt, leftSteps, rightSteps []repo.AttemptStep) Diff {
	d := Diff{}
	d.AlignedSteps = alignSteps(leftSteps, rightSteps)
	d.Deltas = computeDeltas(left, right, leftSteps, rightSteps)
	d.ProsCons = computeProsCons(left, right, leftSteps, rightSteps)
	d.Summary = composeSummary(left, right, d.Deltas, d.ProsCons)
	return d
}

func alignSteps(leftSteps, rightSteps []repo.AttemptStep) []AlignedStep {
	n := len(leftSteps)
	if len(rightSteps) > n {
		n = len(rightSteps)
	}
	out := make([]AlignedStep, 0, n)
	for i := 0; i < n; i++ {
		a := AlignedStep{Index: i}
		var l, r *repo.AttemptStep
		if i < len(leftSteps) {
			step := leftSteps[i]
			l = &step
		}
		if i < len(rightSteps) {
			step := rightSteps[i]
			r = &step
		}
		a.Left, a.Right = l, r
		a.Delta = stepDelta(l, r)
		out = append(out, a)
	}
	return out
}

func stepDelta(l, r *repo.AttemptStep) string {
	if l == nil && r != nil {
		return fmt.Sprintf("only right has a step at this position (kind=%s)", r.Kind)
	}
	if r == nil && l != nil {
		return fmt.Sprintf("only left has a step at this position (kind=%s)", l.Kind)
	}
	if l == nil && r == nil {
		return ""
	}
	if l.Kind != r.Kind {
		return fmt.Sprintf("kind differs: left=%s right=%s", l.Kind, r.Kind)
	}
	if !jsonEqual(l.Output, r.Output) {
		return "outputs differ"
	}
	if !jsonEqual(l.Observation, r.Observation) {
		return "observations differ"
	}
	return ""
}

func computeDeltas(left, right repo.Attempt, leftSteps, rightSteps []repo.AttemptStep) []string {
	var deltas []string

	if left.Status != right.Status {
		deltas = append(deltas, fmt.Sprintf("status: left=%s right=%s", left.Status, right.Status))
	}
	if len(leftSteps) != len(rightSteps) {
		deltas = append(deltas, fmt.Sprintf("steps.length: left=%d right=%d", len(leftSteps), len(rightSteps)))
	}

	leftErrors, rightErrors := countKind(leftSteps, stepKindError), countKind(rightSteps, stepKindError)
	if leftErrors != rightErrors {
		deltas = append(deltas, fmt.Sprintf("error steps: left=%d right=%d", leftErrors, rightErrors))
	}

	leftOut, leftHas := learnCompleteOutput(leftSteps)
	rightOut, rightHas := learnCompleteOutput(rightSteps)
	if leftHas != rightHas || (leftHas && rightHas && !jsonEqual(leftOut, rightOut)) {
		deltas = append(deltas, "learn_complete.output differs")
	}

	return deltas
}

func computeProsCons(left, right repo.Attempt, leftSteps, rightSteps []repo.AttemptStep) ProsCons {
	pc := ProsCons{}

	if left.Status == repo.AttemptCompleted && right.Status != repo.AttemptCompleted {
		pc.LeftPros = append(pc.LeftPros, "attempt completed")
		pc.RightCons = append(pc.RightCons, "attempt did not complete")
	} else if right.Status == repo.AttemptCompleted && left.Status != repo.AttemptCompleted {
		pc.RightPros = append(pc.RightPros, "attempt completed")
		pc.LeftCons = append(pc.LeftCons, "attempt did not complete")
	}

	leftErrors, rightErrors := countKind(leftSteps, stepKindError), countKind(rightSteps, stepKindError)
	if leftErrors < rightErrors {
		pc.LeftPros = append(pc.LeftPros, fmt.Sprintf("fewer errors (%d vs %d)", leftErrors, rightErrors))
		pc.RightCons = append(pc.RightCons, fmt.Sprintf("more errors (%d vs %d)", rightErrors, leftErrors))
	} else if rightErrors < leftErrors {
		pc.RightPros = append(pc.RightPros, fmt.Sprintf("fewer errors (%d vs %d)", rightErrors, leftErrors))
		pc.LeftCons = append(pc.LeftCons, fmt.Sprintf("more errors (%d vs %d)", leftErrors, rightErrors))
	}

	if len(leftSteps) < len(rightSteps) {
		pc.LeftPros = append(pc.LeftPros, fmt.Sprintf("fewer steps (%d vs %d)", len(leftSteps), len(rightSteps)))
		pc.RightCons = append(pc.RightCons, fmt.Sprintf("more steps (%d vs %d)", len(rightSteps), len(leftSteps)))
	} else if len(rightSteps) < len(leftSteps) {
		pc.RightPros = append(pc.RightPros, fmt.Sprintf("fewer steps (%d vs %d)", len(rightSteps), len(leftSteps)))
		pc.LeftCons = append(pc.LeftCons, fmt.Sprintf("more steps (%d vs %d)", len(leftSteps), len(rightSteps)))
	}

	return pc
}

func composeSummary(left, right repo.Attempt, deltas []string, pc ProsCons) string {
	leftShort, rightShort := canonical.ShortID(left.ID), canonical.ShortID(right.ID)
	leftScore, rightScore := len(pc.LeftPros)-len(pc.LeftCons), len(pc.RightPros)-len(pc.RightCons)

	summary := fmt.Sprintf("Comparing attempt %s (status=%s) against attempt %s (status=%s).", leftShort, left.Status, rightShort, right.Status)
	if len(deltas) > 0 {
		limit := len(deltas)
		if limit > 3 {
			limit = 3
		}
		summary += " Notable differences: "
		for i, d := range deltas[:limit] {
			if i > 0 {
				summary += "; "
			}
			summary += d
		}
		summary += "."
	} else {
		summary += " No structural differences were found."
	}

	switch {
	case leftScore > rightScore:
		summary += fmt.Sprintf(" Attempt %s has the stronger pros-minus-cons balance (%d vs %d).", leftShort, leftScore, rightScore)
	case rightScore > leftScore:
		summary += fmt.Sprintf(" Attempt %s has the stronger pros-minus-cons balance (%d vs %d).", rightShort, rightScore, leftScore)
	default:
		summary += fmt.Sprintf(" Both attempts tie on pros-minus-cons balance (%d each).", leftScore)
	}
	return summary
}

func countKind(steps []repo.AttemptStep, kind string) int {
	n := 0
	for _, s := range steps {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func learnCompleteOutput(steps []repo.AttemptStep) (map[string]any, bool) {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Kind == stepKindLearnComplete {
			return steps[i].Output, true
		}
	}
	return nil, false
}

// jsonEqual compares two opaque maps for structural equality using the
// same canonical serialization the store derives content IDs from, so
// key order never produces a spurious delta.
func jsonEqual(a, b map[string]any) bool {
	aBytes, aErr := canonical.Marshal(a)
	bBytes, bErr := canonical.Marshal(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return bytes.Equal(aBytes, bBytes)
}
