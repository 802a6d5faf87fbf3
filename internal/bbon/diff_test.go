package bbon

import (
	"strings"
	"testing"

	"github.com/engramhq/engram/internal/repo"
)

func TestCompute_IdenticalStepsYieldNoDeltas(t *testing.T) {
	t.Parallel()
	left := repo.Attempt{ID: "aaaa1111", Status: repo.AttemptCompleted}
	right := repo.Attempt{ID: "bbbb2222", Status: repo.AttemptCompleted}
	steps := []repo.AttemptStep{
		{Kind: stepKindReflect, Output: map[string]any{}},
		{Kind: stepKindLearnComplete, Output: map[string]any{"knowledgeCount": float64(2)}},
	}

	diff := Compute(left, right, steps, steps)
	if len(diff.Deltas) != 0 {
		t.Fatalf("Deltas = %v, want none", diff.Deltas)
	}
	if !strings.Contains(diff.Summary, "tie") {
		t.Fatalf("Summary = %q, want a tie statement", diff.Summary)
	}
}

func TestCompute_DetectsStatusAndErrorStepDeltas(t *testing.T) {
	t.Parallel()
	left := repo.Attempt{ID: "aaaa1111", Status: repo.AttemptCompleted}
	right := repo.Attempt{ID: "bbbb2222", Status: repo.AttemptFailed}
	leftSteps := []repo.AttemptStep{
		{Kind: stepKindReflect, Output: map[string]any{}},
		{Kind: stepKindLearnComplete, Output: map[string]any{}},
	}
	rightSteps := []repo.AttemptStep{
		{Kind: stepKindReflect, Output: map[string]any{}},
		{Kind: stepKindError, Observation: map[string]any{"error": "boom"}},
	}

	diff := Compute(left, right, leftSteps, rightSteps)

	joined := strings.Join(diff.Deltas, "|")
	if !strings.Contains(joined, "status") {
		t.Fatalf("Deltas = %v, want a status delta", diff.Deltas)
	}
	if !strings.Contains(joined, "error steps") {
		t.Fatalf("Deltas = %v, want an error-steps delta", diff.Deltas)
	}
	if len(diff.ProsCons.LeftPros) == 0 {
		t.Fatalf("ProsCons.LeftPros is empty, want the completed side to have pros")
	}
}

func TestCompute_FewerStepsIsAPro(t *testing.T) {
	t.Parallel()
	left := repo.Attempt{ID: "aaaa1111", Status: repo.AttemptCompleted}
	right := repo.Attempt{ID: "bbbb2222", Status: repo.AttemptCompleted}
	leftSteps := []repo.AttemptStep{{Kind: stepKindReflect}, {Kind: stepKindLearnComplete}}
	rightSteps := []repo.AttemptStep{{Kind: stepKindReflect}, {Kind: stepKindError}, {Kind: stepKindLearnComplete}}

	diff := Compute(left, right, leftSteps, rightSteps)
	if len(diff.ProsCons.LeftPros) == 0 {
		t.Fatalf("ProsCons.LeftPros is empty, want fewer-steps pro for left")
	}
}

func TestCompute_SummaryListsAtMostThreeDeltas(t *testing.T) {
	t.Parallel()
	left := repo.Attempt{ID: "aaaa1111", Status: repo.AttemptCompleted}
	right := repo.Attempt{ID: "bbbb2222", Status: repo.AttemptFailed}
	leftSteps := []repo.AttemptStep{{Kind: stepKindReflect}, {Kind: stepKindLearnComplete, Output: map[string]any{"a": 1}}}
	rightSteps := []repo.AttemptStep{{Kind: stepKindError}}

	diff := Compute(left, right, leftSteps, rightSteps)
	if len(diff.Deltas) < 3 {
		t.Skip("fewer than three deltas produced for this fixture; summary truncation untestable here")
	}
	for _, d := range diff.Deltas[:3] {
		if !strings.Contains(diff.Summary, d) {
			t.Fatalf("Summary = %q, want it to list delta %q", diff.Summary, d)
		}
	}
	if len(diff.Deltas) > 3 && strings.Contains(diff.Summary, diff.Deltas[3]) {
		t.Fatalf("Summary = %q, want the fourth delta %q left out", diff.Summary, diff.Deltas[3])
	}
}
