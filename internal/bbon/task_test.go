package bbon

import "testing"

func TestParseTaskSpec_RequiresGoal(t *testing.T) {
	t.Parallel()
	if _, err := ParseTaskSpec(map[string]any{}); err == nil {
		t.Fatalf("ParseTaskSpec: want error for missing goal, got nil")
	}
	if _, err := ParseTaskSpec(map[string]any{"goal": "  "}); err == nil {
		t.Fatalf("ParseTaskSpec: want error for blank goal, got nil")
	}
}

func TestParseTaskSpec_FullySpecified(t *testing.T) {
	t.Parallel()
	raw := map[string]any{
		"goal":        "fix failing type checks",
		"subjectId":   "subj-1",
		"constraints": []any{"no new dependencies", "keep tests green"},
		"context":     map[string]any{"repo": "engram"},
	}
	spec, err := ParseTaskSpec(raw)
	if err != nil {
		t.Fatalf("ParseTaskSpec: %v", err)
	}
	if spec.Goal != "fix failing type checks" {
		t.Fatalf("Goal = %q", spec.Goal)
	}
	if spec.SubjectID != "subj-1" {
		t.Fatalf("SubjectID = %q", spec.SubjectID)
	}
	if len(spec.Constraints) != 2 {
		t.Fatalf("Constraints = %v", spec.Constraints)
	}
	if spec.Context["repo"] != "engram" {
		t.Fatalf("Context = %v", spec.Context)
	}
}

func TestParseTaskSpec_RejectsNonStringConstraints(t *testing.T) {
	t.Parallel()
	raw := map[string]any{"goal": "x", "constraints": []any{1, 2}}
	if _, err := ParseTaskSpec(raw); err == nil {
		t.Fatalf("ParseTaskSpec: want error for non-string constraint, got nil")
	}
}

func TestTaskSpec_AsMapRoundTrips(t *testing.T) {
	t.Parallel()
	spec := TaskSpec{Goal: "x", SubjectID: "s", Constraints: []string{"a"}, Context: map[string]any{"k": "v"}}
	roundTripped, err := ParseTaskSpec(spec.AsMap())
	if err != nil {
		t.Fatalf("ParseTaskSpec: %v", err)
	}
	if roundTripped.Goal != spec.Goal || roundTripped.SubjectID != spec.SubjectID {
		t.Fatalf("round trip mismatch: %+v vs %+v", roundTripped, spec)
	}
}
