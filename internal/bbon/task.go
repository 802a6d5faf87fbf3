// Package bbon implements the Best-of-N orchestrator (§4.M), the
// narrative diff (§4.N), the comparative judge (§4.O), and the judge
// driver plus adoption (§4.P). It mirrors the teacher's run/step
// lifecycle pattern in internal/ai/native_runtime.go, generalized from a
// single agent turn loop to N independent learning attempts compared
// pairwise.
package bbon

import (
	"strings"

	"github.com/engramhq/engram/internal/apperr"
)

// TaskSpec is the validated form of the wire shape in §6: `{goal,
// subjectId?, constraints?, context?}`.
type TaskSpec struct {
	Goal        string
	SubjectID   string
	Constraints []string
	Context     map[string]any
}

// ParseTaskSpec validates raw against §4.M step 1: goal is required;
// subjectId, constraints, and context are optional. raw is the same
// opaque map stored verbatim as Task.Spec.
func ParseTaskSpec(raw map[string]any) (TaskSpec, error) {
	if raw == nil {
		return TaskSpec{}, apperr.Validation("spec", "must not be empty")
	}

	goal, _ := raw["goal"].(string)
	if strings.TrimSpace(goal) == "" {
		return TaskSpec{}, apperr.Validation("spec.goal", "must be a non-empty string")
	}

	spec := TaskSpec{Goal: goal}

	if subjectID, ok := raw["subjectId"].(string); ok {
		spec.SubjectID = subjectID
	}

	if rawConstraints, ok := raw["constraints"].([]any); ok {
		constraints := make([]string, 0, len(rawConstraints))
		for _, c := range rawConstraints {
			s, ok := c.(string)
			if !ok {
				return TaskSpec{}, apperr.Validation("spec.constraints", "must be an array of strings")
			}
			constraints = append(constraints, s)
		}
		spec.Constraints = constraints
	}

	if context, ok := raw["context"].(map[string]any); ok {
		spec.Context = context
	}

	return spec, nil
}

// AsMap re-derives the opaque spec map from a validated TaskSpec, used
// when a caller builds a task spec programmatically instead of
// decoding one from JSON/YAML.
func (t TaskSpec) AsMap() map[string]any {
	out := map[string]any{"goal": t.Goal}
	if t.SubjectID != "" {
		out["subjectId"] = t.SubjectID
	}
	if len(t.Constraints) > 0 {
		constraints := make([]any, len(t.Constraints))
		for i, c := range t.Constraints {
			constraints[i] = c
		}
		out["constraints"] = constraints
	}
	if len(t.Context) > 0 {
		out["context"] = t.Context
	}
	return out
}
