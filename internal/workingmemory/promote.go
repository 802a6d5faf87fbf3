// Package workingmemory classifies curated insights into WorkingMemory
// entries (§4.J).
package workingmemory

import (
	"math"
	"regexp"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/repo"
)

const DefaultThreshold = 0.8

var (
	decisionPattern  = regexp.MustCompile(`(?i)\b(should|must|prefer|avoid|never|always)\b`)
	invariantPattern = regexp.MustCompile(`(?i)\b(requires?|constraint|rule|law|guarantee)\b`)
)

// Classify implements §4.J's classification order: decision, then
// invariant, else summary.
func Classify(pattern, description string) string {
	text := pattern + " " + description
	switch {
	case decisionPattern.MatchString(text):
		return "decision"
	case invariantPattern.MatchString(text):
		return "invariant"
	default:
		return "summary"
	}
}

// Result is the outcome of one promotion pass.
type Result struct {
	Promoted int
}

// Run classifies every insight with confidence >= threshold, upserts it
// into WorkingMemory for projectID, and records a MemoryEvent (§4.J).
func Run(r *repo.Repository, projectID string, threshold float64) (Result, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold < 0 || threshold > 1 {
		return Result{}, apperr.InvalidInput("workingmemory: threshold must be within [0,1]")
	}

	insights, err := r.ListInsights(repo.InsightFilter{MinConfidence: threshold, HasMin: true})
	if err != nil {
		return Result{}, err
	}

	result := Result{}
	for _, in := range insights {
		kind := Classify(in.Pattern, in.Description)

		if _, err := r.UpsertWorkingMemory(projectID, kind, in.Description, map[string]any{
			"insightId": in.ID, "pattern": in.Pattern,
		}); err != nil {
			return Result{}, err
		}

		if _, err := r.AddMemoryEvent(in.ID, "insight", "promoted_to_working_memory", map[string]any{
			"type": kind, "confidence": in.Confidence, "frequency": in.Frequency,
		}); err != nil {
			return Result{}, err
		}
		result.Promoted++
	}

	return result, nil
}
