// Package reflect extracts recurring failure patterns from failed
// traces into candidate Insight rows (§4.H). Unrelated to the standard
// library's reflect package; named for the learning-pipeline stage it
// implements.
package reflect

import (
	"fmt"
	"sort"

	"github.com/engramhq/engram/internal/repo"
)

// groupKey is (tool, file, message); empty messages are skipped
// entirely per §4.H step 1.
type groupKey struct {
	tool, file, message string
}

type group struct {
	key         groupKey
	occurrences int
	traceIDs    map[string]bool
	subjectIDs  map[string]bool
}

// Summary is one emitted candidate; candidates skipped because an equal
// Insight is already stored are not listed, so Created is always true.
type Summary struct {
	Pattern     string
	Description string
	Confidence  float64
	Created     bool
	InsightID   string
}

// Result is the outcome of one Reflect call (§8 scenario 1's
// reflect.traceCount / reflect.insightCount fields).
type Result struct {
	TraceCount   int
	InsightCount int
	Summaries    []Summary
}

// Run implements §4.H: build grouping keys over every failed trace's
// error entries, compute confidence, and emit new Insight rows for
// groups clearing the 0.5 threshold that aren't already stored.
func Run(r *repo.Repository) (Result, error) {
	traces, err := r.ListTracesByOutcome("failure")
	if err != nil {
		return Result{}, err
	}

	groups := map[groupKey]*group{}
	for _, tr := range traces {
		for _, ex := range tr.Executions {
			for _, e := range ex.Errors {
				if e.Message == "" {
					continue
				}
				key := groupKey{tool: e.Tool, file: e.File, message: e.Message}
				g, ok := groups[key]
				if !ok {
					g = &group{key: key, traceIDs: map[string]bool{}, subjectIDs: map[string]bool{}}
					groups[key] = g
				}
				g.occurrences++
				g.traceIDs[tr.ID] = true
				if tr.SubjectID != "" {
					g.subjectIDs[tr.SubjectID] = true
				}
			}
		}
	}

	totalFailed := len(traces)
	var summaries []Summary
	for _, g := range groups {
		confidence := 1.0
		if totalFailed > 0 {
			confidence = float64(len(g.traceIDs)) / float64(totalFailed)
			if confidence > 1.0 {
				confidence = 1.0
			}
		}
		if confidence < 0.5 {
			continue
		}

		pattern := fmt.Sprintf("%s error in %s", g.key.tool, g.key.file)
		description := g.key.message

		existing, err := r.FindInsightByPatternDescription(pattern, description)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			continue
		}

		related := sortedKeys(g.subjectIDs)
		metaTags := dropEmpty([]string{g.key.tool, "error-pattern"})

		insight, err := r.AddInsight(pattern, description, confidence, g.occurrences, related, metaTags)
		if err != nil {
			return Result{}, err
		}

		summaries = append(summaries, Summary{
			Pattern: pattern, Description: description, Confidence: confidence,
			Created: true, InsightID: insight.ID,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Confidence != summaries[j].Confidence {
			return summaries[i].Confidence > summaries[j].Confidence
		}
		return summaries[i].Pattern < summaries[j].Pattern
	})

	return Result{TraceCount: totalFailed, InsightCount: len(summaries), Summaries: summaries}, nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dropEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
