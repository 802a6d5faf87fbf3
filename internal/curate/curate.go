// Package curate deduplicates stored insights and promotes
// confidence-gated survivors into durable knowledge (§4.I).
package curate

import (
	"math"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/repo"
)

const DefaultThreshold = 0.8

// Result is the outcome of one Curate call.
type Result struct {
	Promoted     int
	Deduplicated int
}

// Run groups insights with confidence >= threshold by (pattern,
// description), keeps one representative per group, promotes it to a
// KnowledgeItem when no such item exists yet, and deletes every insight
// in the group (§4.I).
func Run(r *repo.Repository, threshold float64) (Result, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold < 0 || threshold > 1 {
		return Result{}, apperr.InvalidInput("curate: threshold must be within [0,1]")
	}

	result := Result{}
	err := r.WithTx(func(tx *repo.Repository) error {
		insights, err := tx.ListInsights(repo.InsightFilter{MinConfidence: threshold, HasMin: true})
		if err != nil {
			return err
		}

		groups := map[[2]string][]repo.Insight{}
		var order [][2]string
		for _, in := range insights {
			key := [2]string{in.Pattern, in.Description}
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], in)
		}

		for _, key := range order {
			members := groups[key]
			if len(members) > 1 {
				result.Deduplicated += len(members) - 1
			}
			representative := members[0]

			existing, err := tx.ListKnowledgeItems(repo.KnowledgeItemFilter{Type: "pattern"})
			if err != nil {
				return err
			}
			alreadyKnown := false
			for _, item := range existing {
				if item.Text == representative.Description {
					alreadyKnown = true
					break
				}
			}

			if !alreadyKnown {
				if _, err := tx.AddKnowledgeItem(
					"pattern", representative.Description, "repo", "",
					representative.MetaTags, representative.Confidence,
				); err != nil {
					return err
				}
				result.Promoted++
			}

			for _, in := range members {
				if err := tx.DeleteInsight(in.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}
