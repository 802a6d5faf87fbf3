// Package apply renders curated KnowledgeItems and WorkingMemory into a
// marker-delimited region of the project's guidance document (§4.K). The
// renderer owns everything between the markers; bytes outside them are
// preserved byte-for-byte.
package apply

import (
	"fmt"
	"os"
	"strings"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
	"github.com/engramhq/engram/internal/repo"
)

const (
	BeginMarker = "<!-- BEGIN: LEARNED_PATTERNS -->"
	EndMarker   = "<!-- END: LEARNED_PATTERNS -->"

	// MinKnowledgeConfidence is the §4.K step 1 listing threshold.
	MinKnowledgeConfidence = 0.5
)

// Result is the outcome of one Apply call.
type Result struct {
	KnowledgeCount     int
	WorkingMemoryCount int
	Rendered           bool
}

// Run implements §4.K: list knowledge/working-memory, locate the marker
// pair in path, compose the replacement region, and write the file only
// if its content changed.
func Run(r *repo.Repository, projectID, path string) (Result, error) {
	items, err := r.ListKnowledgeItems(repo.KnowledgeItemFilter{MinConfidence: MinKnowledgeConfidence})
	if err != nil {
		return Result{}, err
	}
	memory, err := r.ListWorkingMemoryByProject(projectID)
	if err != nil {
		return Result{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, apperr.State(fmt.Sprintf("apply: read guidance document %s: %v", path, err))
	}
	original := string(raw)

	beginIdx := strings.Index(original, BeginMarker)
	endIdx := strings.Index(original, EndMarker)
	if beginIdx < 0 || endIdx < 0 || endIdx < beginIdx {
		return Result{}, apperr.State("apply: guidance document missing LEARNED_PATTERNS markers in correct order")
	}

	region := renderRegion(items, memory)
	updated := original[:beginIdx] + BeginMarker + "\n" + region + EndMarker + original[endIdx+len(EndMarker):]

	rendered := updated != original
	if rendered {
		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			return Result{}, apperr.External("apply: write guidance document", err)
		}
	}

	return Result{KnowledgeCount: len(items), WorkingMemoryCount: len(memory), Rendered: rendered}, nil
}

// renderRegion composes the replacement body, §4.K step 4: a heading,
// four knowledge subsections emitted only when non-empty, then a
// working-memory block with its own three subsections.
func renderRegion(items []repo.KnowledgeItem, memory []repo.WorkingMemory) string {
	var b strings.Builder
	b.WriteString("\n# Learned Patterns\n\n")

	byType := map[string][]repo.KnowledgeItem{}
	for _, it := range items {
		byType[it.Type] = append(byType[it.Type], it)
	}

	writeKnowledgeSection(&b, "Patterns", byType["pattern"])
	writeKnowledgeSection(&b, "Facts", byType["fact"])
	writeKnowledgeSection(&b, "Procedures", byType["procedure"])
	writeKnowledgeSection(&b, "Decisions", byType["decision"])

	byKind := map[string][]repo.WorkingMemory{}
	for _, m := range memory {
		byKind[m.Type] = append(byKind[m.Type], m)
	}
	if len(memory) > 0 {
		b.WriteString("## Working Memory\n\n")
		writeMemorySection(&b, "Summaries", byKind["summary"])
		writeMemorySection(&b, "Invariants", byKind["invariant"])
		writeMemorySection(&b, "Decisions", byKind["decision"])
	}

	return b.String()
}

func writeKnowledgeSection(b *strings.Builder, title string, items []repo.KnowledgeItem) {
	if len(items) == 0 {
		return
	}
	b.WriteString("## " + title + "\n\n")
	for _, it := range items {
		b.WriteString(fmt.Sprintf("[#%s][%s] %s\n\n", canonical.ShortID(it.ID), feedbackBadge(it.Helpful, it.Harmful), it.Text))
	}
}

func writeMemorySection(b *strings.Builder, title string, items []repo.WorkingMemory) {
	if len(items) == 0 {
		return
	}
	b.WriteString("### " + title + "\n\n")
	for _, m := range items {
		b.WriteString(fmt.Sprintf("[#%s] %s\n\n", canonical.ShortID(m.ID), m.ContentText))
	}
}

// feedbackBadge shows +h and/or -a only if those counters are > 0 (§4.K
// step 4).
func feedbackBadge(helpful, harmful int) string {
	var parts []string
	if helpful > 0 {
		parts = append(parts, fmt.Sprintf("+%dh", helpful))
	}
	if harmful > 0 {
		parts = append(parts, fmt.Sprintf("-%da", harmful))
	}
	return strings.Join(parts, " ")
}

