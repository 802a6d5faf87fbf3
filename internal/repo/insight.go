package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

type Insight struct {
	ID              string
	Pattern         string
	Description     string
	Confidence      float64
	Frequency       int
	RelatedSubjects []string
	MetaTags        []string
	CreatedAt       string
}

func (r *Repository) AddInsight(pattern, description string, confidence float64, frequency int, relatedSubjects, metaTags []string) (Insight, error) {
	if err := requireNonEmpty("pattern", pattern); err != nil {
		return Insight{}, err
	}
	if err := requireNonEmpty("description", description); err != nil {
		return Insight{}, err
	}
	if err := requireUnitInterval("confidence", confidence); err != nil {
		return Insight{}, err
	}
	if err := requirePositive("frequency", frequency); err != nil {
		return Insight{}, err
	}
	if relatedSubjects == nil {
		relatedSubjects = []string{}
	}
	if metaTags == nil {
		metaTags = []string{}
	}

	inputs := map[string]any{
		"pattern": pattern, "description": description, "confidence": confidence,
		"frequency": frequency, "relatedSubjects": toAnySlice(relatedSubjects), "metaTags": toAnySlice(metaTags),
	}
	id, err := canonical.ID(inputs)
	if err != nil {
		return Insight{}, err
	}

	subjectsJSON, err := marshalJSON(toAnySlice(relatedSubjects))
	if err != nil {
		return Insight{}, err
	}
	tagsJSON, err := marshalJSON(toAnySlice(metaTags))
	if err != nil {
		return Insight{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO insights
			(id, pattern, description, confidence, frequency, related_subjects, meta_tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, pattern, description, confidence, frequency, subjectsJSON, tagsJSON, now,
	)
	if err != nil {
		return Insight{}, apperr.External("repo: insert insights", err)
	}

	insight, err := r.GetInsight(id)
	if err != nil {
		return Insight{}, err
	}
	if err := r.audit.Append(auditEntry("insight.add", insightRowImage(*insight))); err != nil {
		return Insight{}, err
	}
	return *insight, nil
}

func (r *Repository) GetInsight(id string) (*Insight, error) {
	row := r.db.QueryRow(
		`SELECT id, pattern, description, confidence, frequency, related_subjects, meta_tags, created_at
		 FROM insights WHERE id = ?`, id,
	)
	return scanInsight(row)
}

// FindInsightByPatternDescription supports Reflect's duplicate-candidate
// check (§4.H step 5).
func (r *Repository) FindInsightByPatternDescription(pattern, description string) (*Insight, error) {
	row := r.db.QueryRow(
		`SELECT id, pattern, description, confidence, frequency, related_subjects, meta_tags, created_at
		 FROM insights WHERE pattern = ? AND description = ? ORDER BY created_at ASC LIMIT 1`,
		pattern, description,
	)
	return scanInsight(row)
}

type InsightFilter struct {
	MinConfidence float64
	HasMin        bool
}

func (r *Repository) ListInsights(f InsightFilter) ([]Insight, error) {
	query := `SELECT id, pattern, description, confidence, frequency, related_subjects, meta_tags, created_at FROM insights`
	args := []any{}
	if f.HasMin {
		query += ` WHERE confidence >= ?`
		args = append(args, f.MinConfidence)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperr.External("repo: list insights", err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *insight)
	}
	return out, rows.Err()
}

// DeleteInsight removes one insight row (used by Curate's dedup and
// promotion steps) and mirrors the deletion to the audit log.
func (r *Repository) DeleteInsight(id string) error {
	_, err := r.db.Exec(`DELETE FROM insights WHERE id = ?`, id)
	if err != nil {
		return apperr.External("repo: delete insight", err)
	}
	return r.audit.Append(auditEntry("insight.delete", map[string]any{"id": id}))
}

func scanInsight(row interface{ Scan(...any) error }) (*Insight, error) {
	var in Insight
	var subjectsRaw, tagsRaw sql.NullString
	err := row.Scan(&in.ID, &in.Pattern, &in.Description, &in.Confidence, &in.Frequency, &subjectsRaw, &tagsRaw, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan insights", err)
	}
	subjects, err := unmarshalStringList(subjectsRaw)
	if err != nil {
		return nil, err
	}
	tags, err := unmarshalStringList(tagsRaw)
	if err != nil {
		return nil, err
	}
	in.RelatedSubjects = subjects
	in.MetaTags = tags
	return &in, nil
}

func insightRowImage(in Insight) map[string]any {
	return map[string]any{
		"id": in.ID, "pattern": in.Pattern, "description": in.Description, "confidence": in.Confidence,
		"frequency": in.Frequency, "relatedSubjects": toAnySlice(in.RelatedSubjects),
		"metaTags": toAnySlice(in.MetaTags), "createdAt": in.CreatedAt,
	}
}
