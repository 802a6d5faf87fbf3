package repo

import (
	"database/sql"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

// KnowledgeTypes enumerates the valid KnowledgeItem.Type values (§3).
var KnowledgeTypes = []string{"fact", "pattern", "procedure", "decision"}

type KnowledgeItem struct {
	ID         string
	Type       string
	Text       string
	Scope      string
	Module     string
	MetaTags   []string
	Confidence float64
	Helpful    int
	Harmful    int
	CreatedAt  string
	UpdatedAt  string
}

// AddKnowledgeItem is idempotent: identical (type,text,scope,module,
// metaTags,confidence) always resolves to the same row.
func (r *Repository) AddKnowledgeItem(typ, text, scope, module string, metaTags []string, confidence float64) (KnowledgeItem, error) {
	if err := requireOneOf("type", typ, KnowledgeTypes...); err != nil {
		return KnowledgeItem{}, err
	}
	if err := requireNonEmpty("text", text); err != nil {
		return KnowledgeItem{}, err
	}
	if err := requireNonEmpty("scope", scope); err != nil {
		return KnowledgeItem{}, err
	}
	if err := requireUnitInterval("confidence", confidence); err != nil {
		return KnowledgeItem{}, err
	}
	if metaTags == nil {
		metaTags = []string{}
	}

	inputs := map[string]any{
		"type": typ, "text": text, "scope": scope, "module": module,
		"metaTags": toAnySlice(metaTags), "confidence": confidence,
	}
	id, err := canonical.ID(inputs)
	if err != nil {
		return KnowledgeItem{}, err
	}

	now := nowISO()
	tagsJSON, err := marshalJSON(toAnySlice(metaTags))
	if err != nil {
		return KnowledgeItem{}, err
	}

	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO knowledge_items
			(id, type, text, scope, module, meta_tags, confidence, helpful, harmful, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		id, typ, text, scope, nullString(module), tagsJSON, confidence, now, now,
	)
	if err != nil {
		return KnowledgeItem{}, apperr.External("repo: insert knowledge_items", err)
	}

	item, err := r.GetKnowledgeItem(id)
	if err != nil {
		return KnowledgeItem{}, err
	}

	if err := r.audit.Append(auditEntry("knowledgeItem.add", knowledgeItemRowImage(*item))); err != nil {
		return KnowledgeItem{}, err
	}
	return *item, nil
}

func (r *Repository) GetKnowledgeItem(id string) (*KnowledgeItem, error) {
	row := r.db.QueryRow(
		`SELECT id, type, text, scope, module, meta_tags, confidence, helpful, harmful, created_at, updated_at
		 FROM knowledge_items WHERE id = ?`, id,
	)
	return scanKnowledgeItem(row)
}

// KnowledgeItemFilter narrows ListKnowledgeItems; zero values mean
// "no filter" except MinConfidence, which always applies (default 0).
type KnowledgeItemFilter struct {
	Type          string
	MinConfidence float64
}

func (r *Repository) ListKnowledgeItems(f KnowledgeItemFilter) ([]KnowledgeItem, error) {
	query := `SELECT id, type, text, scope, module, meta_tags, confidence, helpful, harmful, created_at, updated_at
	          FROM knowledge_items WHERE confidence >= ?`
	args := []any{f.MinConfidence}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY helpful DESC, confidence DESC, text ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperr.External("repo: list knowledge_items", err)
	}
	defer rows.Close()

	var out []KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// UpdateKnowledgeItemFeedback applies incremental counter deltas (§4.E):
// helpful/harmful only ever advance by increment, never assignment, and
// never fall below zero.
func (r *Repository) UpdateKnowledgeItemFeedback(id string, deltaHelpful, deltaHarmful int) (KnowledgeItem, error) {
	existing, err := r.GetKnowledgeItem(id)
	if err != nil {
		return KnowledgeItem{}, err
	}
	if existing == nil {
		return KnowledgeItem{}, apperr.NotFound("knowledgeItem", id)
	}

	now := nowISO()
	_, err = r.db.Exec(
		`UPDATE knowledge_items
		 SET helpful = MAX(0, helpful + ?), harmful = MAX(0, harmful + ?), updated_at = ?
		 WHERE id = ?`,
		deltaHelpful, deltaHarmful, now, id,
	)
	if err != nil {
		return KnowledgeItem{}, apperr.External("repo: update knowledge_items feedback", err)
	}

	updated, err := r.GetKnowledgeItem(id)
	if err != nil {
		return KnowledgeItem{}, err
	}
	if err := r.audit.Append(auditEntry("knowledgeItem.updateFeedback", knowledgeItemRowImage(*updated))); err != nil {
		return KnowledgeItem{}, err
	}
	return *updated, nil
}

func scanKnowledgeItem(row interface{ Scan(...any) error }) (*KnowledgeItem, error) {
	var item KnowledgeItem
	var module sql.NullString
	var tagsRaw sql.NullString
	err := row.Scan(&item.ID, &item.Type, &item.Text, &item.Scope, &module, &tagsRaw,
		&item.Confidence, &item.Helpful, &item.Harmful, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan knowledge_items", err)
	}
	item.Module = module.String
	tags, err := unmarshalStringList(tagsRaw)
	if err != nil {
		return nil, err
	}
	item.MetaTags = tags
	return &item, nil
}

func knowledgeItemRowImage(item KnowledgeItem) map[string]any {
	return map[string]any{
		"id": item.ID, "type": item.Type, "text": item.Text, "scope": item.Scope,
		"module": item.Module, "metaTags": toAnySlice(item.MetaTags), "confidence": item.Confidence,
		"helpful": item.Helpful, "harmful": item.Harmful, "createdAt": item.CreatedAt, "updatedAt": item.UpdatedAt,
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

