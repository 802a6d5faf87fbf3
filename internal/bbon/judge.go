package bbon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
	"github.com/engramhq/engram/internal/llm"
	"github.com/engramhq/engram/internal/repo"
)

// PromptVersionV1 is the only defined prompt version (§6).
const PromptVersionV1 = "v1"

const judgeSystemPrompt = `You are comparing two independent problem-solving attempts. ` +
	`Respond with JSON only, no prose, no markdown fences. ` +
	`The JSON object must have exactly these fields: ` +
	`"winner" (the string "A" or "B"), "confidence" (a number from 0 to 1), ` +
	`"rationale" (a short string explaining the verdict).`

// JudgeConfig names the model and prompt version for one judge call.
// Retrieval is Supplement 5's opaque passthrough: pre-fetched grounding
// text threaded into the prompt verbatim. The core never populates it
// itself; a CLI layer fills it in from config.EffectiveRetrieval().
type JudgeConfig struct {
	Model         string
	PromptVersion string
	Retrieval     map[string]any

	// Logger receives one line per judge call/cache-hit. A nil Logger
	// discards them.
	Logger *slog.Logger
}

func (c JudgeConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

// JudgeVerdict is §4.O step 5's return value.
type JudgeVerdict struct {
	WinnerAttemptID string
	Confidence      float64
	Rationale       string
	ContentHash     string
}

// Judge invokes the comparative judge (§4.O) for one ordered pair.
// left/right map to "A"/"B" in the prompt and the parsed winner.
func Judge(ctx context.Context, provider llm.Provider, left, right repo.Attempt, diff Diff, cfg JudgeConfig) (JudgeVerdict, error) {
	if cfg.PromptVersion != PromptVersionV1 {
		return JudgeVerdict{}, apperr.InvalidInput(fmt.Sprintf("bbon: unsupported judge prompt version %q", cfg.PromptVersion))
	}

	contentHash, err := canonical.ID(map[string]any{
		"leftAttemptId": left.ID, "rightAttemptId": right.ID,
		"promptVersion": cfg.PromptVersion, "model": cfg.Model,
	})
	if err != nil {
		return JudgeVerdict{}, err
	}

	prompt := buildJudgePrompt(left, right, diff, cfg.Retrieval)
	raw, err := provider.Complete(ctx, llm.Request{Model: cfg.Model, System: judgeSystemPrompt, Prompt: prompt})
	if err != nil {
		return JudgeVerdict{}, err
	}

	verdict, err := parseJudgeResponse(raw)
	if err != nil {
		return JudgeVerdict{}, err
	}

	winnerID := left.ID
	if verdict.winner == "B" {
		winnerID = right.ID
	}

	return JudgeVerdict{
		WinnerAttemptID: winnerID,
		Confidence:      verdict.confidence,
		Rationale:       verdict.rationale,
		ContentHash:     contentHash,
	}, nil
}

// buildJudgePrompt renders the promptVersion="v1" template (§6): short
// ids, status, result maps, and the narrative diff's pros/cons and
// delta list for both attempts.
func buildJudgePrompt(left, right repo.Attempt, diff Diff, retrieval map[string]any) string {
	var b strings.Builder
	b.WriteString("Attempt A (id=")
	b.WriteString(canonical.ShortID(left.ID))
	b.WriteString(", status=")
	b.WriteString(left.Status)
	b.WriteString(")\nResult: ")
	b.WriteString(mustJSON(left.Result))
	b.WriteString("\n\nAttempt B (id=")
	b.WriteString(canonical.ShortID(right.ID))
	b.WriteString(", status=")
	b.WriteString(right.Status)
	b.WriteString(")\nResult: ")
	b.WriteString(mustJSON(right.Result))

	b.WriteString("\n\nDeltas:\n")
	if len(diff.Deltas) == 0 {
		b.WriteString("(none)\n")
	}
	for _, d := range diff.Deltas {
		b.WriteString("- " + d + "\n")
	}

	b.WriteString("\nPros for A: " + strings.Join(diff.ProsCons.LeftPros, "; "))
	b.WriteString("\nCons for A: " + strings.Join(diff.ProsCons.LeftCons, "; "))
	b.WriteString("\nPros for B: " + strings.Join(diff.ProsCons.RightPros, "; "))
	b.WriteString("\nCons for B: " + strings.Join(diff.ProsCons.RightCons, "; "))
	if len(retrieval) > 0 {
		b.WriteString("\n\nAdditional grounding context:\n")
		b.WriteString(mustJSON(retrieval))
	}

	b.WriteString("\n\nWhich attempt (A or B) is better? Respond with the required JSON object only.")
	return b.String()
}

func mustJSON(v map[string]any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

type rawVerdict struct {
	winner     string
	confidence float64
	rationale  string
}

// parseJudgeResponse implements §4.O step 4: extract the first fenced
// JSON block or the first {...} span, then validate against the
// response schema. Any parse or schema failure is ExternalError.
func parseJudgeResponse(raw string) (rawVerdict, error) {
	span := extractJSONSpan(raw)
	if span == "" {
		return rawVerdict{}, apperr.External("bbon: judge response contained no JSON", nil)
	}

	var decoded struct {
		Winner     string  `json:"winner"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(span), &decoded); err != nil {
		return rawVerdict{}, apperr.External("bbon: judge response is not valid JSON", err)
	}

	if decoded.Winner != "A" && decoded.Winner != "B" {
		return rawVerdict{}, apperr.External(fmt.Sprintf("bbon: judge winner must be \"A\" or \"B\", got %q", decoded.Winner), nil)
	}
	if decoded.Confidence < 0 || decoded.Confidence > 1 {
		return rawVerdict{}, apperr.External(fmt.Sprintf("bbon: judge confidence must be within [0,1], got %v", decoded.Confidence), nil)
	}
	if strings.TrimSpace(decoded.Rationale) == "" {
		return rawVerdict{}, apperr.External("bbon: judge rationale must not be empty", nil)
	}

	return rawVerdict{winner: decoded.Winner, confidence: decoded.Confidence, rationale: decoded.Rationale}, nil
}

// extractJSONSpan returns the contents of the first fenced code block
// (```json ... ``` or ``` ... ```) if present, else the first balanced
// {...} span in raw.
func extractJSONSpan(raw string) string {
	if start := strings.Index(raw, "```"); start >= 0 {
		rest := raw[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
