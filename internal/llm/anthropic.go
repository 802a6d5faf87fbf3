package llm

import (
	"context"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/engramhq/engram/internal/apperr"
)

const defaultJudgeMaxTokens = 1024

type anthropicProvider struct {
	client anthropic.Client
}

func newAnthropicProvider(baseURL, apiKey string) *anthropicProvider {
	opts := []aoption.RequestOption{}
	if key := strings.TrimSpace(apiKey); key != "" {
		opts = append(opts, aoption.WithAPIKey(key))
	} else if envKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); envKey != "" {
		opts = append(opts, aoption.WithAPIKey(envKey))
	}
	if url := strings.TrimSpace(baseURL); url != "" {
		opts = append(opts, aoption.WithBaseURL(url))
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", apperr.InvalidInput("llm: missing model")
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(strings.TrimSpace(req.Model)),
		MaxTokens:   defaultJudgeMaxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", apperr.External("llm: anthropic request failed", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", apperr.External("llm: anthropic response contained no text", nil)
	}
	return out, nil
}
