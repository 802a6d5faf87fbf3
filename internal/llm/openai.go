package llm

import (
	"context"
	"os"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/engramhq/engram/internal/apperr"
)

type openAIProvider struct {
	client openai.Client
}

func newOpenAIProvider(baseURL, apiKey string) *openAIProvider {
	opts := []ooption.RequestOption{}
	if key := strings.TrimSpace(apiKey); key != "" {
		opts = append(opts, ooption.WithAPIKey(key))
	} else if envKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); envKey != "" {
		opts = append(opts, ooption.WithAPIKey(envKey))
	}
	if url := strings.TrimSpace(baseURL); url != "" {
		opts = append(opts, ooption.WithBaseURL(url))
	}
	return &openAIProvider{client: openai.NewClient(opts...)}
}

func (p *openAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", apperr.InvalidInput("llm: missing model")
	}

	jsonFormat := oshared.NewResponseFormatJSONObjectParam()
	items := oresponses.ResponseInputParam{}
	if system := strings.TrimSpace(req.System); system != "" {
		items = append(items, oresponses.ResponseInputItemParamOfMessage(system, oresponses.EasyInputMessageRoleSystem))
	}
	items = append(items, oresponses.ResponseInputItemParamOfMessage(req.Prompt, oresponses.EasyInputMessageRoleUser))

	params := oresponses.ResponseNewParams{
		Model: oshared.ResponsesModel(strings.TrimSpace(req.Model)),
		Input: oresponses.ResponseNewParamsInputUnion{OfInputItemList: items},
		Text: oresponses.ResponseTextConfigParam{
			Format: oresponses.ResponseFormatTextConfigUnionParam{OfJSONObject: &jsonFormat},
		},
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", apperr.External("llm: openai request failed", err)
	}

	out := strings.TrimSpace(extractOutputText(*resp))
	if out == "" {
		return "", apperr.External("llm: openai response contained no text", nil)
	}
	return out, nil
}

// extractOutputText mirrors the teacher's extractOpenAIResponseText: walk
// the response's message-typed output items and concatenate their
// output_text parts.
func extractOutputText(resp oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if strings.TrimSpace(part.Type) != "output_text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.TrimSpace(part.Text))
		}
	}
	return sb.String()
}
