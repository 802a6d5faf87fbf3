// Package llm is the external LLM transport behind the comparative
// judge (§4.O). It mirrors the teacher's native_runtime provider
// construction (github.com/anthropics/anthropic-sdk-go and
// github.com/openai/openai-go, selected by provider type, client built
// via option.WithAPIKey/option.WithBaseURL) but trims the teacher's
// streaming tool-call loop down to the single blocking, temperature-0,
// JSON-only completion the judge needs.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/engramhq/engram/internal/apperr"
)

// Request is one judge invocation's prompt (§4.O step 3): a system
// instruction constraining output to JSON, and the user-role prompt
// built from the narrative diff.
type Request struct {
	Model   string
	System  string
	Prompt  string
}

// Provider is the external capability the comparative judge invokes.
// Implementations must not retry internally; timeouts and transport
// failures surface as apperr.ExternalError so the caller can mark the
// enclosing attempt failed (§5 Timeouts).
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New constructs a Provider for providerType ("anthropic" or "openai"),
// reading the API key from the SDK's default environment variable
// (ANTHROPIC_API_KEY / OPENAI_API_KEY) unless apiKey is non-empty.
// baseURL overrides the default endpoint when set, as the teacher's
// newProviderAdapter does for self-hosted/compatible gateways.
func New(providerType, baseURL, apiKey string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case "", "anthropic":
		return newAnthropicProvider(baseURL, apiKey), nil
	case "openai":
		return newOpenAIProvider(baseURL, apiKey), nil
	default:
		return nil, apperr.InvalidInput(fmt.Sprintf("llm: unsupported provider %q", providerType))
	}
}
