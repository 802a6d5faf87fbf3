package llm

import "testing"

func TestNew_UnsupportedProviderFails(t *testing.T) {
	t.Parallel()
	if _, err := New("bogus", "", "key"); err == nil {
		t.Fatalf("New: want error for unsupported provider, got nil")
	}
}

func TestNew_DefaultsToAnthropic(t *testing.T) {
	t.Parallel()
	p, err := New("", "", "key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(*anthropicProvider); !ok {
		t.Fatalf("New(\"\") = %T, want *anthropicProvider", p)
	}
}

func TestNew_SelectsProviderByType(t *testing.T) {
	t.Parallel()
	cases := []struct {
		providerType string
		want         string
	}{
		{"anthropic", "*llm.anthropicProvider"},
		{"Anthropic", "*llm.anthropicProvider"},
		{"openai", "*llm.openAIProvider"},
		{"OPENAI", "*llm.openAIProvider"},
	}
	for _, tc := range cases {
		p, err := New(tc.providerType, "", "key")
		if err != nil {
			t.Fatalf("New(%q): %v", tc.providerType, err)
		}
		switch p.(type) {
		case *anthropicProvider:
			if tc.want != "*llm.anthropicProvider" {
				t.Fatalf("New(%q) = anthropicProvider, want %s", tc.providerType, tc.want)
			}
		case *openAIProvider:
			if tc.want != "*llm.openAIProvider" {
				t.Fatalf("New(%q) = openAIProvider, want %s", tc.providerType, tc.want)
			}
		default:
			t.Fatalf("New(%q) returned unexpected type %T", tc.providerType, p)
		}
	}
}
