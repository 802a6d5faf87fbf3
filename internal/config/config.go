// Package config loads and saves engram's per-project configuration
// file. It follows the teacher's internal/config.Config pattern: a
// plain JSON-tagged struct, atomic Save via a .tmp file plus
// os.Rename, and nil-receiver-safe Effective*() accessors (mirroring
// internal/config/ai.go's AIConfig) so a missing file or a zero-value
// field always resolves to a compiled-in default rather than an error.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultLLMProvider   = "anthropic"
	defaultJudgeModel    = "claude-sonnet-4-5"
	defaultPromptVersion = "v1"
	defaultLogFormat     = "text"
	defaultLogLevel      = "info"
)

// LLMConfig is the llm.* section of the config file.
type LLMConfig struct {
	Provider      string `json:"provider,omitempty"`
	JudgeModel    string `json:"judgeModel,omitempty"`
	PromptVersion string `json:"promptVersion,omitempty"`
}

// Config is the on-disk shape at <cwd>/.engram/config.json (§6).
// Retrieval is an opaque passthrough map the core never interprets
// (Supplement 5); it is threaded into the judge prompt context
// verbatim by the bBoN CLI layer.
type Config struct {
	LLM       *LLMConfig     `json:"llm,omitempty"`
	Retrieval map[string]any `json:"retrieval,omitempty"`
	LogFormat string         `json:"log_format,omitempty"`
	LogLevel  string         `json:"log_level,omitempty"`
}

// DefaultPath returns <projectRoot>/.engram/config.json.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".engram", "config.json")
}

// Load reads and decodes path. A missing file is not an error: it
// returns a zero-value *Config whose Effective*() accessors fall back
// to compiled-in defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically: marshal to a sibling .tmp file,
// then os.Rename over the destination.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// EffectiveLLMProvider returns the configured provider, or the
// compiled-in default ("anthropic") when unset.
func (c *Config) EffectiveLLMProvider() string {
	if c == nil || c.LLM == nil {
		return defaultLLMProvider
	}
	v := strings.TrimSpace(c.LLM.Provider)
	if v == "" {
		return defaultLLMProvider
	}
	return v
}

// EffectiveJudgeModel returns the configured judge model, or the
// compiled-in default when unset.
func (c *Config) EffectiveJudgeModel() string {
	if c == nil || c.LLM == nil {
		return defaultJudgeModel
	}
	v := strings.TrimSpace(c.LLM.JudgeModel)
	if v == "" {
		return defaultJudgeModel
	}
	return v
}

// EffectivePromptVersion returns the configured judge prompt version,
// or "v1" when unset.
func (c *Config) EffectivePromptVersion() string {
	if c == nil || c.LLM == nil {
		return defaultPromptVersion
	}
	v := strings.TrimSpace(c.LLM.PromptVersion)
	if v == "" {
		return defaultPromptVersion
	}
	return v
}

// EffectiveRetrieval returns the opaque retrieval passthrough map,
// never nil.
func (c *Config) EffectiveRetrieval() map[string]any {
	if c == nil || c.Retrieval == nil {
		return map[string]any{}
	}
	return c.Retrieval
}

// EffectiveLogFormat returns "json" or "text" (default "text").
func (c *Config) EffectiveLogFormat() string {
	if c == nil {
		return defaultLogFormat
	}
	v := strings.TrimSpace(strings.ToLower(c.LogFormat))
	if v == "json" {
		return "json"
	}
	return defaultLogFormat
}

// EffectiveLogLevel returns the configured slog level name (default
// "info").
func (c *Config) EffectiveLogLevel() string {
	if c == nil {
		return defaultLogLevel
	}
	v := strings.TrimSpace(strings.ToLower(c.LogLevel))
	switch v {
	case "debug", "info", "warn", "error":
		return v
	default:
		return defaultLogLevel
	}
}
