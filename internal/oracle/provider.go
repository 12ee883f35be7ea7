package oracle

import (
	"context"
	"fmt"
	"time"
)

// Provider types.
const (
	TypeAnthropic        = "anthropic"
	TypeOpenAI           = "openai"
	TypeOpenAICompatible = "openai_compatible"
	TypeGemini           = "gemini"
)

// ProviderConfig describes one configured provider.
type ProviderConfig struct {
	Name        string          `yaml:"name" json:"name"`
	Type        string          `yaml:"type" json:"type"`
	APIKeyEnv   string          `yaml:"api_key_env" json:"api_key_env"`
	APIKey      string          `yaml:"-" json:"-"`
	BaseURL     string          `yaml:"base_url" json:"base_url,omitempty"`
	Models      map[Role]string `yaml:"models" json:"models"`
	Temperature float64         `yaml:"temperature" json:"temperature"`
	MaxTokens   int             `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration   `yaml:"timeout" json:"timeout"`
}

// Model returns the model for role, falling back to the reasoning model.
func (p ProviderConfig) Model(role Role) string {
	if m := p.Models[role]; m != "" {
		return m
	}
	return p.Models[RoleReasoning]
}

// NewProvider builds the client for a provider config.
func NewProvider(ctx context.Context, pc ProviderConfig) (Provider, error) {
	if pc.APIKey == "" {
		return nil, fmt.Errorf("provider %s: missing api key (%s)", pc.Name, pc.APIKeyEnv)
	}
	switch pc.Type {
	case TypeAnthropic:
		return NewAnthropicClient(pc.Name, pc.APIKey, pc.BaseURL, pc.Timeout), nil
	case TypeOpenAI:
		base := pc.BaseURL
		if base == "" {
			base = openAIBaseURL
		}
		return NewOpenAIClient(pc.Name, pc.APIKey, base, pc.Timeout), nil
	case TypeOpenAICompatible:
		base := pc.BaseURL
		if base == "" {
			base = openAICompatibleBaseURL
		}
		return NewOpenAIClient(pc.Name, pc.APIKey, base, pc.Timeout), nil
	case TypeGemini:
		return NewGeminiClient(ctx, pc.Name, pc.APIKey)
	default:
		return nil, fmt.Errorf("provider %s: unknown type %q", pc.Name, pc.Type)
	}
}
