// Package model abstracts the language-model collaborator behind a small
// prompt-in/text-out interface with two capacity tiers.
package model

import (
	"context"
	"fmt"
)

// Tier selects model capacity for a call
type Tier string

// Capacity tiers. Small serves the should-respond gate, large serves step
// decisions and the final summary.
const (
	TierSmall Tier = "small"
	TierLarge Tier = "large"
)

// Request contains the parameters for a generation call
type Request struct {
	Prompt      string
	System      string
	Tier        Tier
	MaxTokens   int
	Temperature float64
}

// Response contains the generated text and usage accounting
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider is the language-model collaborator interface. Generate is
// synchronous from the caller's perspective even though it suspends.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Models maps tiers to concrete model names
type Models struct {
	Small string
	Large string
}

// resolve picks the model name for a tier
func (m Models) resolve(tier Tier) string {
	if tier == TierLarge {
		return m.Large
	}
	return m.Small
}

// NewFromProfile creates a provider from a credential profile
func NewFromProfile(provider, apiKey string, models Models) (Provider, error) {
	switch provider {
	case "openai":
		return NewOpenAIProvider(apiKey, models), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, models), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
