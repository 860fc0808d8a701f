// Package llm is the language-model gateway. Each generation role in
// Fieldwork (guide planning, live interviewing, transcript analysis) gets its
// own Client, configured from a provider/model_name string, so studies can
// mix providers per role.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message is one turn of model context. Role is "system", "user", or
// "assistant"; provider clients translate to their own wire shapes.
type Message struct {
	Role    string
	Content string
}

// Client produces one completion for an ordered message context. Consumers
// replay full history on every call; clients hold no conversation state.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

// WithBaseURL points a client at a non-default API endpoint. Used by tests
// and proxy setups.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// ParseModel splits a "provider/model_name" config string.
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// NewClient builds a Client for a supported provider.
func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	options := &clientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, options)
	case "anthropic":
		return newAnthropicClient(apiKey, model, options)
	case "gemini":
		return newGeminiClient(apiKey, model, options)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}
