package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message is one chat turn. Role is "system", "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client is a provider-neutral chat completion client.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts ...CompleteOption) (string, error)
}

// CompleteOption tunes a single Complete call.
type CompleteOption func(*completeOptions)

type completeOptions struct {
	jsonObject bool
}

// JSONObject asks the provider to return exactly one JSON object.
func JSONObject() CompleteOption {
	return func(o *completeOptions) {
		o.jsonObject = true
	}
}

func resolveCompleteOptions(opts []CompleteOption) completeOptions {
	var o completeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// jsonInstruction is appended to the system prompt for providers without a
// native JSON response mode.
const jsonInstruction = "Respond with a single JSON object and nothing else."

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// ParseModel splits "provider/model_name".
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// NewClient builds a client for provider ("openai", "anthropic" or "gemini").
func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// NewClientForModel resolves a "provider/model_name" string and builds the
// matching client with the key returned by keyFor.
func NewClientForModel(model string, keyFor func(provider string) string, opts ...Option) (Client, error) {
	provider, modelName, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	apiKey := keyFor(provider)
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for LLM provider %q", provider)
	}
	return NewClient(provider, apiKey, modelName, opts...)
}
