// Package llm provides inference backend interfaces and implementations.
package llm

import (
	"context"
	"fmt"
)

// StreamCallback is called for each text delta during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a chat or generate request.
type CompletionRequest struct {
	Model    string
	Messages []ChatMessage

	// Prompt is used by Complete when Messages is empty.
	Prompt string

	MaxTokens int

	// Temperature is left to the provider default when zero.
	Temperature float64
}

// ChatMessage represents a chat message for the backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for inference backends.
// Both calls stop producing output when ctx is cancelled.
type Client interface {
	// Complete sends a single-shot request and returns the whole response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming chat request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models(ctx context.Context) ([]string, error)
}

// Provider is the type of inference backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Options carries provider credentials and endpoints.
type Options struct {
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// NewClient creates a new backend client based on provider.
func NewClient(provider Provider, opts Options) (Client, error) {
	switch provider {
	case ProviderOllama, "":
		return NewOllamaClient(opts.OllamaHost)
	case ProviderAnthropic:
		return NewAnthropicClient(opts.AnthropicAPIKey)
	case ProviderOpenAI:
		return NewOpenAIClient(opts.OpenAIAPIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

func promptMessages(req *CompletionRequest) []ChatMessage {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	return []ChatMessage{{Role: "user", Content: req.Prompt}}
}
