package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jmorganca/ollama/api"
)

const (
	defaultOllamaModel = "llama3.2"
	ollamaHostEnv      = "OLLAMA_HOST"
)

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	client *api.Client
}

// ollamaEnvMu serializes the temporary OLLAMA_HOST override in NewOllamaClient.
var ollamaEnvMu sync.Mutex

// NewOllamaClient creates a client for the Ollama server at host.
// An empty host falls back to OLLAMA_HOST or the local default.
//
// The pinned api package resolves its base URL only from OLLAMA_HOST, so a
// configured host is set for the duration of the constructor and the previous
// value is restored before returning.
func NewOllamaClient(host string) (*OllamaClient, error) {
	client, err := ollamaClientFor(host)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaClient{client: client}, nil
}

func ollamaClientFor(host string) (*api.Client, error) {
	if host == "" {
		return api.ClientFromEnvironment()
	}

	ollamaEnvMu.Lock()
	defer ollamaEnvMu.Unlock()

	prev, had := os.LookupEnv(ollamaHostEnv)
	if err := os.Setenv(ollamaHostEnv, host); err != nil {
		return nil, err
	}
	defer func() {
		if had {
			_ = os.Setenv(ollamaHostEnv, prev)
		} else {
			_ = os.Unsetenv(ollamaHostEnv)
		}
	}()

	return api.ClientFromEnvironment()
}

// Name returns the provider name.
func (c *OllamaClient) Name() string {
	return "ollama"
}

// Models returns the models pulled on the server.
func (c *OllamaClient) Models(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Complete generates a single response without streaming.
func (c *OllamaClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	stream := false

	model := req.Model
	if model == "" {
		model = defaultOllamaModel
	}

	prompt := req.Prompt
	if prompt == "" {
		var b strings.Builder
		for _, m := range req.Messages {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		prompt = b.String()
	}

	var (
		content string
		tokens  int
	)
	err := c.client.Generate(ctx, &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: options(req),
	}, func(resp api.GenerateResponse) error {
		content += resp.Response
		if resp.Done {
			tokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content:    content,
		Model:      model,
		TokensOut:  tokens,
		StopReason: "stop",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming chat request.
func (c *OllamaClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	stream := true

	model := req.Model
	if model == "" {
		model = defaultOllamaModel
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, msg := range promptMessages(req) {
		messages = append(messages, api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	var (
		content             string
		tokensIn, tokensOut int
		stopReason          string
		index               int
	)

	err := c.client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options(req),
	}, func(resp api.ChatResponse) error {
		// The final response carries metrics only.
		if resp.Done {
			tokensIn = resp.PromptEvalCount
			tokensOut = resp.EvalCount
			stopReason = "stop"
			return nil
		}

		token := resp.Message.Content
		if token == "" {
			return nil
		}
		content += token
		if err := callback(token, index); err != nil {
			return err
		}
		index++
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content:    content,
		Model:      model,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func options(req *CompletionRequest) map[string]interface{} {
	opts := map[string]interface{}{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	return opts
}
