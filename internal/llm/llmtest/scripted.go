// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/capitalize-ai/localchat/internal/llm"
)

// Scripted replays fixed tokens and a fixed title.
type Scripted struct {
	Tokens []string

	// Err is returned after the tokens have been delivered.
	Err error

	// Gate, when set, holds the stream open after the tokens until it is
	// closed or the request context is cancelled.
	Gate <-chan struct{}

	Title    string
	TitleErr error

	// TitleGate, when set, holds Complete until it is closed or the request
	// context is done.
	TitleGate <-chan struct{}

	ModelList []string

	mu       sync.Mutex
	once     sync.Once
	streamed chan struct{}
	requests []llm.CompletionRequest
	titles   int
}

func (s *Scripted) init() {
	s.once.Do(func() { s.streamed = make(chan struct{}) })
}

// Streamed is closed once the tokens of the first stream have been delivered.
func (s *Scripted) Streamed() <-chan struct{} {
	s.init()
	return s.streamed
}

// Requests returns the streaming requests received so far.
func (s *Scripted) Requests() []llm.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.CompletionRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// TitleCalls returns how many times Complete was called.
func (s *Scripted) TitleCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titles
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Models(context.Context) ([]string, error) {
	return s.ModelList, nil
}

func (s *Scripted) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	s.titles++
	s.mu.Unlock()

	if s.TitleGate != nil {
		select {
		case <-s.TitleGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.TitleErr != nil {
		return nil, s.TitleErr
	}
	return &llm.CompletionResponse{Content: s.Title, Model: req.Model}, nil
}

func (s *Scripted) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	s.init()
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()

	for i, tok := range s.Tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := callback(tok, i); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	select {
	case <-s.streamed:
	default:
		close(s.streamed)
	}
	s.mu.Unlock()

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.Err != nil {
		return nil, s.Err
	}
	return &llm.CompletionResponse{Content: strings.Join(s.Tokens, ""), Model: req.Model}, nil
}

var _ llm.Client = (*Scripted)(nil)
