// Package session drives one streaming generation for one conversation.
//
// A Session requests a completion from the backend, publishes the growing
// answer in chunks, and always finalizes by persisting whatever text arrived,
// whether the stream completed, failed, or was aborted.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/llm"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/thinking"
	"github.com/capitalize-ai/localchat/pkg/logger"
	"github.com/capitalize-ai/localchat/pkg/metrics"
	"github.com/capitalize-ai/localchat/pkg/tracing"
)

// DefaultChunkSize is the number of unflushed characters that triggers a partial update.
const DefaultChunkSize = 30

// State is the lifecycle state of a session.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Store is the part of the conversation store a session writes to.
type Store interface {
	AppendAssistantMessage(ctx context.Context, conversationID, parentUserMessageID, content, thinking string) (*model.AssistantMessage, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	SetTitleIfPlaceholder(ctx context.Context, id, title string) (bool, error)
}

// Publisher receives session events.
type Publisher interface {
	Publish(ctx context.Context, ev *model.SessionEvent) error
}

// Config describes one generation.
type Config struct {
	ConversationID string
	UserMessage    *model.UserMessage

	// History is the backend context, ending with UserMessage.
	History []model.Message

	Model            string
	ChunkSize        int
	TitleTemperature float64
	TitleTimeout     time.Duration
}

// Deps are the collaborators of a session.
type Deps struct {
	Store     Store
	LLM       llm.Client
	Publisher Publisher
	Log       *logger.Logger

	// OnFinish runs after the answer is persisted and before Done is closed.
	OnFinish func(*Session)
}

// Session is a single streaming generation.
type Session struct {
	cfg  Config
	deps Deps
	log  *logger.Logger

	state atomic.Int32
	done  chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	aborted  bool
	raw      strings.Builder
	buffered int
	started  time.Time
	result   *model.AssistantMessage
	err      error
}

// New creates an idle session.
func New(cfg Config, deps Deps) *Session {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = 30 * time.Second
	}
	if deps.Log == nil {
		deps.Log = logger.Global()
	}

	return &Session{
		cfg:  cfg,
		deps: deps,
		log: deps.Log.Named("session").With(
			zap.String("conversation_id", cfg.ConversationID),
			zap.String("message_id", cfg.UserMessage.ID),
		),
		done: make(chan struct{}),
	}
}

// ConversationID returns the conversation this session writes to.
func (s *Session) ConversationID() string { return s.cfg.ConversationID }

// UserMessageID returns the user message being answered.
func (s *Session) UserMessageID() string { return s.cfg.UserMessage.ID }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// Abort cancels the backend call. The accumulated text is still persisted.
func (s *Session) Abort() {
	s.mu.Lock()
	s.aborted = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Snapshot returns the answer accumulated so far, or nil before the first token.
func (s *Session) Snapshot() *model.AssistantMessage {
	s.mu.Lock()
	raw := s.raw.String()
	s.mu.Unlock()

	if raw == "" {
		return nil
	}
	seg := thinking.Split(raw)
	return &model.AssistantMessage{
		ConversationID: s.cfg.ConversationID,
		Content:        seg.Answer,
		Thinking:       seg.Thinking,
		ParentID:       s.cfg.UserMessage.ID,
	}
}

// Result returns the persisted answer once Done is closed.
func (s *Session) Result() (*model.AssistantMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Run drives the session to completion. It returns after finalizing.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.started = time.Now()
	if s.aborted {
		cancel()
	}
	s.mu.Unlock()

	ctx, span := tracing.Tracer().Start(ctx, "session.run")
	span.SetAttributes(
		attribute.String("conversation_id", s.cfg.ConversationID),
		attribute.String("model", s.cfg.Model),
	)
	defer span.End()

	s.setState(StateRequesting)
	s.publish(ctx, &model.SessionEvent{
		Type:     model.EventTypeStarted,
		ParentID: s.cfg.UserMessage.ID,
	})

	err := s.stream(ctx)

	status := "completed"
	switch {
	case s.isAborted():
		status = "aborted"
		s.log.Info("session aborted")
	case err != nil:
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("backend failure, keeping partial answer", zap.Error(err))
	}

	s.setState(StateFinalizing)
	s.finalize(context.WithoutCancel(ctx), status)
	s.setState(StateIdle)

	metrics.RecordSession(s.cfg.Model, status, time.Since(s.started).Seconds())
}

func (s *Session) stream(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	messages := make([]llm.ChatMessage, 0, len(s.cfg.History))
	for _, m := range s.cfg.History {
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: m.Prompt()})
	}

	_, err = s.deps.LLM.CompleteStream(ctx, &llm.CompletionRequest{
		Model:    s.cfg.Model,
		Messages: messages,
	}, func(token string, index int) error {
		// Tokens delivered after an abort are not part of the answer.
		if err := ctx.Err(); err != nil {
			return err
		}
		if index == 0 {
			s.setState(StateStreaming)
		}
		s.append(ctx, token)
		return nil
	})

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

// append accumulates a token and flushes once the unflushed text exceeds the chunk size.
func (s *Session) append(ctx context.Context, token string) {
	s.mu.Lock()
	s.raw.WriteString(token)
	s.buffered += len([]rune(token))
	flush := s.buffered > s.cfg.ChunkSize
	if flush {
		s.buffered = 0
	}
	raw := s.raw.String()
	s.mu.Unlock()

	if flush {
		s.publishPartial(ctx, raw)
	}
}

func (s *Session) publishPartial(ctx context.Context, raw string) {
	seg := thinking.Split(raw)
	s.publish(ctx, &model.SessionEvent{
		Type:            model.EventTypePartial,
		ParentID:        s.cfg.UserMessage.ID,
		Content:         seg.Answer,
		Thinking:        seg.Thinking,
		ThinkingPending: seg.Pending,
	})
}

func (s *Session) finalize(ctx context.Context, status string) {
	s.mu.Lock()
	raw := s.raw.String()
	pending := s.buffered > 0
	s.buffered = 0
	s.mu.Unlock()

	if pending {
		s.publishPartial(ctx, raw)
	}

	seg := thinking.Split(raw)
	answer, err := s.deps.Store.AppendAssistantMessage(ctx, s.cfg.ConversationID, s.cfg.UserMessage.ID, seg.Answer, seg.Thinking)
	if err != nil {
		s.log.Error("failed to persist assistant message", zap.Error(err))
	}

	s.mu.Lock()
	s.result, s.err = answer, err
	s.mu.Unlock()

	if s.deps.OnFinish != nil {
		s.deps.OnFinish(s)
	}

	completed := &model.SessionEvent{
		Type:     model.EventTypeCompleted,
		ParentID: s.cfg.UserMessage.ID,
		Content:  seg.Answer,
		Thinking: seg.Thinking,
		Aborted:  status == "aborted",
	}
	if answer != nil {
		completed.MessageID = answer.ID
	}
	if err != nil {
		completed.Error = err.Error()
	}
	s.publish(ctx, completed)

	if err == nil {
		s.maybeTitle(ctx, seg.Answer)
	}

	s.log.Debug("session finalized", zap.String("status", status), zap.Int("length", len(seg.Answer)))
}

func (s *Session) publish(ctx context.Context, ev *model.SessionEvent) {
	if s.deps.Publisher == nil {
		return
	}
	ev.ConversationID = s.cfg.ConversationID
	ev.CreatedAt = time.Now().UTC()
	if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish session event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

