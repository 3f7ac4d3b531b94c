// Package coordinator runs at most one streaming session per conversation and
// routes their live updates to the conversation currently in view.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/localchat/internal/events"
	"github.com/capitalize-ai/localchat/internal/llm"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/session"
	"github.com/capitalize-ai/localchat/internal/store"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// Store is the conversation store used by the coordinator.
type Store interface {
	session.Store
	CreateConversation(ctx context.Context) (*model.Conversation, error)
	AppendUserMessage(ctx context.Context, conversationID string, content model.UserContent) (*model.UserMessage, error)
	EditUserMessage(ctx context.Context, conversationID, targetMessageID string, newContent model.UserContent) (*model.UserMessage, error)
	GetUserMessage(ctx context.Context, id string) (*model.UserMessage, error)
	GetAssistantMessage(ctx context.Context, id string) (*model.AssistantMessage, error)
	ResolveTranscript(ctx context.Context, conversationID string) ([]model.Message, error)
	SwitchSibling(ctx context.Context, conversationID, userMessageID string, dir store.Direction) ([]model.Message, bool, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Config tunes sessions started by the coordinator.
type Config struct {
	DefaultModel     string
	ChunkSize        int
	TitleTemperature float64
	TitleTimeout     time.Duration

	// UpdateBuffer is the channel capacity of each observer.
	UpdateBuffer int
}

// Deps are the collaborators of the coordinator.
type Deps struct {
	Store   Store
	LLM     llm.Client
	Catalog *llm.Catalog
	Bus     *events.Bus
	Log     *logger.Logger
}

// SubmitResult is the outcome of Submit and Edit.
type SubmitResult struct {
	ConversationID string
	Message        *model.UserMessage

	// Started is false when a session was already running for the conversation.
	Started bool
}

// Update is delivered to observers.
type Update struct {
	Event model.SessionEvent

	// Foreground is true when the event belongs to the viewed conversation.
	Foreground bool
}

type observer struct {
	ch chan Update
}

// Coordinator owns the session registry and the foreground view state.
type Coordinator struct {
	cfg  Config
	deps Deps
	log  *logger.Logger
	reg  *registry

	ctx    context.Context
	cancel context.CancelFunc
	msgs   <-chan *message.Message

	mu     sync.Mutex
	viewed string
	state  ViewState

	obsMu     sync.RWMutex
	observers map[int]*observer
	nextObs   int
}

// New creates a coordinator and subscribes it to the bus.
// Run must be running for sessions to make progress.
func New(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Store == nil || deps.LLM == nil || deps.Bus == nil {
		return nil, errors.New("coordinator requires a store, an llm client and a bus")
	}
	if deps.Log == nil {
		deps.Log = logger.Global()
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := deps.Bus.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to session events: %w", err)
	}

	return &Coordinator{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log.Named("coordinator"),
		reg:       newRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		msgs:      msgs,
		state:     ViewState{Streaming: map[string]struct{}{}},
		observers: make(map[int]*observer),
	}, nil
}

// Run consumes session events until ctx is done or the coordinator is closed.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.msgs:
			if !ok {
				return nil
			}
			ev, err := events.Decode(msg)
			if err != nil {
				c.log.Error("dropping malformed session event", zap.Error(err))
				msg.Ack()
				continue
			}
			c.route(ev)
			msg.Ack()
		}
	}
}

// Close aborts running sessions, waits until their answers are persisted and
// stops consuming. Title synthesis still in flight is not waited for.
func (c *Coordinator) Close(ctx context.Context) error {
	defer c.cancel()

	ids := c.reg.ids()
	for _, id := range ids {
		c.reg.abort(id)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return c.Wait(ctx, id)
		})
	}
	return g.Wait()
}

// Submit appends content as a new user message and starts a session to answer it.
// An empty or unknown conversationID creates a new conversation. When a session
// is already running for the conversation nothing is written.
func (c *Coordinator) Submit(ctx context.Context, conversationID string, content model.UserContent, modelName string) (*SubmitResult, error) {
	conv, err := c.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	sl, ok := c.reg.reserve(conv.ID)
	if !ok {
		return &SubmitResult{ConversationID: conv.ID}, nil
	}

	user, err := c.deps.Store.AppendUserMessage(ctx, conv.ID, content)
	if err != nil {
		c.reg.release(conv.ID, sl)
		return nil, err
	}

	if err := c.launch(ctx, sl, conv.ID, user, modelName); err != nil {
		return nil, err
	}
	return &SubmitResult{ConversationID: conv.ID, Message: user, Started: true}, nil
}

// Edit adds an edited sibling of messageID and starts a session to answer it.
func (c *Coordinator) Edit(ctx context.Context, conversationID, messageID string, content model.UserContent, modelName string) (*SubmitResult, error) {
	sl, ok := c.reg.reserve(conversationID)
	if !ok {
		return &SubmitResult{ConversationID: conversationID}, nil
	}

	user, err := c.deps.Store.EditUserMessage(ctx, conversationID, messageID, content)
	if err != nil {
		c.reg.release(conversationID, sl)
		return nil, err
	}

	if err := c.launch(ctx, sl, conversationID, user, modelName); err != nil {
		return nil, err
	}
	return &SubmitResult{ConversationID: conversationID, Message: user, Started: true}, nil
}

// Start answers an existing user message that has no reply yet.
// It returns false when a session is already running for the conversation.
func (c *Coordinator) Start(ctx context.Context, conversationID, userMessageID, modelName string) (bool, error) {
	sl, ok := c.reg.reserve(conversationID)
	if !ok {
		return false, nil
	}

	user, err := c.deps.Store.GetUserMessage(ctx, userMessageID)
	if err == nil && user.ConversationID != conversationID {
		err = fmt.Errorf("user message %s: %w", userMessageID, model.ErrNotFound)
	}
	if err == nil && user.AnswerMessageID != "" {
		if _, lookupErr := c.deps.Store.GetAssistantMessage(ctx, user.AnswerMessageID); lookupErr == nil {
			err = fmt.Errorf("user message %s: %w", userMessageID, model.ErrAlreadyAnswered)
		}
	}
	if err != nil {
		c.reg.release(conversationID, sl)
		return false, err
	}

	if err := c.launch(ctx, sl, conversationID, user, modelName); err != nil {
		return false, err
	}
	return true, nil
}

// Abort aborts the running session of a conversation. It reports whether one was running.
func (c *Coordinator) Abort(conversationID string) bool {
	return c.reg.abort(conversationID)
}

// Wait blocks until the conversation has no running session. It returns as
// soon as the answer is persisted, before any title synthesis completes.
func (c *Coordinator) Wait(ctx context.Context, conversationID string) error {
	for {
		released := c.reg.released(conversationID)
		if released == nil {
			return nil
		}
		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Delete aborts any running session and removes the conversation.
func (c *Coordinator) Delete(ctx context.Context, conversationID string) error {
	c.Abort(conversationID)
	if err := c.Wait(ctx, conversationID); err != nil {
		return err
	}

	if err := c.deps.Store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.viewed == conversationID {
		c.viewed = ""
		c.state = Reduce(c.state, SetConversation{})
		c.state = Reduce(c.state, SetMessages{})
		c.state = Reduce(c.state, SetAssistantAnswer{})
	}
	c.mu.Unlock()
	return nil
}

// Navigate activates the previous or next sibling of messageID.
func (c *Coordinator) Navigate(ctx context.Context, conversationID, messageID string, dir store.Direction) ([]model.Message, bool, error) {
	msgs, moved, err := c.deps.Store.SwitchSibling(ctx, conversationID, messageID, dir)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	if c.viewed == conversationID {
		c.state = Reduce(c.state, SetMessages{Messages: msgs})
	}
	c.mu.Unlock()
	return msgs, moved, nil
}

// View makes conversationID the foreground conversation and returns its state.
// Every other session becomes background. An empty id clears the view.
func (c *Coordinator) View(ctx context.Context, conversationID string) (ViewState, error) {
	var (
		conv *model.Conversation
		msgs []model.Message
		err  error
	)
	if conversationID != "" {
		conv, err = c.deps.Store.GetConversation(ctx, conversationID)
		if err != nil {
			return ViewState{}, err
		}
		msgs, err = c.deps.Store.ResolveTranscript(ctx, conversationID)
		if err != nil {
			return ViewState{}, err
		}
		conv.Streaming = c.reg.has(conversationID)
	}

	c.mu.Lock()
	c.viewed = conversationID
	c.state = Reduce(c.state, SetConversation{Conversation: conv})
	c.state = Reduce(c.state, SetMessages{Messages: msgs})

	var answer *model.AssistantMessage
	if s := c.reg.get(conversationID); s != nil {
		answer = s.Snapshot()
	}
	c.state = Reduce(c.state, SetAssistantAnswer{Answer: answer})
	state := c.state
	c.mu.Unlock()

	ev := model.SessionEvent{
		Type:           model.EventTypeView,
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}
	if answer != nil {
		ev.ParentID = answer.ParentID
		ev.Content = answer.Content
		ev.Thinking = answer.Thinking
	}
	c.notify(Update{Event: ev, Foreground: true}, true)

	return state, nil
}

// Viewed returns the foreground conversation id.
func (c *Coordinator) Viewed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewed
}

// State returns the current foreground view state.
func (c *Coordinator) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsStreaming reports whether a session is running for the conversation.
func (c *Coordinator) IsStreaming(conversationID string) bool {
	return c.reg.has(conversationID)
}

// Streaming returns the ids of conversations with a running session.
func (c *Coordinator) Streaming() []string {
	return c.reg.ids()
}

// Subscribe registers an observer. The returned func unsubscribes and closes
// the channel. The channel is also closed when the observer falls behind on
// updates that cannot be dropped.
func (c *Coordinator) Subscribe() (<-chan Update, func()) {
	o := &observer{ch: make(chan Update, c.cfg.UpdateBuffer)}

	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	c.obsMu.Unlock()

	return o.ch, func() { c.unsubscribe(id) }
}

// unsubscribe removes observer id and closes its channel. Sends happen under
// the read lock, so no send can race the close.
func (c *Coordinator) unsubscribe(id int) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	o, ok := c.observers[id]
	if !ok {
		return
	}
	delete(c.observers, id)
	close(o.ch)
}

func (c *Coordinator) conversation(ctx context.Context, id string) (*model.Conversation, error) {
	if id != "" {
		conv, err := c.deps.Store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	}
	return c.deps.Store.CreateConversation(ctx)
}

// launch starts the session for a reserved slot. The slot is released on failure.
func (c *Coordinator) launch(ctx context.Context, sl *slot, conversationID string, user *model.UserMessage, modelName string) error {
	transcript, err := c.deps.Store.ResolveTranscript(ctx, conversationID)
	if err != nil {
		c.reg.release(conversationID, sl)
		return err
	}

	s := session.New(session.Config{
		ConversationID:   conversationID,
		UserMessage:      user,
		History:          contextFor(transcript, user),
		Model:            c.resolveModel(ctx, modelName),
		ChunkSize:        c.cfg.ChunkSize,
		TitleTemperature: c.cfg.TitleTemperature,
		TitleTimeout:     c.cfg.TitleTimeout,
	}, session.Deps{
		Store:     c.deps.Store,
		LLM:       c.deps.LLM,
		Publisher: c.deps.Bus,
		Log:       c.deps.Log,
		OnFinish: func(*session.Session) {
			c.reg.release(conversationID, sl)
		},
	})
	c.reg.attach(sl, s)

	go s.Run(c.ctx)

	c.log.Debug("session started",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", user.ID),
	)
	return nil
}

func (c *Coordinator) resolveModel(ctx context.Context, name string) string {
	if name != "" {
		return name
	}
	if c.cfg.DefaultModel != "" {
		return c.cfg.DefaultModel
	}
	if c.deps.Catalog != nil {
		return c.deps.Catalog.Resolve(ctx, "")
	}
	return ""
}

// contextFor returns the backend context for answering user: the active path
// up to and including user, or the active path followed by user when user is
// not on it.
func contextFor(transcript []model.Message, user *model.UserMessage) []model.Message {
	for i, m := range transcript {
		if m.ID == user.ID {
			return transcript[:i+1]
		}
	}
	out := make([]model.Message, 0, len(transcript)+1)
	out = append(out, transcript...)
	return append(out, user.AsMessage())
}
