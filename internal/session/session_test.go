package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/localchat/internal/llm/llmtest"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/store"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (r *recorder) Publish(_ context.Context, ev *model.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *recorder) ofType(t model.EventType) []model.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SessionEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store *store.Store
	conv  string
	user  *model.UserMessage
	pub   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	conv, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	user, err := s.AppendUserMessage(ctx, conv.ID, model.TextContent("hi"))
	require.NoError(t, err)

	return &fixture{store: s, conv: conv.ID, user: user, pub: &recorder{}}
}

func (f *fixture) session(client *llmtest.Scripted, chunk int, onFinish func(*Session)) *Session {
	return New(Config{
		ConversationID: f.conv,
		UserMessage:    f.user,
		History:        []model.Message{f.user.AsMessage()},
		Model:          "test-model",
		ChunkSize:      chunk,
	}, Deps{
		Store:     f.store,
		LLM:       client,
		Publisher: f.pub,
		Log:       logger.NewNop(),
		OnFinish:  onFinish,
	})
}

func (f *fixture) transcript(t *testing.T) []model.Message {
	t.Helper()
	msgs, err := f.store.ResolveTranscript(context.Background(), f.conv)
	require.NoError(t, err)
	return msgs
}

func wait(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSession_StreamsAndPersists(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{
		Tokens: []string{"<think>", "reasoning", "</think>", "final ", "answer"},
		Title:  "\"Greeting Chat\"\nextra line",
	}

	var finishedBeforeDone bool
	var s *Session
	s = f.session(client, 0, func(sess *Session) {
		select {
		case <-sess.Done():
		default:
			finishedBeforeDone = true
		}
	})

	assert.Equal(t, StateIdle, s.State())
	s.Run(context.Background())
	wait(t, s)

	assert.True(t, finishedBeforeDone)
	assert.Equal(t, StateIdle, s.State())

	result, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "final answer", result.Content)
	assert.Equal(t, "reasoning", result.Thinking)

	msgs := f.transcript(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "final answer", msgs[1].Content)
	assert.Equal(t, "reasoning", msgs[1].Thinking)

	conv, err := f.store.GetConversation(context.Background(), f.conv)
	require.NoError(t, err)
	assert.Equal(t, "Greeting Chat", conv.Title)

	types := f.pub.types()
	require.NotEmpty(t, types)
	assert.Equal(t, model.EventTypeStarted, types[0])
	assert.Equal(t, model.EventTypeTitle, types[len(types)-1])

	completed := f.pub.ofType(model.EventTypeCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, result.ID, completed[0].MessageID)
	assert.Equal(t, f.user.ID, completed[0].ParentID)
	assert.False(t, completed[0].Aborted)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "test-model", reqs[0].Model)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "user", reqs[0].Messages[0].Role)
	assert.Equal(t, "hi", reqs[0].Messages[0].Content)
}

func TestSession_PartialsCarryWholeAnswer(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{
		Tokens: []string{"abc", "abc", "abc", "abc", "abc"},
		Title:  "Letters",
	}

	s := f.session(client, 5, nil)
	s.Run(context.Background())
	wait(t, s)

	var contents []string
	for _, ev := range f.pub.ofType(model.EventTypePartial) {
		contents = append(contents, ev.Content)
	}
	assert.Equal(t, []string{"abcabc", "abcabcabcabc", "abcabcabcabcabc"}, contents)
}

func TestSession_PartialThinkingInProgress(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{
		Tokens: []string{"<think>", "still thinking about it"},
		Title:  "x",
	}

	s := f.session(client, 1, nil)
	s.Run(context.Background())
	wait(t, s)

	partials := f.pub.ofType(model.EventTypePartial)
	require.NotEmpty(t, partials)
	last := partials[len(partials)-1]
	assert.True(t, last.ThinkingPending)
	assert.Equal(t, "still thinking about it", last.Thinking)
	assert.Empty(t, last.Content)
}

func TestSession_AbortKeepsPartialAnswer(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	client := &llmtest.Scripted{
		Tokens: []string{"Hello", " wor"},
		Gate:   gate,
		Title:  "Hello",
	}

	s := f.session(client, 0, nil)
	go s.Run(context.Background())

	select {
	case <-client.Streamed():
	case <-time.After(5 * time.Second):
		t.Fatal("tokens were not streamed")
	}
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap != nil && snap.Content == "Hello wor"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateStreaming, s.State())

	s.Abort()
	wait(t, s)

	result, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "Hello wor", result.Content)

	msgs := f.transcript(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello wor", msgs[1].Content)

	completed := f.pub.ofType(model.EventTypeCompleted)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Aborted)
}

func TestSession_AbortBeforeRun(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{Tokens: []string{"never"}, TitleErr: errors.New("offline")}

	s := f.session(client, 0, nil)
	s.Abort()
	s.Run(context.Background())
	wait(t, s)

	result, err := s.Result()
	require.NoError(t, err)
	assert.Empty(t, result.Content)
	assert.Empty(t, client.Requests())
}

func TestSession_BackendFailureKeepsPartial(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{
		Tokens: []string{"partial ", "text"},
		Err:    errors.New("connection reset"),
		Title:  "Partial",
	}

	s := f.session(client, 0, nil)
	s.Run(context.Background())
	wait(t, s)

	result, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "partial text", result.Content)

	msgs := f.transcript(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestSession_BackendFailureWithoutText(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{Err: errors.New("model not found"), Title: "x"}

	s := f.session(client, 0, nil)
	s.Run(context.Background())
	wait(t, s)

	result, err := s.Result()
	require.NoError(t, err)
	assert.Empty(t, result.Content)

	user, err := f.store.GetUserMessage(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ID, user.AnswerMessageID)
}

func TestSession_TitleFallback(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{Tokens: []string{"hello"}, TitleErr: errors.New("timeout")}

	s := f.session(client, 0, nil)
	s.Run(context.Background())
	wait(t, s)

	conv, err := f.store.GetConversation(context.Background(), f.conv)
	require.NoError(t, err)
	assert.Equal(t, model.FallbackTitle, conv.Title)

	titles := f.pub.ofType(model.EventTypeTitle)
	require.Len(t, titles, 1)
	assert.Equal(t, model.FallbackTitle, titles[0].Title)
}

func TestSession_TitleOnlyOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.RenameConversation(context.Background(), f.conv, "Chosen"))

	client := &llmtest.Scripted{Tokens: []string{"hello"}, Title: "Other"}
	s := f.session(client, 0, nil)
	s.Run(context.Background())
	wait(t, s)

	assert.Equal(t, 0, client.TitleCalls())
	assert.Empty(t, f.pub.ofType(model.EventTypeTitle))
}

func TestSession_PersistFailureStillFinishes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.DeleteConversation(context.Background(), f.conv))

	finished := false
	client := &llmtest.Scripted{Tokens: []string{"orphan"}}
	s := f.session(client, 0, func(*Session) { finished = true })
	s.Run(context.Background())
	wait(t, s)

	_, err := s.Result()
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.True(t, finished)

	completed := f.pub.ofType(model.EventTypeCompleted)
	require.Len(t, completed, 1)
	assert.NotEmpty(t, completed[0].Error)
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{raw: "Greeting Chat", expected: "Greeting Chat"},
		{raw: "  \"Quoted Title\"  ", expected: "Quoted Title"},
		{raw: "Title: Go Channels.", expected: "Go Channels"},
		{raw: "<think>let me see</think>\n**Bold Title**\nmore", expected: "Bold Title"},
		{raw: "", expected: ""},
		{raw: "<think>only thinking", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTitle(tt.raw))
		})
	}
}

func TestSession_PersistsTrimmedAnswer(t *testing.T) {
	f := newFixture(t)
	client := &llmtest.Scripted{Tokens: []string{"\n  spaced ", "answer \n"}, Title: "x"}

	s := f.session(client, 0, nil)
	s.Run(context.Background())
	wait(t, s)

	result, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "spaced answer", result.Content)

	msgs := f.transcript(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "spaced answer", msgs[1].Content)
}
