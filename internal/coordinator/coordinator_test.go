package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/localchat/internal/events"
	"github.com/capitalize-ai/localchat/internal/llm/llmtest"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/store"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

type harness struct {
	store  *store.Store
	client *llmtest.Scripted
	coord  *Coordinator
}

func newHarness(t *testing.T, client *llmtest.Scripted) *harness {
	t.Helper()
	return newHarnessConfig(t, client, nil)
}

func newHarnessConfig(t *testing.T, client *llmtest.Scripted, tune func(*Config)) *harness {
	t.Helper()

	log := logger.NewNop()
	s, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), log)
	require.NoError(t, err)

	bus := events.NewBus(log)

	cfg := Config{
		DefaultModel: "test-model",
		ChunkSize:    5,
		TitleTimeout: time.Second,
	}
	if tune != nil {
		tune(&cfg)
	}
	c, err := New(Deps{Store: s, LLM: client, Bus: bus, Log: log}, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = c.Run(ctx)
	}()

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = c.Close(closeCtx)
		cancel()
		<-runDone
		_ = bus.Close()
		_ = s.Close()
	})

	return &harness{store: s, client: client, coord: c}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitStreamed(t *testing.T, client *llmtest.Scripted) {
	t.Helper()
	select {
	case <-client.Streamed():
	case <-time.After(5 * time.Second):
		t.Fatal("tokens were not streamed")
	}
}

func TestSubmit_NewConversationRoundTrip(t *testing.T) {
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"hello ", "there"}, Title: "Greeting"})
	ctx := context.Background()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)
	require.True(t, res.Started)
	require.NotEmpty(t, res.ConversationID)
	assert.Equal(t, "hi", res.Message.Content.Message)

	require.NoError(t, h.coord.Wait(waitCtx(t), res.ConversationID))
	assert.False(t, h.coord.IsStreaming(res.ConversationID))
	assert.Empty(t, h.coord.Streaming())

	state, err := h.coord.View(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "hello there", state.Messages[1].Content)
	assert.Nil(t, state.AssistantAnswer)

	require.Eventually(t, func() bool {
		conv, err := h.store.GetConversation(ctx, res.ConversationID)
		return err == nil && conv.Title == "Greeting"
	}, 5*time.Second, 10*time.Millisecond)

	reqs := h.client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "test-model", reqs[0].Model)
}

func TestSubmit_UnknownConversationCreatesOne(t *testing.T) {
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"ok"}, Title: "x"})

	res, err := h.coord.Submit(context.Background(), "does-not-exist", model.TextContent("hi"), "m")
	require.NoError(t, err)
	assert.NotEqual(t, "does-not-exist", res.ConversationID)
	require.NoError(t, h.coord.Wait(waitCtx(t), res.ConversationID))
}

func TestSubmit_FollowUpUsesActivePath(t *testing.T) {
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"answer"}, Title: "x"})
	ctx := context.Background()

	first, err := h.coord.Submit(ctx, "", model.TextContent("one"), "")
	require.NoError(t, err)
	require.NoError(t, h.coord.Wait(waitCtx(t), first.ConversationID))

	second, err := h.coord.Submit(ctx, first.ConversationID, model.TextContent("two"), "")
	require.NoError(t, err)
	require.True(t, second.Started)
	require.NoError(t, h.coord.Wait(waitCtx(t), first.ConversationID))

	reqs := h.client.Requests()
	require.Len(t, reqs, 2)
	var contents []string
	for _, m := range reqs[1].Messages {
		contents = append(contents, m.Role+":"+m.Content)
	}
	assert.Equal(t, []string{"user:one", "assistant:answer", "user:two"}, contents)
}

func TestSubmit_WhileStreamingIsNoop(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"partial"}, Gate: gate, Title: "x"})
	ctx := context.Background()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)
	require.True(t, res.Started)
	waitStreamed(t, h.client)

	again, err := h.coord.Submit(ctx, res.ConversationID, model.TextContent("again"), "")
	require.NoError(t, err)
	assert.False(t, again.Started)
	assert.Nil(t, again.Message)

	started, err := h.coord.Start(ctx, res.ConversationID, res.Message.ID, "")
	require.NoError(t, err)
	assert.False(t, started)

	transcript, err := h.store.ResolveTranscript(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, transcript, 1)

	close(gate)
	require.NoError(t, h.coord.Wait(waitCtx(t), res.ConversationID))
}

func TestSubmit_ConcurrentStartsReserveOnce(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"x"}, Gate: gate, Title: "x"})
	ctx := context.Background()

	conv, err := h.store.CreateConversation(ctx)
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.coord.Submit(ctx, conv.ID, model.TextContent("hi"), "")
			if err != nil {
				return
			}
			if res.Started {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, []string{conv.ID}, h.coord.Streaming())

	close(gate)
	require.NoError(t, h.coord.Wait(waitCtx(t), conv.ID))

	transcript, err := h.store.ResolveTranscript(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}

func TestBackgroundCompletionClearsStreaming(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"Hello", " world!", "!"}, Gate: gate, Title: "x"})
	ctx := context.Background()

	convB, err := h.store.CreateConversation(ctx)
	require.NoError(t, err)

	updates, unsubscribe := h.coord.Subscribe()
	defer unsubscribe()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)
	convA := res.ConversationID

	_, err = h.coord.View(ctx, convA)
	require.NoError(t, err)
	waitStreamed(t, h.client)
	require.True(t, h.coord.IsStreaming(convA))

	_, err = h.coord.View(ctx, convB.ID)
	require.NoError(t, err)
	assert.Equal(t, convB.ID, h.coord.Viewed())

	close(gate)

	var (
		afterSwitch []Update
		seenView    bool
		completed   *Update
	)
	timeout := time.After(5 * time.Second)
	for completed == nil {
		select {
		case u := <-updates:
			if u.Event.Type == model.EventTypeView && u.Event.ConversationID == convB.ID {
				seenView = true
				continue
			}
			if !seenView {
				continue
			}
			afterSwitch = append(afterSwitch, u)
			if u.Event.Type == model.EventTypeCompleted && u.Event.ConversationID == convA {
				u := u
				completed = &u
			}
		case <-timeout:
			t.Fatal("no completion for background conversation")
		}
	}

	assert.False(t, completed.Foreground)
	assert.Equal(t, "Hello world!!", completed.Event.Content)
	for _, u := range afterSwitch {
		assert.NotEqual(t, model.EventTypePartial, u.Event.Type, "background partial leaked")
	}

	require.NoError(t, h.coord.Wait(waitCtx(t), convA))
	assert.False(t, h.coord.IsStreaming(convA))
	assert.False(t, h.coord.State().IsStreaming(convA))

	state, err := h.coord.View(ctx, convA)
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "Hello world!!", state.Messages[1].Content)
	assert.False(t, state.Conversation.Streaming)
}

func TestView_SeedsRunningAnswer(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"<think>plan</think>", "Partial answer"}, Gate: gate, Title: "x"})
	ctx := context.Background()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)
	waitStreamed(t, h.client)

	state, err := h.coord.View(ctx, res.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, state.AssistantAnswer)
	assert.Equal(t, "Partial answer", state.AssistantAnswer.Content)
	assert.Equal(t, "plan", state.AssistantAnswer.Thinking)
	assert.True(t, state.Conversation.Streaming)
	require.Len(t, state.Messages, 1)

	close(gate)
	require.NoError(t, h.coord.Wait(waitCtx(t), res.ConversationID))

	require.Eventually(t, func() bool {
		st := h.coord.State()
		return st.AssistantAnswer == nil && len(st.Messages) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAbort_PersistsPartial(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"Hello", " wor"}, Gate: gate, Title: "x"})
	ctx := context.Background()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)
	waitStreamed(t, h.client)

	assert.True(t, h.coord.Abort(res.ConversationID))
	require.NoError(t, h.coord.Wait(waitCtx(t), res.ConversationID))
	assert.False(t, h.coord.Abort(res.ConversationID))

	transcript, err := h.store.ResolveTranscript(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "Hello wor", transcript[1].Content)
}

func TestEdit_AnswersNewBranch(t *testing.T) {
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"reply"}, Title: "x"})
	ctx := context.Background()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)
	require.NoError(t, h.coord.Wait(waitCtx(t), res.ConversationID))

	edited, err := h.coord.Edit(ctx, res.ConversationID, res.Message.ID, model.TextContent("hi there"), "")
	require.NoError(t, err)
	require.True(t, edited.Started)
	require.NoError(t, h.coord.Wait(waitCtx(t), res.ConversationID))

	transcript, err := h.store.ResolveTranscript(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "hi there", transcript[0].Content)

	// The edited request must not carry the superseded branch.
	reqs := h.client.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 1)
	assert.Equal(t, "hi there", reqs[1].Messages[0].Content)

	msgs, moved, err := h.coord.Navigate(ctx, res.ConversationID, edited.Message.ID, store.Prev)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestStart_AnswersPendingMessage(t *testing.T) {
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"late"}, Title: "x"})
	ctx := context.Background()

	conv, err := h.store.CreateConversation(ctx)
	require.NoError(t, err)
	user, err := h.store.AppendUserMessage(ctx, conv.ID, model.TextContent("pending"))
	require.NoError(t, err)

	started, err := h.coord.Start(ctx, conv.ID, user.ID, "")
	require.NoError(t, err)
	require.True(t, started)
	require.NoError(t, h.coord.Wait(waitCtx(t), conv.ID))

	_, err = h.coord.Start(ctx, conv.ID, user.ID, "")
	assert.ErrorIs(t, err, model.ErrAlreadyAnswered)
	assert.False(t, h.coord.IsStreaming(conv.ID))

	_, err = h.coord.Start(ctx, conv.ID, "missing", "")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, h.coord.IsStreaming(conv.ID))
}

func TestDelete_AbortsAndRemoves(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"x"}, Gate: gate, Title: "x"})
	ctx := context.Background()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)
	waitStreamed(t, h.client)

	_, err = h.coord.View(ctx, res.ConversationID)
	require.NoError(t, err)

	require.NoError(t, h.coord.Delete(waitCtx(t), res.ConversationID))
	assert.False(t, h.coord.IsStreaming(res.ConversationID))
	assert.Empty(t, h.coord.Viewed())

	_, err = h.store.GetConversation(ctx, res.ConversationID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubmit_CorruptCursorReleasesSlot(t *testing.T) {
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"x"}, Title: "x"})
	ctx := context.Background()

	conv, err := h.store.CreateConversation(ctx)
	require.NoError(t, err)
	user, err := h.store.AppendUserMessage(ctx, conv.ID, model.TextContent("unanswered"))
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)

	// The cursor points at a user message, so the next append has nowhere to attach.
	_, err = h.coord.Submit(ctx, conv.ID, model.TextContent("next"), "")
	assert.ErrorIs(t, err, model.ErrInvalidCursor)
	assert.False(t, h.coord.IsStreaming(conv.ID))
}

func TestContextFor(t *testing.T) {
	u1 := model.Message{ID: "u1", Role: model.RoleUser, Content: "a"}
	a1 := model.Message{ID: "a1", Role: model.RoleAssistant, Content: "b"}
	u2 := model.Message{ID: "u2", Role: model.RoleUser, Content: "c"}

	onPath := contextFor([]model.Message{u1, a1, u2}, &model.UserMessage{ID: "u2"})
	assert.Equal(t, []string{"u1", "a1", "u2"}, ids(onPath))

	cut := contextFor([]model.Message{u1, a1, u2}, &model.UserMessage{ID: "u1"})
	assert.Equal(t, []string{"u1"}, ids(cut))

	appended := contextFor([]model.Message{u1, a1}, &model.UserMessage{ID: "x", Content: model.TextContent("new")})
	assert.Equal(t, []string{"u1", "a1", "x"}, ids(appended))
	assert.Equal(t, "new", appended[2].Content)
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestSubscribe_StalledObserverIsDropped(t *testing.T) {
	h := newHarnessConfig(t, &llmtest.Scripted{Tokens: []string{"fine"}, Title: "x"}, func(cfg *Config) {
		cfg.UpdateBuffer = 1
	})
	ctx := context.Background()

	stalled, unsubscribe := h.coord.Subscribe()

	first, err := h.coord.Submit(ctx, "", model.TextContent("one"), "")
	require.NoError(t, err)
	require.NoError(t, h.coord.Wait(waitCtx(t), first.ConversationID))

	// The bus keeps flowing for other conversations.
	second, err := h.coord.Submit(ctx, "", model.TextContent("two"), "")
	require.NoError(t, err)
	require.True(t, second.Started)
	require.NoError(t, h.coord.Wait(waitCtx(t), second.ConversationID))

	msgs, err := h.store.ResolveTranscript(ctx, second.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "fine", msgs[1].Content)

	drained := make(chan int, 1)
	go func() {
		n := 0
		for range stalled {
			n++
		}
		drained <- n
	}()

	select {
	case n := <-drained:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("stalled observer was never dropped")
	}

	// Unsubscribing a dropped observer is a no-op.
	unsubscribe()
}

func TestWait_DoesNotWaitForTitle(t *testing.T) {
	titleGate := make(chan struct{})
	client := &llmtest.Scripted{Tokens: []string{"answer"}, Title: "Slow title", TitleGate: titleGate}
	h := newHarnessConfig(t, client, func(cfg *Config) {
		cfg.TitleTimeout = time.Minute
	})
	t.Cleanup(func() { close(titleGate) })
	ctx := context.Background()

	res, err := h.coord.Submit(ctx, "", model.TextContent("hi"), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.TitleCalls() == 1 }, 5*time.Second, 10*time.Millisecond)

	deadline, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.coord.Wait(deadline, res.ConversationID))

	msgs, err := h.store.ResolveTranscript(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	conv, err := h.store.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.PlaceholderTitle, conv.Title)
}

func TestRoute_CompletedKeepsNewerSessionStreaming(t *testing.T) {
	h := newHarness(t, &llmtest.Scripted{Tokens: []string{"x"}, Title: "x"})
	const id = "conversation-a"

	// A newer session holds the slot when the older one's completion is routed.
	sl, ok := h.coord.reg.reserve(id)
	require.True(t, ok)
	h.coord.route(&model.SessionEvent{Type: model.EventTypeStarted, ConversationID: id})
	h.coord.route(&model.SessionEvent{Type: model.EventTypeCompleted, ConversationID: id})
	assert.True(t, h.coord.State().IsStreaming(id))

	require.True(t, h.coord.reg.release(id, sl))
	h.coord.route(&model.SessionEvent{Type: model.EventTypeCompleted, ConversationID: id})
	assert.False(t, h.coord.State().IsStreaming(id))
}
