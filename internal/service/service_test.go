package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/localchat/internal/coordinator"
	"github.com/capitalize-ai/localchat/internal/events"
	"github.com/capitalize-ai/localchat/internal/llm/llmtest"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/store"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

func setup(t *testing.T) (*store.Store, *coordinator.Coordinator) {
	t.Helper()

	log := logger.NewNop()
	s, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), log)
	require.NoError(t, err)
	bus := events.NewBus(log)

	c, err := coordinator.New(coordinator.Deps{
		Store: s,
		LLM:   &llmtest.Scripted{Tokens: []string{"fine, ", "thanks"}, Title: "Small talk"},
		Bus:   bus,
		Log:   log,
	}, coordinator.Config{DefaultModel: "test-model", ChunkSize: 5, TitleTimeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = c.Close(closeCtx)
		cancel()
		<-done
		_ = bus.Close()
		_ = s.Close()
	})
	return s, c
}

func waitIdle(t *testing.T, c *coordinator.Coordinator, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx, id))
}

func TestMessageService_SendAndTranscript(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	log := logger.NewNop()
	messages := NewMessageService(c, log)
	conversations := NewConversationService(s, c, log)

	resp, err := messages.Send(ctx, "", &model.SendMessageRequest{
		Content: "how are you?",
		Files:   []model.File{{Name: "notes.txt", Type: "text/plain", Content: "hi"}},
	})
	require.NoError(t, err)
	require.True(t, resp.Started)
	waitIdle(t, c, resp.ConversationID)

	transcript, err := conversations.Transcript(ctx, resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, transcript.Messages, 2)
	assert.Equal(t, "how are you?", transcript.Messages[0].Content)
	assert.Equal(t, []model.FileMetadata{{Name: "notes.txt", Type: "text/plain"}}, transcript.Messages[0].Files)
	assert.Equal(t, "fine, thanks", transcript.Messages[1].Content)
	assert.False(t, transcript.Streaming)

	list, err := conversations.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	assert.False(t, list.HasMore)
}

func TestMessageService_EditAndNavigate(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	log := logger.NewNop()
	messages := NewMessageService(c, log)
	conversations := NewConversationService(s, c, log)

	first, err := messages.Send(ctx, "", &model.SendMessageRequest{Content: "v1"})
	require.NoError(t, err)
	waitIdle(t, c, first.ConversationID)

	edited, err := messages.Edit(ctx, first.ConversationID, first.Message.ID, &model.SendMessageRequest{Content: "v2"})
	require.NoError(t, err)
	waitIdle(t, c, first.ConversationID)

	siblings, err := conversations.Siblings(ctx, first.ConversationID, edited.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.Message.ID, edited.Message.ID}, siblings.MessageIDs)
	assert.Equal(t, 1, siblings.Index)

	transcript, moved, err := messages.Navigate(ctx, first.ConversationID, edited.Message.ID, "prev")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "v1", transcript.Messages[0].Content)

	_, moved, err = messages.Navigate(ctx, first.ConversationID, first.Message.ID, "prev")
	require.NoError(t, err)
	assert.False(t, moved)

	_, _, err = messages.Navigate(ctx, first.ConversationID, first.Message.ID, "sideways")
	assert.Error(t, err)
}

func TestConversationService_RenameAndDelete(t *testing.T) {
	s, c := setup(t)
	ctx := context.Background()
	conversations := NewConversationService(s, c, logger.NewNop())

	conv, err := conversations.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PlaceholderTitle, conv.Title)

	renamed, err := conversations.Rename(ctx, conv.ID, &model.UpdateConversationRequest{Title: "Trip plans"})
	require.NoError(t, err)
	assert.Equal(t, "Trip plans", renamed.Title)

	_, err = conversations.Rename(ctx, conv.ID, &model.UpdateConversationRequest{})
	assert.Error(t, err)

	require.NoError(t, conversations.Delete(ctx, conv.ID))
	_, err = conversations.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = conversations.Siblings(ctx, conv.ID, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
