package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

func TestBus_PublishesInOrder(t *testing.T) {
	bus := NewBus(logger.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	go func() {
		for _, content := range []string{"a", "ab", "abc"} {
			_ = bus.Publish(ctx, &model.SessionEvent{
				Type:           model.EventTypePartial,
				ConversationID: "c1",
				Content:        content,
			})
		}
		_ = bus.Publish(ctx, &model.SessionEvent{Type: model.EventTypeCompleted, ConversationID: "c1"})
	}()

	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) < 4 {
		select {
		case msg := <-msgs:
			ev, err := Decode(msg)
			require.NoError(t, err)
			assert.Equal(t, ev.Type, Type(msg))
			got = append(got, string(ev.Type)+":"+ev.Content)
			msg.Ack()
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	assert.Equal(t, []string{"partial:a", "partial:ab", "partial:abc", "completed:"}, got)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(logger.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	err := bus.Publish(context.Background(), &model.SessionEvent{Type: model.EventTypeStarted, ConversationID: "c1"})
	assert.NoError(t, err)
}
