package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/metrics"
)

// route applies a session event to the view state and forwards it.
// Partial answers of background conversations are dropped; every other
// event reaches observers.
func (c *Coordinator) route(ev *model.SessionEvent) {
	c.mu.Lock()
	foreground := ev.ConversationID != "" && ev.ConversationID == c.viewed

	switch ev.Type {
	case model.EventTypeStarted:
		c.state = Reduce(c.state, AddStreaming{ConversationID: ev.ConversationID})

	case model.EventTypePartial:
		if !foreground {
			c.mu.Unlock()
			metrics.PartialUpdatesTotal.WithLabelValues("background").Inc()
			c.log.Debug("suppressed background partial", zap.String("conversation_id", ev.ConversationID))
			return
		}
		c.state = Reduce(c.state, SetAssistantAnswer{Answer: ev.Partial()})
		metrics.PartialUpdatesTotal.WithLabelValues("foreground").Inc()

	case model.EventTypeCompleted:
		// The slot is released before completed is published, so a newer
		// session may already be running for the conversation.
		if !c.reg.has(ev.ConversationID) {
			c.state = Reduce(c.state, RemoveStreaming{ConversationID: ev.ConversationID})
		}

	case model.EventTypeTitle:
		c.state = Reduce(c.state, SetTitle{ConversationID: ev.ConversationID, Title: ev.Title})
	}
	c.mu.Unlock()

	if ev.Type == model.EventTypeCompleted && foreground {
		c.refresh(ev.ConversationID)
	}

	c.notify(Update{Event: *ev, Foreground: foreground}, ev.Type != model.EventTypePartial)
}

// refresh reloads the transcript of the viewed conversation after a completion.
func (c *Coordinator) refresh(conversationID string) {
	msgs, err := c.deps.Store.ResolveTranscript(context.Background(), conversationID)
	if err != nil {
		c.log.Warn("failed to refresh transcript", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.viewed == conversationID {
		c.state = Reduce(c.state, SetMessages{Messages: msgs})
	}
	c.mu.Unlock()
}

// notify delivers u to every observer without blocking. Lossy deliveries
// are skipped for observers that are not keeping up. An observer that has no
// room for a reliable update is dropped and its channel closed; it can
// subscribe again and start from State.
func (c *Coordinator) notify(u Update, reliable bool) {
	var stalled []int

	c.obsMu.RLock()
	for id, o := range c.observers {
		select {
		case o.ch <- u:
		default:
			if reliable {
				stalled = append(stalled, id)
			}
		}
	}
	c.obsMu.RUnlock()

	for _, id := range stalled {
		c.log.Warn("dropping stalled observer",
			zap.Int("observer", id),
			zap.String("event", string(u.Event.Type)),
			zap.String("conversation_id", u.Event.ConversationID))
		c.unsubscribe(id)
	}
}
