// Package events carries session events between streaming sessions and
// their observers over an in-process watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// Topic is the single topic all session events are published on.
const Topic = "localchat.sessions"

const (
	metadataConversation = "conversation_id"
	metadataType         = "event_type"
)

// Bus publishes session events. Publish blocks until every subscriber has
// acked, which keeps the events of one session in order.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    *logger.Logger
}

// NewBus creates an in-process bus.
func NewBus(log *logger.Logger) *Bus {
	wl := NewWatermillLogger(log.Named("watermill"))
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, wl),
		log: log,
	}
}

// Publish sends ev to every subscriber.
func (b *Bus) Publish(ctx context.Context, ev *model.SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataConversation, ev.ConversationID)
	msg.Metadata.Set(metadataType, string(ev.Type))
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of raw messages. Each message must be acked.
// The channel closes when ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close stops the bus and closes every subscription.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode parses a bus message into a session event.
func Decode(msg *message.Message) (*model.SessionEvent, error) {
	var ev model.SessionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode session event %s: %w", msg.UUID, err)
	}
	return &ev, nil
}

// Type returns the event type without decoding the payload.
func Type(msg *message.Message) model.EventType {
	return model.EventType(msg.Metadata.Get(metadataType))
}

// ConversationID returns the conversation of the event without decoding the payload.
func ConversationID(msg *message.Message) string {
	return msg.Metadata.Get(metadataConversation)
}

// WatermillLogger adapts the zap logger to watermill.
type WatermillLogger struct {
	log *zap.Logger
}

// NewWatermillLogger wraps l for watermill.
func NewWatermillLogger(l *logger.Logger) *WatermillLogger {
	return &WatermillLogger{log: l.Logger}
}

func fields(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (w *WatermillLogger) Error(msg string, err error, f watermill.LogFields) {
	w.log.Error(msg, append(fields(f), zap.Error(err))...)
}

// Info maps to debug because watermill is chatty.
func (w *WatermillLogger) Info(msg string, f watermill.LogFields) {
	w.log.Debug(msg, fields(f)...)
}

func (w *WatermillLogger) Debug(msg string, f watermill.LogFields) {
	w.log.Debug(msg, fields(f)...)
}

func (w *WatermillLogger) Trace(msg string, f watermill.LogFields) {}

func (w *WatermillLogger) With(f watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{log: w.log.With(fields(f)...)}
}

var _ watermill.LoggerAdapter = &WatermillLogger{}
