package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/events"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/logger"
	"github.com/capitalize-ai/localchat/pkg/metrics"
)

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

// Mirror forwards lifecycle events from the session bus to NATS. Partial
// answers stay local.
type Mirror struct {
	pub     Publisher
	log     *logger.Logger
	timeout time.Duration
}

// NewMirror creates a mirror publishing through pub.
func NewMirror(pub Publisher, log *logger.Logger) *Mirror {
	return &Mirror{
		pub:     pub,
		log:     log.Named("mirror"),
		timeout: 2 * time.Second,
	}
}

// Run subscribes to bus and mirrors events until ctx is done.
func (m *Mirror) Run(ctx context.Context, bus *events.Bus) error {
	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			m.forward(ctx, msg)
			msg.Ack()
		}
	}
}

func (m *Mirror) forward(ctx context.Context, msg *message.Message) {
	eventType := events.Type(msg)
	if eventType == model.EventTypePartial {
		return
	}

	conversationID := events.ConversationID(msg)
	if conversationID == "" {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status := "success"
	if err := m.pub.Publish(pubCtx, EventSubject(conversationID, eventType), msg.UUID, msg.Payload); err != nil {
		status = "error"
		m.log.Warn("failed to mirror session event",
			zap.String("conversation_id", conversationID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
	metrics.MirrorPublishedTotal.WithLabelValues(string(eventType), status).Inc()
}
