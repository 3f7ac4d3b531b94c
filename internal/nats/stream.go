package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/localchat/internal/model"
)

const (
	// StreamName is the name of the session events stream.
	StreamName = "LOCALCHAT"

	// SubjectPrefix is the prefix for all session event subjects.
	SubjectPrefix = "localchat"
)

// StreamManager publishes session events, through JetStream when the stream
// is available and as plain core NATS messages otherwise.
type StreamManager struct {
	client    *Client
	jetstream bool
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the session events stream exists. On failure the
// manager keeps publishing on core NATS.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.client.JetStream().CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		Description: "localchat session lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}

	m.jetstream = true
	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, conversationID, eventType)
}

// ConversationFilter returns the filter subject for all events of a conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, conversationID)
}

// Publish sends data on subject. msgID deduplicates redeliveries on JetStream.
func (m *StreamManager) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	if !m.jetstream {
		if err := m.client.Conn().Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
		return nil
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, msgID)

	if _, err := m.client.JetStream().PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
