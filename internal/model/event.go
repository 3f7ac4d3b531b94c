package model

import (
	"time"
)

// EventType represents the type of session event.
type EventType string

const (
	EventTypeStarted   EventType = "started"
	EventTypePartial   EventType = "partial"
	EventTypeCompleted EventType = "completed"
	EventTypeTitle     EventType = "title"

	// EventTypeView is emitted when the foreground conversation changes.
	EventTypeView EventType = "view"
)

// SessionEvent is emitted by a streaming session and routed by the coordinator.
type SessionEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	ParentID       string    `json:"parent_id,omitempty"`

	// Content and Thinking always carry the whole answer so far, never a diff.
	Content         string `json:"content,omitempty"`
	Thinking        string `json:"thinking,omitempty"`
	ThinkingPending bool   `json:"thinking_pending,omitempty"`

	Title     string    `json:"title,omitempty"`
	Aborted   bool      `json:"aborted,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Partial builds the in-flight assistant message carried by the event.
func (e *SessionEvent) Partial() *AssistantMessage {
	return &AssistantMessage{
		ID:             e.MessageID,
		ConversationID: e.ConversationID,
		Content:        e.Content,
		Thinking:       e.Thinking,
		Date:           e.CreatedAt,
		ParentID:       e.ParentID,
	}
}
