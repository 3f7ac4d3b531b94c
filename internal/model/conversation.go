// Package model defines data structures for the local chat client.
package model

import (
	"time"
)

const (
	// PlaceholderTitle is the title of a conversation before the first exchange completes.
	PlaceholderTitle = "New Conversation"

	// FallbackTitle replaces the placeholder when title synthesis fails.
	FallbackTitle = "Untitled conversation"
)

// Conversation is a titled container for a branching message tree.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartDate time.Time `json:"start_date"`

	// UserMessageIDs is the ordered root sibling group.
	UserMessageIDs []string `json:"user_message_ids"`

	// LastMessageID is the append cursor: the next message attaches after it.
	LastMessageID string `json:"last_message_id,omitempty"`

	// Streaming is populated by the coordinator on read, never persisted.
	Streaming bool `json:"streaming,omitempty"`
}

// HasPlaceholderTitle reports whether the title has not been synthesized yet.
func (c *Conversation) HasPlaceholderTitle() bool {
	return c.Title == "" || c.Title == PlaceholderTitle
}

// UpdateConversationRequest is the request to rename a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
	HasMore       bool           `json:"has_more"`
}
