package model

import (
	"fmt"
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FileMetadata describes a file attached to a user message.
type FileMetadata struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// AttachedFiles holds the attached file descriptors and their rendered payload.
type AttachedFiles struct {
	Metadata []FileMetadata `json:"metadata,omitempty"`
	Content  string         `json:"content,omitempty"`
}

// UserContent is the body of a user message: typed text plus optional files.
type UserContent struct {
	Message string        `json:"message"`
	Files   AttachedFiles `json:"files"`
}

// TextContent builds a UserContent without attachments.
func TextContent(text string) UserContent {
	return UserContent{Message: text}
}

// File is an attachment submitted alongside a message.
type File struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// NewUserContent renders the attached files into the payload sent to the backend.
func NewUserContent(text string, files []File) UserContent {
	content := UserContent{Message: text}
	if len(files) == 0 {
		return content
	}

	var b strings.Builder
	b.WriteString("<Files>\n")
	for i, f := range files {
		fmt.Fprintf(&b, "<File index='%d' name='%s'", i+1, f.Name)
		if f.Type != "" {
			fmt.Fprintf(&b, " type='%s'", f.Type)
		}
		b.WriteString(">\n")
		b.WriteString(f.Content)
		b.WriteString("\n</File>\n")

		content.Files.Metadata = append(content.Files.Metadata, FileMetadata{Name: f.Name, Type: f.Type})
	}
	b.WriteString("</Files>\n")
	content.Files.Content = b.String()

	return content
}

// Prompt returns the text sent to the inference backend for this content.
func (c UserContent) Prompt() string {
	if c.Files.Content == "" {
		return c.Message
	}
	return c.Message + "\n" + c.Files.Content
}

// UserMessage is a node of a sibling group.
type UserMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Content        UserContent `json:"content"`
	Date           time.Time   `json:"date"`

	// ParentID is the assistant message this replies to; empty for conversation roots.
	ParentID        string `json:"parent_id,omitempty"`
	IsActive        bool   `json:"is_active"`
	AnswerMessageID string `json:"answer_message_id,omitempty"`
}

// AsMessage flattens the user message for display and backend context.
func (m *UserMessage) AsMessage() Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           RoleUser,
		Content:        m.Content.Message,
		Files:          m.Content.Files.Metadata,
		Date:           m.Date,
		ParentID:       m.ParentID,
		prompt:         m.Content.Prompt(),
	}
}

// AssistantMessage is a reply to exactly one user message.
type AssistantMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Thinking       string    `json:"thinking,omitempty"`
	Date           time.Time `json:"date"`
	ParentID       string    `json:"parent_id"`
	NextMessageIDs []string  `json:"next_message_ids"`
}

// AsMessage flattens the assistant message for display and backend context.
func (m *AssistantMessage) AsMessage() Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           RoleAssistant,
		Content:        m.Content,
		Thinking:       m.Thinking,
		Date:           m.Date,
		ParentID:       m.ParentID,
		prompt:         m.Content,
	}
}

// Message is one entry of a resolved transcript.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Files          []FileMetadata `json:"files,omitempty"`
	Thinking       string         `json:"thinking,omitempty"`
	Date           time.Time      `json:"date"`
	ParentID       string         `json:"parent_id,omitempty"`

	prompt string
}

// Prompt returns the content the backend sees for this message, attachments included.
func (m Message) Prompt() string {
	if m.prompt == "" {
		return m.Content
	}
	return m.prompt
}

// SendMessageRequest is the request to submit a new user message.
type SendMessageRequest struct {
	Content string `json:"content"`
	Files   []File `json:"files,omitempty"`
	Model   string `json:"model,omitempty"`
}

// SendMessageResponse is the response after submitting a message.
type SendMessageResponse struct {
	ConversationID string       `json:"conversation_id"`
	Message        *UserMessage `json:"message,omitempty"`
	Started        bool         `json:"started"`
}

// TranscriptResponse is the active path of a conversation.
type TranscriptResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Streaming      bool      `json:"streaming"`
}

// SiblingsResponse lists the sibling group of a user message.
type SiblingsResponse struct {
	MessageIDs []string `json:"message_ids"`
	Index      int      `json:"index"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
