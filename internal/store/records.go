package store

import (
	"time"

	"gorm.io/datatypes"

	"github.com/capitalize-ai/localchat/internal/model"
)

type conversationRecord struct {
	ID             string                      `gorm:"primaryKey;size:36"`
	Title          string                      `gorm:"not null"`
	StartDate      time.Time                   `gorm:"index;not null"`
	UserMessageIDs datatypes.JSONSlice[string] `gorm:"not null"`
	LastMessageID  string
}

func (conversationRecord) TableName() string { return "conversations" }

func (r *conversationRecord) toModel() *model.Conversation {
	return &model.Conversation{
		ID:             r.ID,
		Title:          r.Title,
		StartDate:      r.StartDate,
		UserMessageIDs: ids(r.UserMessageIDs),
		LastMessageID:  r.LastMessageID,
	}
}

type userMessageRecord struct {
	ID              string                                `gorm:"primaryKey;size:36"`
	ConversationID  string                                `gorm:"index:idx_user_messages_conversation_date,priority:1;not null"`
	Date            time.Time                             `gorm:"index:idx_user_messages_conversation_date,priority:2;not null"`
	Content         datatypes.JSONType[model.UserContent] `gorm:"not null"`
	ParentID        string                                `gorm:"index"`
	IsActive        bool                                  `gorm:"index;not null"`
	AnswerMessageID string                                `gorm:"index"`
}

func (userMessageRecord) TableName() string { return "user_messages" }

func (r *userMessageRecord) toModel() *model.UserMessage {
	return &model.UserMessage{
		ID:              r.ID,
		ConversationID:  r.ConversationID,
		Content:         r.Content.Data(),
		Date:            r.Date,
		ParentID:        r.ParentID,
		IsActive:        r.IsActive,
		AnswerMessageID: r.AnswerMessageID,
	}
}

// Children of an assistant message are found through user_messages.parent_id,
// which serves as the reverse index over next_message_ids.
type assistantMessageRecord struct {
	ID             string                      `gorm:"primaryKey;size:36"`
	ConversationID string                      `gorm:"index:idx_assistant_messages_conversation_date,priority:1;not null"`
	Date           time.Time                   `gorm:"index:idx_assistant_messages_conversation_date,priority:2;not null"`
	Content        string                      `gorm:"type:text"`
	Thinking       string                      `gorm:"type:text"`
	ParentID       string                      `gorm:"index;not null"`
	NextMessageIDs datatypes.JSONSlice[string] `gorm:"not null"`
}

func (assistantMessageRecord) TableName() string { return "assistant_messages" }

func (r *assistantMessageRecord) toModel() *model.AssistantMessage {
	return &model.AssistantMessage{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Content:        r.Content,
		Thinking:       r.Thinking,
		Date:           r.Date,
		ParentID:       r.ParentID,
		NextMessageIDs: ids(r.NextMessageIDs),
	}
}

func ids(s datatypes.JSONSlice[string]) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
