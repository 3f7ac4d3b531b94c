package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/metrics"
)

// CreateConversation inserts an empty conversation with the placeholder title.
func (s *Store) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	rec := conversationRecord{
		ID:             newID(),
		Title:          model.PlaceholderTitle,
		StartDate:      s.now(),
		UserMessageIDs: datatypes.JSONSlice[string]{},
	}

	err := s.transaction(ctx, "create_conversation", func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.Inc()
	s.log.Debug("conversation created", zap.String("conversation_id", rec.ID))

	return rec.toModel(), nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var rec conversationRecord
	err := s.transaction(ctx, "get_conversation", func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).First(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// ListConversations returns conversations newest first along with the total count.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, int64, error) {
	var (
		recs  []conversationRecord
		total int64
	)

	err := s.transaction(ctx, "list_conversations", func(tx *gorm.DB) error {
		if err := tx.Model(&conversationRecord{}).Count(&total).Error; err != nil {
			return err
		}
		q := tx.Order("start_date DESC").Order("id DESC").Offset(offset)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&recs).Error
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]model.Conversation, 0, len(recs))
	for i := range recs {
		out = append(out, *recs[i].toModel())
	}
	return out, total, nil
}

// RenameConversation overwrites the title of a conversation.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	return s.transaction(ctx, "rename_conversation", func(tx *gorm.DB) error {
		res := tx.Model(&conversationRecord{}).Where("id = ?", id).Update("title", title)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}

// SetTitleIfPlaceholder sets the title only while it is still the placeholder.
// It reports whether the title was written.
func (s *Store) SetTitleIfPlaceholder(ctx context.Context, id, title string) (bool, error) {
	var updated bool
	err := s.transaction(ctx, "set_title", func(tx *gorm.DB) error {
		res := tx.Model(&conversationRecord{}).
			Where("id = ? AND (title = ? OR title = '')", id, model.PlaceholderTitle).
			Update("title", title)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			updated = true
			return nil
		}

		var count int64
		if err := tx.Model(&conversationRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return model.ErrNotFound
		}
		return nil
	})
	return updated, err
}

// DeleteConversation removes a conversation and all of its messages atomically.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.transaction(ctx, "delete_conversation", func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&conversationRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrNotFound
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&userMessageRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("conversation_id = ?", id).Delete(&assistantMessageRecord{}).Error
	})
}

// AppendUserMessage attaches a new active user message at the conversation's append cursor.
func (s *Store) AppendUserMessage(ctx context.Context, conversationID string, content model.UserContent) (*model.UserMessage, error) {
	var msg *userMessageRecord
	err := s.transaction(ctx, "append_user_message", func(tx *gorm.DB) error {
		conv, err := loadConversation(tx, conversationID)
		if err != nil {
			return err
		}

		if conv.LastMessageID != "" {
			var count int64
			err := tx.Model(&assistantMessageRecord{}).
				Where("id = ? AND conversation_id = ?", conv.LastMessageID, conversationID).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("cursor %s: %w: %w", conv.LastMessageID, model.ErrInvalidCursor, model.ErrNotFound)
			}
		}

		msg, err = s.insertUserMessage(tx, conv, conv.LastMessageID, content)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	return msg.toModel(), nil
}

// AppendAssistantMessage records the reply to parentUserMessageID and moves the cursor to it.
// A parent whose answer pointer dangles may be answered again.
func (s *Store) AppendAssistantMessage(ctx context.Context, conversationID, parentUserMessageID, content, thinking string) (*model.AssistantMessage, error) {
	rec := assistantMessageRecord{
		ID:             newID(),
		ConversationID: conversationID,
		Date:           s.now(),
		Content:        content,
		Thinking:       thinking,
		ParentID:       parentUserMessageID,
		NextMessageIDs: datatypes.JSONSlice[string]{},
	}

	err := s.transaction(ctx, "append_assistant_message", func(tx *gorm.DB) error {
		if _, err := loadConversation(tx, conversationID); err != nil {
			return err
		}

		parent, err := loadUserMessage(tx, conversationID, parentUserMessageID)
		if err != nil {
			return err
		}

		if parent.AnswerMessageID != "" {
			var count int64
			err := tx.Model(&assistantMessageRecord{}).Where("id = ?", parent.AnswerMessageID).Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("message %s: %w", parent.ID, model.ErrAlreadyAnswered)
			}
		}

		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		err = tx.Model(&userMessageRecord{}).Where("id = ?", parent.ID).
			Update("answer_message_id", rec.ID).Error
		if err != nil {
			return err
		}

		return tx.Model(&conversationRecord{}).Where("id = ?", conversationID).
			Update("last_message_id", rec.ID).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	return rec.toModel(), nil
}

// EditUserMessage inserts an active sibling of targetMessageID carrying newContent.
// The target and its subtree are kept, inactive.
func (s *Store) EditUserMessage(ctx context.Context, conversationID, targetMessageID string, newContent model.UserContent) (*model.UserMessage, error) {
	var msg *userMessageRecord
	err := s.transaction(ctx, "edit_user_message", func(tx *gorm.DB) error {
		conv, err := loadConversation(tx, conversationID)
		if err != nil {
			return err
		}

		target, err := loadUserMessage(tx, conversationID, targetMessageID)
		if err != nil {
			return err
		}

		msg, err = s.insertUserMessage(tx, conv, target.ParentID, newContent)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	return msg.toModel(), nil
}

// SetActiveSibling flips the active flag of a single user message.
// Callers deactivate the current active peer before activating another.
func (s *Store) SetActiveSibling(ctx context.Context, siblingID string, active bool) error {
	return s.transaction(ctx, "set_active_sibling", func(tx *gorm.DB) error {
		res := tx.Model(&userMessageRecord{}).Where("id = ?", siblingID).Update("is_active", active)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&userMessageRecord{}).Where("id = ?", siblingID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return model.ErrNotFound
			}
		}
		return nil
	})
}

// GetSiblings returns the ordered sibling group containing userMessageID.
// The list is empty when the message cannot be located.
func (s *Store) GetSiblings(ctx context.Context, conversationID, userMessageID string) ([]string, error) {
	var siblings []string
	err := s.transaction(ctx, "get_siblings", func(tx *gorm.DB) error {
		var err error
		siblings, err = siblingGroup(tx, conversationID, userMessageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if siblings == nil {
		siblings = []string{}
	}
	return siblings, nil
}

// GetUserMessage returns a user message by id.
func (s *Store) GetUserMessage(ctx context.Context, id string) (*model.UserMessage, error) {
	var rec userMessageRecord
	err := s.transaction(ctx, "get_user_message", func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).First(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// GetAssistantMessage returns an assistant message by id.
func (s *Store) GetAssistantMessage(ctx context.Context, id string) (*model.AssistantMessage, error) {
	var rec assistantMessageRecord
	err := s.transaction(ctx, "get_assistant_message", func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).First(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// insertUserMessage creates an active user message in the sibling group below parentID
// (the root group when parentID is empty), deactivating the group's current member.
func (s *Store) insertUserMessage(tx *gorm.DB, conv *conversationRecord, parentID string, content model.UserContent) (*userMessageRecord, error) {
	rec := &userMessageRecord{
		ID:             newID(),
		ConversationID: conv.ID,
		Date:           s.now(),
		Content:        datatypes.NewJSONType(content),
		ParentID:       parentID,
		IsActive:       true,
	}

	var group []string
	if parentID == "" {
		group = conv.UserMessageIDs
	} else {
		var parent assistantMessageRecord
		err := tx.Where("id = ? AND conversation_id = ?", parentID, conv.ID).First(&parent).Error
		if err != nil {
			return nil, err
		}
		group = parent.NextMessageIDs
	}

	if len(group) > 0 {
		err := tx.Model(&userMessageRecord{}).
			Where("id IN ? AND is_active = ?", []string(group), true).
			Update("is_active", false).Error
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Create(rec).Error; err != nil {
		return nil, err
	}

	next := append(ids(group), rec.ID)
	if parentID == "" {
		err := tx.Model(&conversationRecord{}).Where("id = ?", conv.ID).Updates(map[string]any{
			"user_message_ids": datatypes.JSONSlice[string](next),
			"last_message_id":  rec.ID,
		}).Error
		return rec, err
	}

	err := tx.Model(&assistantMessageRecord{}).Where("id = ?", parentID).
		Update("next_message_ids", datatypes.JSONSlice[string](next)).Error
	if err != nil {
		return nil, err
	}
	return rec, tx.Model(&conversationRecord{}).Where("id = ?", conv.ID).
		Update("last_message_id", rec.ID).Error
}

// siblingGroup returns nil when the message or its parent cannot be found.
func siblingGroup(tx *gorm.DB, conversationID, userMessageID string) ([]string, error) {
	msg, err := loadUserMessage(tx, conversationID, userMessageID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if msg.ParentID == "" {
		conv, err := loadConversation(tx, conversationID)
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return ids(conv.UserMessageIDs), nil
	}

	var parent assistantMessageRecord
	err = tx.Where("id = ?", msg.ParentID).First(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ids(parent.NextMessageIDs), nil
}

func loadConversation(tx *gorm.DB, id string) (*conversationRecord, error) {
	var rec conversationRecord
	err := tx.Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func loadUserMessage(tx *gorm.DB, conversationID, id string) (*userMessageRecord, error) {
	var rec userMessageRecord
	err := tx.Where("id = ? AND conversation_id = ?", id, conversationID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user message %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
