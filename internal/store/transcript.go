package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/capitalize-ai/localchat/internal/model"
)

// Direction selects a neighbour within a sibling group.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// ParseDirection maps "prev" and "next" to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "prev", "previous":
		return Prev, true
	case "next":
		return Next, true
	default:
		return 0, false
	}
}

// ResolveTranscript returns the active path of a conversation: its active root
// user message, that message's reply, the reply's active child, and so on.
// It never writes. A dangling answer pointer ends the path at the user message.
func (s *Store) ResolveTranscript(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	err := s.transaction(ctx, "resolve_transcript", func(tx *gorm.DB) error {
		var err error
		out, err = resolve(tx, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SwitchSibling activates the previous or next sibling of userMessageID and
// returns the re-resolved transcript. Moving past either end of the group is a
// no-op reported by moved == false.
func (s *Store) SwitchSibling(ctx context.Context, conversationID, userMessageID string, dir Direction) ([]model.Message, bool, error) {
	var (
		out   []model.Message
		moved bool
	)

	err := s.transaction(ctx, "switch_sibling", func(tx *gorm.DB) error {
		if _, err := loadConversation(tx, conversationID); err != nil {
			return err
		}

		group, err := siblingGroup(tx, conversationID, userMessageID)
		if err != nil {
			return err
		}
		if group == nil {
			return model.ErrNotFound
		}

		idx := indexOf(group, userMessageID)
		target := idx + int(dir)
		if idx >= 0 && target >= 0 && target < len(group) {
			err := tx.Model(&userMessageRecord{}).
				Where("id IN ? AND is_active = ?", group, true).
				Update("is_active", false).Error
			if err != nil {
				return err
			}
			err = tx.Model(&userMessageRecord{}).
				Where("id = ?", group[target]).
				Update("is_active", true).Error
			if err != nil {
				return err
			}
			moved = true
		}

		out, err = resolve(tx, conversationID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, moved, nil
}

func resolve(tx *gorm.DB, conversationID string) ([]model.Message, error) {
	conv, err := loadConversation(tx, conversationID)
	if err != nil {
		return nil, err
	}

	out := []model.Message{}
	seen := make(map[string]struct{})
	group := ids(conv.UserMessageIDs)

	for len(group) > 0 {
		user, err := activeMember(tx, conversationID, group)
		if err != nil {
			return nil, err
		}
		if user == nil {
			break
		}
		if _, ok := seen[user.ID]; ok {
			break
		}
		seen[user.ID] = struct{}{}
		out = append(out, user.toModel().AsMessage())

		if user.AnswerMessageID == "" {
			break
		}

		var answer assistantMessageRecord
		err = tx.Where("id = ? AND conversation_id = ?", user.AnswerMessageID, conversationID).First(&answer).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if answer.ParentID != user.ID {
			break
		}
		out = append(out, answer.toModel().AsMessage())

		group = ids(answer.NextMessageIDs)
	}

	return out, nil
}

// activeMember returns the first active message in group order, or nil.
func activeMember(tx *gorm.DB, conversationID string, group []string) (*userMessageRecord, error) {
	var active []userMessageRecord
	err := tx.Where("id IN ? AND conversation_id = ? AND is_active = ?", group, conversationID, true).
		Find(&active).Error
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	best := -1
	var pick *userMessageRecord
	for i := range active {
		idx := indexOf(group, active[i].ID)
		if idx < 0 {
			continue
		}
		if pick == nil || idx < best {
			best, pick = idx, &active[i]
		}
	}
	return pick, nil
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
