// Package service provides the conversation and message operations used by the
// HTTP API and the CLI.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// ConversationStore is the part of the conversation store read by the service.
type ConversationStore interface {
	CreateConversation(ctx context.Context) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, int64, error)
	RenameConversation(ctx context.Context, id, title string) error
	ResolveTranscript(ctx context.Context, conversationID string) ([]model.Message, error)
	GetSiblings(ctx context.Context, conversationID, userMessageID string) ([]string, error)
}

// Sessions reports and controls running sessions.
type Sessions interface {
	IsStreaming(conversationID string) bool
	Delete(ctx context.Context, conversationID string) error
}

// ConversationService handles conversation operations.
type ConversationService struct {
	store    ConversationStore
	sessions Sessions
	logger   *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(store ConversationStore, sessions Sessions, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:    store,
		sessions: sessions,
		logger:   log,
	}
}

// Create creates a new conversation with the placeholder title.
func (s *ConversationService) Create(ctx context.Context) (*model.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.Streaming = s.sessions.IsStreaming(conv.ID)
	return conv, nil
}

// List retrieves conversations, newest first.
func (s *ConversationService) List(ctx context.Context, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.store.ListConversations(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		convs[i].Streaming = s.sessions.IsStreaming(convs[i].ID)
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       int64(offset+len(convs)) < total,
	}, nil
}

// Rename replaces the title of a conversation.
func (s *ConversationService) Rename(ctx context.Context, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}
	if err := s.store.RenameConversation(ctx, conversationID, req.Title); err != nil {
		return nil, err
	}
	return s.Get(ctx, conversationID)
}

// Delete aborts the running session of a conversation and removes it.
func (s *ConversationService) Delete(ctx context.Context, conversationID string) error {
	if err := s.sessions.Delete(ctx, conversationID); err != nil {
		return err
	}

	s.logger.Info("conversation deleted", zap.String("conversation_id", conversationID))
	return nil
}

// Transcript returns the active path of a conversation.
func (s *ConversationService) Transcript(ctx context.Context, conversationID string) (*model.TranscriptResponse, error) {
	msgs, err := s.store.ResolveTranscript(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return &model.TranscriptResponse{
		ConversationID: conversationID,
		Messages:       msgs,
		Streaming:      s.sessions.IsStreaming(conversationID),
	}, nil
}

// Siblings returns the sibling group of a user message and its position in it.
func (s *ConversationService) Siblings(ctx context.Context, conversationID, messageID string) (*model.SiblingsResponse, error) {
	ids, err := s.store.GetSiblings(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}

	index := -1
	for i, id := range ids {
		if id == messageID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("user message %s: %w", messageID, model.ErrNotFound)
	}

	return &model.SiblingsResponse{MessageIDs: ids, Index: index}, nil
}
