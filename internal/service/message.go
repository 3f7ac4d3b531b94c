package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/coordinator"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/store"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// Coordinator starts, routes and aborts streaming sessions.
type Coordinator interface {
	Submit(ctx context.Context, conversationID string, content model.UserContent, modelName string) (*coordinator.SubmitResult, error)
	Edit(ctx context.Context, conversationID, messageID string, content model.UserContent, modelName string) (*coordinator.SubmitResult, error)
	Start(ctx context.Context, conversationID, userMessageID, modelName string) (bool, error)
	Navigate(ctx context.Context, conversationID, messageID string, dir store.Direction) ([]model.Message, bool, error)
	View(ctx context.Context, conversationID string) (coordinator.ViewState, error)
	Abort(conversationID string) bool
	IsStreaming(conversationID string) bool
}

// MessageService handles message operations.
type MessageService struct {
	coordinator Coordinator
	logger      *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(c Coordinator, log *logger.Logger) *MessageService {
	return &MessageService{
		coordinator: c,
		logger:      log,
	}
}

// Send appends a user message to a conversation and starts answering it.
// An empty conversationID starts a new conversation.
func (s *MessageService) Send(ctx context.Context, conversationID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	start := time.Now()

	res, err := s.coordinator.Submit(ctx, conversationID, model.NewUserContent(req.Content, req.Files), req.Model)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("message submitted",
		zap.String("conversation_id", res.ConversationID),
		zap.Bool("started", res.Started),
		zap.Duration("duration", time.Since(start)),
	)

	return &model.SendMessageResponse{
		ConversationID: res.ConversationID,
		Message:        res.Message,
		Started:        res.Started,
	}, nil
}

// Edit adds an edited sibling of messageID and starts answering it.
func (s *MessageService) Edit(ctx context.Context, conversationID, messageID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	res, err := s.coordinator.Edit(ctx, conversationID, messageID, model.NewUserContent(req.Content, req.Files), req.Model)
	if err != nil {
		return nil, err
	}

	return &model.SendMessageResponse{
		ConversationID: res.ConversationID,
		Message:        res.Message,
		Started:        res.Started,
	}, nil
}

// Regenerate answers a user message that has no reply.
func (s *MessageService) Regenerate(ctx context.Context, conversationID, messageID, modelName string) (bool, error) {
	return s.coordinator.Start(ctx, conversationID, messageID, modelName)
}

// Navigate moves to the previous or next sibling of messageID and returns the new active path.
func (s *MessageService) Navigate(ctx context.Context, conversationID, messageID, direction string) (*model.TranscriptResponse, bool, error) {
	dir, ok := store.ParseDirection(direction)
	if !ok {
		return nil, false, fmt.Errorf("invalid direction %q", direction)
	}

	msgs, moved, err := s.coordinator.Navigate(ctx, conversationID, messageID, dir)
	if err != nil {
		return nil, false, err
	}

	return &model.TranscriptResponse{
		ConversationID: conversationID,
		Messages:       msgs,
		Streaming:      s.coordinator.IsStreaming(conversationID),
	}, moved, nil
}

// View brings a conversation to the foreground.
func (s *MessageService) View(ctx context.Context, conversationID string) (coordinator.ViewState, error) {
	return s.coordinator.View(ctx, conversationID)
}

// Abort stops the running session of a conversation. It reports whether one was running.
func (s *MessageService) Abort(conversationID string) bool {
	aborted := s.coordinator.Abort(conversationID)
	if aborted {
		s.logger.Info("session aborted", zap.String("conversation_id", conversationID))
	}
	return aborted
}
