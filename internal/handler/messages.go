package handler

import (
	"net/http"

	"github.com/capitalize-ai/localchat/internal/middleware"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/internal/service"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService      *service.MessageService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	msgSvc *service.MessageService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageService:      msgSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages. It returns the active path.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	resp, err := h.conversationService.Transcript(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "failed to get messages", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Start handles POST /api/v1/messages. It opens a new conversation.
func (h *MessageHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, "")
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	if _, err := h.conversationService.Get(r.Context(), conversationID); err != nil {
		writeServiceError(w, h.logger, "failed to get conversation", err)
		return
	}

	h.send(w, r, conversationID)
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request, conversationID string) {
	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidateSendRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.Send(r.Context(), conversationID, &req)
	if err != nil {
		writeServiceError(w, h.logger, "failed to send message", err)
		return
	}

	writeJSON(w, sendStatus(resp), resp)
}

// Edit handles PUT /api/v1/conversations/{id}/messages/{messageID}
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	messageID, ok := messageParam(w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := middleware.ValidateSendRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.Edit(r.Context(), conversationID, messageID, &req)
	if err != nil {
		writeServiceError(w, h.logger, "failed to edit message", err)
		return
	}

	writeJSON(w, sendStatus(resp), resp)
}

// Answer handles POST /api/v1/conversations/{id}/messages/{messageID}/answer.
// It answers a user message left without a reply.
func (h *MessageHandler) Answer(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	messageID, ok := messageParam(w, r)
	if !ok {
		return
	}

	started, err := h.messageService.Regenerate(r.Context(), conversationID, messageID, r.URL.Query().Get("model"))
	if err != nil {
		writeServiceError(w, h.logger, "failed to answer message", err)
		return
	}

	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]bool{"started": started})
}

// Siblings handles GET /api/v1/conversations/{id}/messages/{messageID}/siblings
func (h *MessageHandler) Siblings(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	messageID, ok := messageParam(w, r)
	if !ok {
		return
	}

	resp, err := h.conversationService.Siblings(r.Context(), conversationID, messageID)
	if err != nil {
		writeServiceError(w, h.logger, "failed to get siblings", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Navigate handles POST /api/v1/conversations/{id}/messages/{messageID}/navigate?direction=prev|next
func (h *MessageHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	messageID, ok := messageParam(w, r)
	if !ok {
		return
	}

	direction := r.URL.Query().Get("direction")
	if direction != "prev" && direction != "previous" && direction != "next" {
		writeError(w, http.StatusBadRequest, "direction must be prev or next")
		return
	}

	resp, moved, err := h.messageService.Navigate(r.Context(), conversationID, messageID, direction)
	if err != nil {
		writeServiceError(w, h.logger, "failed to navigate", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*model.TranscriptResponse
		Moved bool `json:"moved"`
	}{resp, moved})
}

// sendStatus is 202 when a session started and 409 when one was already running.
func sendStatus(resp *model.SendMessageResponse) int {
	if resp.Started {
		return http.StatusAccepted
	}
	return http.StatusConflict
}
