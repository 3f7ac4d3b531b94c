package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/localchat/internal/coordinator"
	"github.com/capitalize-ai/localchat/internal/middleware"
	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/logger"
	"github.com/capitalize-ai/localchat/pkg/metrics"
)

// Updates is the live side of the coordinator.
type Updates interface {
	Subscribe() (<-chan coordinator.Update, func())
	State() coordinator.ViewState
	Streaming() []string
	View(ctx context.Context, conversationID string) (coordinator.ViewState, error)
}

// StreamHandler serves live session updates as server-sent events.
type StreamHandler struct {
	updates   Updates
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(updates Updates, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		updates:   updates,
		logger:    log,
		heartbeat: 30 * time.Second,
	}
}

// SnapshotEvent is the first event of every stream.
type SnapshotEvent struct {
	Viewed    string                `json:"viewed,omitempty"`
	State     coordinator.ViewState `json:"state"`
	Streaming []string              `json:"streaming"`
}

// UpdateEvent carries one routed session event.
type UpdateEvent struct {
	model.SessionEvent
	Foreground bool `json:"foreground"`
}

// Events handles GET /api/v1/events. ?conversation_id=X brings X to the
// foreground before streaming.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if conversationID := r.URL.Query().Get("conversation_id"); conversationID != "" {
		if err := middleware.ValidateConversationID(conversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := h.updates.View(ctx, conversationID); err != nil {
			writeServiceError(w, h.logger, "failed to view conversation", err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the snapshot so no update falls between the two.
	updates, unsubscribe := h.updates.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	state := h.updates.State()
	snapshot := &SnapshotEvent{State: state, Streaming: h.updates.Streaming()}
	if state.Conversation != nil {
		snapshot.Viewed = state.Conversation.ID
	}
	if err := sendSSEEvent(w, flusher, "snapshot", snapshot); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("correlation_id", middleware.GetCorrelationID(ctx)))
			return

		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, string(u.Event.Type), &UpdateEvent{
				SessionEvent: u.Event,
				Foreground:   u.Foreground,
			}); err != nil {
				h.logger.Debug("SSE write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
