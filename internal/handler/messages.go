package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vitalink/chatsync/internal/controller"
	"github.com/vitalink/chatsync/internal/middleware"
	"github.com/vitalink/chatsync/pkg/logger"
	"github.com/vitalink/chatsync/pkg/metrics"
)

// MessageHandler handles the send endpoint.
type MessageHandler struct {
	manager *controller.Manager
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(manager *controller.Manager, log *logger.Logger) *MessageHandler {
	return &MessageHandler{manager: manager, logger: log}
}

// SendRequest is the request to send a user message.
type SendRequest struct {
	Content string `json:"content"`
	Stream  bool   `json:"stream"`
}

// TokenEvent is one streamed reply token.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// Send handles POST /api/v1/sessions/{id}/messages. The target session
// is activated first if needed; with stream=true the reply tokens are
// delivered over SSE as they arrive.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	ctrl, err := h.manager.For(r.Context(), *user)
	if err != nil {
		h.logger.Error("failed to attach session controller", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := h.logger.WithUser(user.ID, sessionID).With(
		zap.String("correlation_id", middleware.GetCorrelationID(r.Context())))

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if sessionID != ctrl.ActiveSessionID() {
		if err := ctrl.SwitchSession(r.Context(), sessionID); err != nil {
			if errors.Is(err, controller.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to switch session")
			return
		}
	}

	if req.Stream {
		h.sendStreaming(w, r, ctrl, req.Content)
		return
	}

	msg, err := ctrl.SendUserMessage(r.Context(), req.Content)
	if err != nil {
		h.writeSendError(w, log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (h *MessageHandler) sendStreaming(w http.ResponseWriter, r *http.Request, ctrl *controller.Controller, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	ctx := r.Context()
	msg, err := ctrl.SendUserMessageStream(ctx, content, func(token string, index int) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return sendSSEEvent(w, flusher, "token", TokenEvent{Token: token, Index: index})
	})
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{"message": err.Error()})
		return
	}

	sendSSEEvent(w, flusher, "user_message", msg)
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func (h *MessageHandler) writeSendError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, controller.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, controller.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "no active session")
	default:
		log.Error("failed to send message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
