package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vitalink/chatsync/internal/controller"
	"github.com/vitalink/chatsync/internal/middleware"
	"github.com/vitalink/chatsync/internal/model"
	"github.com/vitalink/chatsync/pkg/logger"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	manager     *controller.Manager
	socketState func() string
	logger      *logger.Logger
}

// NewSessionHandler creates a new session handler. socketState reports
// the streaming connection state for the state endpoint; nil means the
// streaming transport is not configured.
func NewSessionHandler(manager *controller.Manager, socketState func() string, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		manager:     manager,
		socketState: socketState,
		logger:      log,
	}
}

// SessionView is a session plus its display date bucket.
type SessionView struct {
	model.Session
	Date string `json:"date"`
}

// ListResponse is the session list payload.
type ListResponse struct {
	Sessions []SessionView `json:"sessions"`
	ActiveID string        `json:"active_id"`
}

// StateResponse is the engine state payload.
type StateResponse struct {
	ActiveSessionID string `json:"active_session_id"`
	AwaitingReply   bool   `json:"awaiting_reply"`
	ConnectionState string `json:"connection_state"`
}

func (h *SessionHandler) controllerFor(w http.ResponseWriter, r *http.Request) *controller.Controller {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return nil
	}

	ctrl, err := h.manager.For(r.Context(), *user)
	if err != nil {
		h.logger.Error("failed to attach session controller", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return nil
	}
	return ctrl
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controllerFor(w, r)
	if ctrl == nil {
		return
	}

	now := time.Now()
	sessions := ctrl.Sessions()
	views := make([]SessionView, len(sessions))
	for i, s := range sessions {
		views[i] = SessionView{
			Session: s,
			Date:    model.FormatRelativeDate(s.Timestamp, now),
		}
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Sessions: views,
		ActiveID: ctrl.ActiveSessionID(),
	})
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controllerFor(w, r)
	if ctrl == nil {
		return
	}

	sess, err := ctrl.CreateSession(r.Context())
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// Activate handles POST /api/v1/sessions/{id}/activate
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controllerFor(w, r)
	if ctrl == nil {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := ctrl.SwitchSession(r.Context(), id); err != nil {
		if errors.Is(err, controller.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to switch session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controllerFor(w, r)
	if ctrl == nil {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := ctrl.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, controller.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to delete session", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /api/v1/sessions/{id}/clear. Only the active
// session can be cleared.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controllerFor(w, r)
	if ctrl == nil {
		return
	}

	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id != ctrl.ActiveSessionID() {
		writeError(w, http.StatusConflict, "session is not active")
		return
	}

	if err := ctrl.ClearSession(r.Context()); err != nil {
		h.logger.Error("failed to clear session", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/messages, the active session's ordered
// message list.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controllerFor(w, r)
	if ctrl == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     ctrl.ActiveSessionID(),
		"messages":       ctrl.Messages(),
		"awaiting_reply": ctrl.AwaitingReply(),
	})
}

// State handles GET /api/v1/state
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controllerFor(w, r)
	if ctrl == nil {
		return
	}

	connState := "disconnected"
	if h.socketState != nil {
		connState = h.socketState()
	}

	writeJSON(w, http.StatusOK, StateResponse{
		ActiveSessionID: ctrl.ActiveSessionID(),
		AwaitingReply:   ctrl.AwaitingReply(),
		ConnectionState: connState,
	})
}
