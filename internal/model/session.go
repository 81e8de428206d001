package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	// PendingSessionID is a transient marker meaning "a session is being
	// created". It is never persisted to the store.
	PendingSessionID = "new"

	// DefaultTitle is the title of a session before its first user message.
	DefaultTitle = "New Chat"
)

// Session represents a named conversation thread owned by one user.
// Messages live in a per-session subtree of the store and are loaded
// lazily when the session becomes active.
type Session struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	LastMessage string `json:"lastMessage"`
	Timestamp   int64  `json:"timestamp"` // last-activity time, ms since epoch
}

// NewSession creates a session with a time-ordered id and default title.
func NewSession() Session {
	return Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     DefaultTitle,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SessionPatch holds partial session fields for a store patch.
type SessionPatch struct {
	Title       *string `json:"title,omitempty"`
	LastMessage *string `json:"lastMessage,omitempty"`
	Timestamp   *int64  `json:"timestamp,omitempty"`
}
