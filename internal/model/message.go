// Package model defines data structures for the chat sync engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies the author of a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message represents one turn in a session. A message is immutable once
// finalized; only a provisional streaming message is mutated, and only by
// the assembler that owns it.
type Message struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Sender    Sender `json:"sender"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch

	// Unpersisted marks an optimistic append whose store write was
	// rejected. Never serialized to the store.
	Unpersisted bool `json:"-"`
}

// NewMessage creates a message with a client-generated, time-ordered id.
// The id is reused verbatim in the persisted write so that concurrent
// writers converge instead of duplicating.
func NewMessage(sender Sender, content string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
	}
}
