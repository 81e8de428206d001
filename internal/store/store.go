// Package store provides the session store boundary: an ordered,
// subscribable document store holding session metadata and messages under
// hierarchical paths.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Snapshot maps child ids to their raw JSON documents, for all direct
// children of a subscribed prefix.
type Snapshot map[string]json.RawMessage

// UnsubscribeFunc stops a subscription and releases its resources.
type UnsubscribeFunc func()

// Store is the durable session store. It exclusively owns persisted
// state; callers hold only eventually-consistent caches of it.
type Store interface {
	// Write stores a document at path, replacing any existing one.
	Write(ctx context.Context, path string, value any) error

	// Patch merges the non-null fields of partial into the document at
	// path. Patching a missing document creates it.
	Patch(ctx context.Context, path string, partial any) error

	// Delete removes the document at path.
	Delete(ctx context.Context, path string) error

	// DeleteTree removes the document at prefix and every document below
	// it.
	DeleteTree(ctx context.Context, prefix string) error

	// Subscribe registers onSnapshot for the direct children of prefix.
	// The callback fires once with the current state and again after
	// every change, always with the full snapshot. Callbacks for one
	// subscription are delivered in order, never concurrently.
	Subscribe(ctx context.Context, prefix string, onSnapshot func(Snapshot)) (UnsubscribeFunc, error)

	// Close releases the store's resources.
	Close()
}

// Path helpers for the users/{uid}/sessions/{sid}/messages/{mid} hierarchy.

// UserSessionsPath is the parent of all sessions owned by a user.
func UserSessionsPath(userID string) string {
	return fmt.Sprintf("users/%s/sessions", userID)
}

// SessionPath is the location of one session's metadata document.
func SessionPath(userID, sessionID string) string {
	return fmt.Sprintf("users/%s/sessions/%s", userID, sessionID)
}

// MessagesPath is the parent of all messages in a session.
func MessagesPath(userID, sessionID string) string {
	return fmt.Sprintf("users/%s/sessions/%s/messages", userID, sessionID)
}

// MessagePath is the location of one message document.
func MessagePath(userID, sessionID, messageID string) string {
	return fmt.Sprintf("users/%s/sessions/%s/messages/%s", userID, sessionID, messageID)
}

// childID returns the remaining single path segment of path under prefix,
// or "" if path is not a direct child of prefix.
func childID(prefix, path string) string {
	rest, ok := strings.CutPrefix(path, prefix+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// mergePatch merges the fields of partial over existing. Both must be
// JSON objects; a nil existing yields the partial alone.
func mergePatch(existing, partial []byte) ([]byte, error) {
	merged := make(map[string]json.RawMessage)
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("failed to decode existing document: %w", err)
		}
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(partial, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}

	return json.Marshal(merged)
}
