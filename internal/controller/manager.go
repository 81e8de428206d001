package controller

import (
	"context"
	"sync"

	"github.com/vitalink/chatsync/internal/identity"
)

// entry holds one user's controller. The mutex serializes the first
// attach so concurrent requests never observe a controller before its
// identity change has completed.
type entry struct {
	mu         sync.Mutex
	controller *Controller
	attached   bool
}

// Manager owns one controller per authenticated user, created lazily on
// first sight and torn down on logout.
type Manager struct {
	factory func() *Controller

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates a manager using factory to build fresh controllers.
func NewManager(factory func() *Controller) *Manager {
	return &Manager{
		factory: factory,
		entries: make(map[string]*entry),
	}
}

// For returns the controller for the given user, creating and attaching
// it on first use. Concurrent callers for the same user share one attach.
func (m *Manager) For(ctx context.Context, user identity.User) (*Controller, error) {
	m.mu.Lock()
	e, ok := m.entries[user.ID]
	if !ok {
		e = &entry{}
		m.entries[user.ID] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attached {
		return e.controller, nil
	}

	c := m.factory()
	if err := c.OnIdentityChange(ctx, &user); err != nil {
		c.Close()
		m.mu.Lock()
		if m.entries[user.ID] == e {
			delete(m.entries, user.ID)
		}
		m.mu.Unlock()
		return nil, err
	}

	e.controller = c
	e.attached = true
	return c, nil
}

// Drop tears down the controller for a user, the logged-out transition.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	e, ok := m.entries[userID]
	delete(m.entries, userID)
	m.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	c := e.controller
	e.controller = nil
	e.attached = false
	e.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

// Close tears down every controller.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		c := e.controller
		e.controller = nil
		e.attached = false
		e.mu.Unlock()
		if c != nil {
			c.Close()
		}
	}
}
