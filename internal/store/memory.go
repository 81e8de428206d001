package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// ErrWriteRejected is returned by a memory store with failing writes
// enabled.
var ErrWriteRejected = errors.New("store write rejected")

// Memory is an in-process Store with the same snapshot semantics as the
// NATS backend. It backs the "memory" store mode and the test suite.
type Memory struct {
	mu        sync.Mutex
	docs      map[string]json.RawMessage
	subs      map[int]*memorySub
	nextSubID int

	failWrites bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]json.RawMessage),
		subs: make(map[int]*memorySub),
	}
}

// SetFailWrites makes subsequent Write and Patch calls fail, for
// exercising rejected-persistence paths.
func (m *Memory) SetFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

// Write stores a document at path.
func (m *Memory) Write(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrWriteRejected
	}
	m.docs[path] = data
	m.notifyLocked()
	return nil
}

// Patch merges partial into the document at path.
func (m *Memory) Patch(ctx context.Context, path string, partial any) error {
	data, err := json.Marshal(partial)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrWriteRejected
	}
	merged, err := mergePatch(m.docs[path], data)
	if err != nil {
		return err
	}
	m.docs[path] = merged
	m.notifyLocked()
	return nil
}

// Delete removes the document at path. Deleting a missing document is a
// no-op.
func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	m.notifyLocked()
	return nil
}

// DeleteTree removes the document at prefix and its whole subtree.
func (m *Memory) DeleteTree(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path := range m.docs {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			delete(m.docs, path)
		}
	}
	m.notifyLocked()
	return nil
}

// Subscribe registers a snapshot callback for the direct children of
// prefix.
func (m *Memory) Subscribe(ctx context.Context, prefix string, onSnapshot func(Snapshot)) (UnsubscribeFunc, error) {
	sub := &memorySub{
		prefix: prefix,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = sub
	sub.push(m.snapshotLocked(prefix))
	m.mu.Unlock()

	go sub.pump(onSnapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(sub.done)
		})
	}, nil
}

// Close stops all subscriptions.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		close(sub.done)
		delete(m.subs, id)
	}
}

func (m *Memory) snapshotLocked(prefix string) Snapshot {
	snap := make(Snapshot)
	for path, doc := range m.docs {
		if id := childID(prefix, path); id != "" {
			snap[id] = doc
		}
	}
	return snap
}

func (m *Memory) notifyLocked() {
	for _, sub := range m.subs {
		sub.push(m.snapshotLocked(sub.prefix))
	}
}

// memorySub coalesces snapshot deliveries so a slow subscriber never
// blocks a writer; only the latest snapshot matters under wholesale
// replacement semantics.
type memorySub struct {
	prefix string
	done   chan struct{}
	notify chan struct{}

	mu      sync.Mutex
	pending Snapshot
	primed  bool
	last    Snapshot
}

func (s *memorySub) push(snap Snapshot) {
	s.mu.Lock()
	if s.primed && snapshotsEqual(s.last, snap) {
		s.mu.Unlock()
		return
	}
	s.primed = true
	s.last = snap
	s.pending = snap
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) pump(onSnapshot func(Snapshot)) {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			s.mu.Lock()
			snap := s.pending
			s.mu.Unlock()
			onSnapshot(snap)
		}
	}
}

func snapshotsEqual(a, b Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !bytes.Equal(v, b[k]) {
			return false
		}
	}
	return true
}
