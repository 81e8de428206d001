// Package controller orchestrates session lifecycle and message
// send/receive. The controller is the only writer to its local cache; the
// session store remains the source of truth, with optimistic local
// appends held in a pending overlay until the store confirms them.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalink/chatsync/internal/assembler"
	"github.com/vitalink/chatsync/internal/identity"
	"github.com/vitalink/chatsync/internal/llm"
	"github.com/vitalink/chatsync/internal/model"
	"github.com/vitalink/chatsync/internal/store"
	"github.com/vitalink/chatsync/pkg/logger"
	"github.com/vitalink/chatsync/pkg/metrics"
)

// Transport is the request/response boundary to the assistant backend.
type Transport interface {
	Send(ctx context.Context, messages []llm.ChatMessage) (string, error)
	SendStream(ctx context.Context, messages []llm.ChatMessage, callback llm.StreamCallback) (string, error)
}

// Controller owns one user's session list, active session, and message
// cache.
type Controller struct {
	store     store.Store
	transport Transport
	logger    *logger.Logger

	mu       sync.Mutex
	user     *identity.User
	sessions map[string]model.Session
	activeID string

	// authoritative is the store's last messages snapshot for the active
	// session; pending is the optimistic overlay keyed by client
	// generated message id. The visible list is a pure merge of the two.
	authoritative map[string]model.Message
	pending       map[string]model.Message
	provisional   *model.Message

	awaiting int

	seenSessions  bool
	unsubSessions store.UnsubscribeFunc
	unsubMessages store.UnsubscribeFunc
}

// New creates a controller with no identity attached.
func New(st store.Store, transport Transport, log *logger.Logger) *Controller {
	return &Controller{
		store:         st,
		transport:     transport,
		logger:        log,
		sessions:      make(map[string]model.Session),
		authoritative: make(map[string]model.Message),
		pending:       make(map[string]model.Message),
	}
}

// OnIdentityChange swaps the current user. A nil user tears down all
// subscriptions and clears the cache; a non-nil user subscribes to that
// user's session list, creating a first session if none exist.
func (c *Controller) OnIdentityChange(ctx context.Context, user *identity.User) error {
	c.mu.Lock()
	c.teardownLocked()
	c.user = user
	c.mu.Unlock()

	if user == nil {
		return nil
	}

	unsub, err := c.store.Subscribe(ctx, store.UserSessionsPath(user.ID), func(snap store.Snapshot) {
		c.onSessionsSnapshot(snap)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to sessions: %w", err)
	}

	c.mu.Lock()
	c.unsubSessions = unsub
	c.mu.Unlock()
	return nil
}

// CreateSession creates, persists, and activates a new session, seeded
// with one bot greeting.
func (c *Controller) CreateSession(ctx context.Context) (model.Session, error) {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	if user == nil {
		return model.Session{}, ErrNotAuthenticated
	}

	sess := model.NewSession()
	if err := c.store.Write(ctx, store.SessionPath(user.ID, sess.ID), sess); err != nil {
		return model.Session{}, fmt.Errorf("failed to persist session: %w", err)
	}

	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.activateLocked(ctx, sess.ID)
	c.mu.Unlock()

	metrics.SessionsTotal.Inc()
	c.logger.Info("session created", zap.String("user_id", user.ID), zap.String("session_id", sess.ID))

	greeting := model.NewMessage(model.SenderBot, greetingFor(user.Name))
	c.appendBotMessage(ctx, sess.ID, greeting)

	return sess, nil
}

// SwitchSession makes the given session active, swapping the live message
// subscription. Unknown ids fail with ErrSessionNotFound.
func (c *Controller) SwitchSession(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.user == nil {
		return ErrNotAuthenticated
	}
	if _, ok := c.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	c.activateLocked(ctx, id)
	return nil
}

// DeleteSession removes a session and its message subtree. If the deleted
// session was active, the most recently active remaining session takes
// over; with none left, a fresh session is created. The active id never
// points at a deleted session.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	user := c.user
	if user == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if _, ok := c.sessions[id]; !ok {
		c.mu.Unlock()
		return ErrSessionNotFound
	}

	delete(c.sessions, id)
	wasActive := c.activeID == id
	var replacement string
	if wasActive {
		if next := mostRecentLocked(c.sessions); next != "" {
			replacement = next
			c.activateLocked(ctx, next)
		} else {
			c.clearActiveLocked()
		}
	}
	c.mu.Unlock()

	if err := c.store.DeleteTree(ctx, store.SessionPath(user.ID, id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	metrics.SessionsDeleted.Inc()
	c.logger.Info("session deleted", zap.String("user_id", user.ID), zap.String("session_id", id))

	if wasActive && replacement == "" {
		if _, err := c.CreateSession(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SendUserMessage appends and persists the user's turn, then requests the
// assistant reply in the background. The reply binds to the session that
// was active at send time, even if the user switches sessions meanwhile.
func (c *Controller) SendUserMessage(ctx context.Context, text string) (model.Message, error) {
	userMsg, sessionID, history, err := c.appendUserTurn(ctx, text)
	if err != nil {
		return model.Message{}, err
	}

	go c.requestReply(context.WithoutCancel(ctx), sessionID, history)
	return userMsg, nil
}

// SendUserMessageStream is the streaming variant: the reply is assembled
// chunk by chunk, with each token forwarded to onToken, and finalized on
// the end-of-stream sentinel.
func (c *Controller) SendUserMessageStream(ctx context.Context, text string, onToken llm.StreamCallback) (model.Message, error) {
	userMsg, sessionID, history, err := c.appendUserTurn(ctx, text)
	if err != nil {
		return model.Message{}, err
	}

	c.streamReply(ctx, sessionID, history, onToken)
	return userMsg, nil
}

// ClearSession deletes all messages of the active session, then seeds a
// single fresh bot message. The session record itself survives.
func (c *Controller) ClearSession(ctx context.Context) error {
	c.mu.Lock()
	user := c.user
	sessionID := c.activeID
	if user == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if sessionID == "" {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	c.authoritative = make(map[string]model.Message)
	c.pending = make(map[string]model.Message)
	c.provisional = nil
	c.mu.Unlock()

	if err := c.store.DeleteTree(ctx, store.MessagesPath(user.ID, sessionID)); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	seed := model.NewMessage(model.SenderBot, "Chat history cleared. How can I help you?")
	c.appendBotMessage(ctx, sessionID, seed)
	return nil
}

// Sessions returns the session list ordered by last activity, most recent
// first.
func (c *Controller) Sessions() []model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]model.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	return model.SortSessions(list)
}

// ActiveSessionID returns the currently active session id, or "".
func (c *Controller) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Messages returns the active session's ordered message list: the store
// snapshot merged with the pending overlay, plus any provisional
// streaming message.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := reconcile(c.authoritative, c.pending)
	if c.provisional != nil {
		msgs = append(msgs, *c.provisional)
	}
	return msgs
}

// AwaitingReply reports whether an assistant reply is outstanding.
func (c *Controller) AwaitingReply() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting > 0
}

// Close tears down all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.user = nil
}

// reconcile merges the authoritative snapshot with the pending overlay.
// A pending message whose id appears in the snapshot is confirmed; the
// snapshot version wins, so an optimistic append and its store echo
// collapse into one entry.
func reconcile(authoritative, pending map[string]model.Message) []model.Message {
	merged := make([]model.Message, 0, len(authoritative)+len(pending))
	for _, m := range authoritative {
		merged = append(merged, m)
	}
	for id, m := range pending {
		if _, confirmed := authoritative[id]; !confirmed {
			merged = append(merged, m)
		}
	}
	return model.SortMessages(merged)
}

// appendUserTurn validates and optimistically appends the user's message,
// persists it, and updates the session metadata. It returns the history
// to hand to the transport, captured under the same lock so the reply is
// computed from a consistent view.
func (c *Controller) appendUserTurn(ctx context.Context, text string) (model.Message, string, []llm.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, "", nil, ErrEmptyMessage
	}

	c.mu.Lock()
	user := c.user
	sessionID := c.activeID
	if user == nil {
		c.mu.Unlock()
		return model.Message{}, "", nil, ErrNotAuthenticated
	}
	if sessionID == "" {
		c.mu.Unlock()
		return model.Message{}, "", nil, ErrNoActiveSession
	}

	msg := model.NewMessage(model.SenderUser, text)
	firstUserMessage := !c.hasUserMessageLocked()
	c.pending[msg.ID] = msg
	history := chatHistory(reconcile(c.authoritative, c.pending))
	c.awaiting++
	c.mu.Unlock()

	if err := c.store.Write(ctx, store.MessagePath(user.ID, sessionID, msg.ID), msg); err != nil {
		c.markUnpersisted(msg.ID)
		c.logger.Error("failed to persist user message",
			zap.String("session_id", sessionID), zap.Error(err))
		metrics.StoreWriteFailures.Inc()
	}

	c.touchSession(ctx, user.ID, sessionID, text, firstUserMessage)
	metrics.MessagesTotal.WithLabelValues(string(model.SenderUser)).Inc()

	return msg, sessionID, history, nil
}

// requestReply issues a single-shot completion and appends the reply, or
// a synthetic error message, to the session captured at send time. A user
// turn never goes unanswered.
func (c *Controller) requestReply(ctx context.Context, sessionID string, history []llm.ChatMessage) {
	defer c.doneAwaiting()

	asm := c.replyAssembler(ctx, sessionID)
	if err := asm.Start(); err != nil {
		return
	}

	reply, err := c.transport.Send(ctx, history)
	if err != nil {
		asm.Fail(err)
		return
	}
	asm.FullText(reply)
}

// streamReply issues a streaming completion, routing each chunk through a
// reply assembler bound to the captured session.
func (c *Controller) streamReply(ctx context.Context, sessionID string, history []llm.ChatMessage, onToken llm.StreamCallback) {
	defer c.doneAwaiting()

	asm := c.replyAssembler(ctx, sessionID)
	if err := asm.Start(); err != nil {
		return
	}

	reply, err := c.transport.SendStream(ctx, history, func(token string, index int) error {
		asm.Chunk(token)
		if onToken != nil {
			return onToken(token, index)
		}
		return nil
	})
	if err != nil {
		asm.Fail(err)
		return
	}
	// Finalize with the transport's complete reply rather than the bare
	// end marker, so a stream that produced no chunks still yields a
	// visible bot message.
	asm.FullText(reply)
}

// replyAssembler builds a per-reply assembler whose callbacks persist the
// finalized message to the session captured at send time, preventing
// cross-session leakage when the user switches mid-flight.
func (c *Controller) replyAssembler(ctx context.Context, sessionID string) *assembler.Assembler {
	return assembler.New(assembler.Callbacks{
		OnProvisional: func(m model.Message) {
			c.setProvisional(sessionID, m)
		},
		OnFinal: func(m model.Message) {
			c.clearProvisional(sessionID)
			c.appendBotMessage(ctx, sessionID, m)
		},
		OnFailed: func(err error) {
			c.clearProvisional(sessionID)
			c.logger.Warn("assistant reply failed", zap.String("session_id", sessionID), zap.Error(err))
			c.appendBotMessage(ctx, sessionID, model.NewMessage(model.SenderBot, userFacingError(err)))
		},
	}, nil)
}

// appendBotMessage optimistically appends (when the session is still
// active) and persists a finalized bot message, updating the session
// metadata.
func (c *Controller) appendBotMessage(ctx context.Context, sessionID string, msg model.Message) {
	c.mu.Lock()
	user := c.user
	if user == nil {
		c.mu.Unlock()
		return
	}
	if c.activeID == sessionID {
		c.pending[msg.ID] = msg
	}
	c.mu.Unlock()

	if err := c.store.Write(ctx, store.MessagePath(user.ID, sessionID, msg.ID), msg); err != nil {
		c.markUnpersisted(msg.ID)
		c.logger.Error("failed to persist bot message",
			zap.String("session_id", sessionID), zap.Error(err))
		metrics.StoreWriteFailures.Inc()
	}

	c.touchSession(ctx, user.ID, sessionID, msg.Content, false)
	metrics.MessagesTotal.WithLabelValues(string(model.SenderBot)).Inc()
}

// touchSession updates lastMessage and the activity timestamp, and on the
// first real user message renames the session after it.
func (c *Controller) touchSession(ctx context.Context, userID, sessionID, lastMessage string, deriveTitle bool) {
	now := time.Now().UnixMilli()
	patch := model.SessionPatch{
		LastMessage: &lastMessage,
		Timestamp:   &now,
	}
	var title string
	if deriveTitle {
		title = model.DeriveTitle(lastMessage)
		patch.Title = &title
	}

	c.mu.Lock()
	if sess, ok := c.sessions[sessionID]; ok {
		sess.LastMessage = lastMessage
		sess.Timestamp = now
		if deriveTitle {
			sess.Title = title
		}
		c.sessions[sessionID] = sess
	}
	c.mu.Unlock()

	if err := c.store.Patch(ctx, store.SessionPath(userID, sessionID), patch); err != nil {
		c.logger.Error("failed to update session metadata",
			zap.String("session_id", sessionID), zap.Error(err))
		metrics.StoreWriteFailures.Inc()
	}
}

// onSessionsSnapshot replaces the local session list with the store's
// snapshot.
func (c *Controller) onSessionsSnapshot(snap store.Snapshot) {
	sessions := make(map[string]model.Session, len(snap))
	for id, doc := range snap {
		var sess model.Session
		if err := json.Unmarshal(doc, &sess); err != nil {
			c.logger.Warn("skipping malformed session document", zap.String("session_id", id), zap.Error(err))
			continue
		}
		sessions[id] = sess
	}

	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return
	}
	firstSnapshot := !c.seenSessions
	c.seenSessions = true
	c.sessions = sessions

	needSeed := firstSnapshot && len(sessions) == 0
	needFallback := false
	if c.activeID != "" {
		if _, ok := sessions[c.activeID]; !ok {
			// Active session deleted remotely.
			if next := mostRecentLocked(sessions); next != "" {
				c.activateLocked(context.Background(), next)
			} else {
				c.clearActiveLocked()
				needFallback = true
			}
		}
	} else if !needSeed && len(sessions) > 0 {
		c.activateLocked(context.Background(), mostRecentLocked(sessions))
	}
	c.mu.Unlock()

	if needSeed || needFallback {
		if _, err := c.CreateSession(context.Background()); err != nil {
			c.logger.Error("failed to create initial session", zap.Error(err))
		}
	}
}

// onMessagesSnapshot replaces the authoritative message list wholesale.
// Snapshots for sessions that are no longer active are dropped.
func (c *Controller) onMessagesSnapshot(sessionID string, snap store.Snapshot) {
	messages := make(map[string]model.Message, len(snap))
	for id, doc := range snap {
		var msg model.Message
		if err := json.Unmarshal(doc, &msg); err != nil {
			c.logger.Warn("skipping malformed message document", zap.String("message_id", id), zap.Error(err))
			continue
		}
		messages[id] = msg
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID != sessionID {
		return
	}
	c.authoritative = messages
	// Confirmed writes leave the overlay.
	for id := range c.pending {
		if _, ok := messages[id]; ok {
			delete(c.pending, id)
		}
	}
}

// activateLocked swaps the live message subscription to the given
// session. Callers hold c.mu.
func (c *Controller) activateLocked(ctx context.Context, id string) {
	if c.activeID == id && c.unsubMessages != nil {
		return
	}
	if c.unsubMessages != nil {
		c.unsubMessages()
		c.unsubMessages = nil
	}
	c.activeID = id
	c.authoritative = make(map[string]model.Message)
	c.pending = make(map[string]model.Message)
	c.provisional = nil

	user := c.user
	if user == nil {
		return
	}
	sessionID := id
	unsub, err := c.store.Subscribe(ctx, store.MessagesPath(user.ID, sessionID), func(snap store.Snapshot) {
		c.onMessagesSnapshot(sessionID, snap)
	})
	if err != nil {
		c.logger.Error("failed to subscribe to messages",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	c.unsubMessages = unsub
}

func (c *Controller) clearActiveLocked() {
	if c.unsubMessages != nil {
		c.unsubMessages()
		c.unsubMessages = nil
	}
	c.activeID = ""
	c.authoritative = make(map[string]model.Message)
	c.pending = make(map[string]model.Message)
	c.provisional = nil
}

func (c *Controller) teardownLocked() {
	if c.unsubSessions != nil {
		c.unsubSessions()
		c.unsubSessions = nil
	}
	c.clearActiveLocked()
	c.sessions = make(map[string]model.Session)
	c.seenSessions = false
}

func (c *Controller) hasUserMessageLocked() bool {
	for _, m := range c.authoritative {
		if m.Sender == model.SenderUser {
			return true
		}
	}
	for _, m := range c.pending {
		if m.Sender == model.SenderUser {
			return true
		}
	}
	return false
}

func (c *Controller) setProvisional(sessionID string, msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == sessionID {
		c.provisional = &msg
	}
}

func (c *Controller) clearProvisional(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == sessionID {
		c.provisional = nil
	}
}

func (c *Controller) markUnpersisted(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.pending[messageID]; ok {
		m.Unpersisted = true
		c.pending[messageID] = m
	}
}

func (c *Controller) doneAwaiting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaiting > 0 {
		c.awaiting--
	}
}

func mostRecentLocked(sessions map[string]model.Session) string {
	var best model.Session
	for _, s := range sessions {
		if best.ID == "" || s.Timestamp > best.Timestamp ||
			(s.Timestamp == best.Timestamp && s.ID > best.ID) {
			best = s
		}
	}
	return best.ID
}

func chatHistory(messages []model.Message) []llm.ChatMessage {
	history := make([]llm.ChatMessage, 0, len(messages))
	for _, m := range messages {
		role := "assistant"
		if m.Sender == model.SenderUser {
			role = "user"
		}
		history = append(history, llm.ChatMessage{Role: role, Content: m.Content})
	}
	return history
}

func greetingFor(name string) string {
	if name != "" {
		return fmt.Sprintf("Hi %s! I'm your health assistant. How can I help you today?", name)
	}
	return "Hi! I'm your health assistant. How can I help you today?"
}

// userFacingError maps a transport failure to the plain-language bot
// message shown in place of a reply.
func userFacingError(err error) string {
	if errors.Is(err, llm.ErrTimeout) {
		return "Sorry, the assistant took too long to respond. Please try again."
	}
	return "Sorry, I couldn't reach the assistant right now. Please try again."
}
