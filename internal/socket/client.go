// Package socket maintains the long-lived streaming connection to the
// assistant backend: one logical connection, fixed-delay reconnect, and
// per-frame dispatch to the text or audio handler.
package socket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitalink/chatsync/internal/model"
	"github.com/vitalink/chatsync/pkg/logger"
	"github.com/vitalink/chatsync/pkg/metrics"
)

// ErrNotConnected is returned when sending while the socket is down.
var ErrNotConnected = errors.New("socket not connected")

// ConnState is the connection state exposed to the UI as a status
// indicator.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Errored
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "disconnected"
	}
}

// Handlers receive inbound traffic and state transitions. Frames are
// dispatched by wire type: JSON text frames are decoded into tagged
// variants, binary frames pass through untouched.
type Handlers struct {
	OnFrame       func(model.Frame)
	OnBinary      func([]byte)
	OnStateChange func(ConnState)
}

// Client is the streaming socket client. On any close or error it
// schedules a reconnect after a fixed delay, indefinitely; only Close
// stops the cycle.
type Client struct {
	url            string
	reconnectDelay time.Duration
	handlers       Handlers
	logger         *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  ConnState
	closed bool

	done chan struct{}
}

// New creates a client for the given socket endpoint. A zero delay
// defaults to one second.
func New(url string, reconnectDelay time.Duration, handlers Handlers, log *logger.Logger) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		handlers:       handlers,
		logger:         log,
		done:           make(chan struct{}),
	}
}

// Start begins the connect/read/reconnect cycle.
func (c *Client) Start() {
	go c.run()
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendJSON writes a JSON control frame.
func (c *Client) SendJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(v)
}

// SendBinary writes a binary audio frame.
func (c *Client) SendBinary(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Close shuts the connection and suppresses the pending reconnect.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	c.setState(Disconnected)
}

func (c *Client) run() {
	for {
		if c.isClosed() {
			return
		}

		c.setState(Connecting)
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.logger.Warn("socket dial failed", zap.String("url", c.url), zap.Error(err))
			c.setState(Errored)
			if !c.waitReconnect() {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.setState(Connected)
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		c.setState(Disconnected)
		if !c.waitReconnect() {
			return
		}
	}
}

// readLoop blocks until the connection drops, dispatching each inbound
// frame by its wire type.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("socket read failed", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if c.handlers.OnBinary != nil {
				c.handlers.OnBinary(data)
			}
		case websocket.TextMessage:
			if c.handlers.OnFrame != nil {
				c.handlers.OnFrame(model.DecodeFrame(data))
			}
		}
	}
}

// waitReconnect sleeps for the fixed delay and reports whether the client
// should attempt another connection.
func (c *Client) waitReconnect() bool {
	metrics.SocketReconnects.Inc()
	select {
	case <-c.done:
		return false
	case <-time.After(c.reconnectDelay):
		return !c.isClosed()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	metrics.SocketState.Set(float64(state))
	if c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(state)
	}
}
