package socket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalink/chatsync/internal/model"
	"github.com/vitalink/chatsync/pkg/logger"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReconnectsAfterEveryClose(t *testing.T) {
	var dials atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := New(wsURL(srv), 10*time.Millisecond, Handlers{}, logger.NewNop())
	c.Start()
	defer c.Close()

	require.Eventually(t, func() bool {
		return dials.Load() >= 5
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReconnectsAfterDialFailure(t *testing.T) {
	// Nothing listens here; every dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(wsURL(srv), 10*time.Millisecond, Handlers{}, logger.NewNop())
	c.Start()
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == Errored
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseSuppressesReconnect(t *testing.T) {
	var dials atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := New(wsURL(srv), 20*time.Millisecond, Handlers{}, logger.NewNop())
	c.Start()

	require.Eventually(t, func() bool {
		return dials.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	c.Close()
	assert.Equal(t, Disconnected, c.State())

	settled := dials.Load()
	time.Sleep(100 * time.Millisecond)
	// One dial may already have been in flight when Close landed.
	assert.LessOrEqual(t, dials.Load(), settled+1)
}

func TestFrameDispatch(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ready <- conn
	}))
	defer srv.Close()

	var mu sync.Mutex
	var frames []model.Frame
	var binaries [][]byte

	handlers := Handlers{
		OnFrame: func(f model.Frame) {
			mu.Lock()
			defer mu.Unlock()
			frames = append(frames, f)
		},
		OnBinary: func(b []byte) {
			mu.Lock()
			defer mu.Unlock()
			binaries = append(binaries, append([]byte(nil), b...))
		},
	}

	c := New(wsURL(srv), time.Second, handlers, logger.NewNop())
	c.Start()
	defer c.Close()

	var server *websocket.Conn
	select {
	case server = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	defer server.Close()

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"text_stream","text":"tok"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{0xDE, 0xAD}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2 && len(binaries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, model.Frame{Type: model.FrameTextStream, Text: "tok"}, frames[0])
	assert.Equal(t, model.Frame{Type: model.FrameRawText, Text: "not json"}, frames[1])
	assert.Equal(t, []byte{0xDE, 0xAD}, binaries[0])
}

func TestStateTransitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Hold the connection open until the test ends.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var states []ConnState
	c := New(wsURL(srv), time.Second, Handlers{
		OnStateChange: func(s ConnState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		},
	}, logger.NewNop())
	c.Start()

	require.Eventually(t, func() bool {
		return c.State() == Connected
	}, 2*time.Second, 10*time.Millisecond)

	c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3 && states[len(states)-1] == Disconnected
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, Connecting, states[0])
	assert.Equal(t, Connected, states[1])
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:0/none", time.Second, Handlers{}, logger.NewNop())

	assert.ErrorIs(t, c.SendJSON(map[string]string{"type": "ping"}), ErrNotConnected)
	assert.ErrorIs(t, c.SendBinary([]byte{0x01}), ErrNotConnected)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "error", Errored.String())
}
