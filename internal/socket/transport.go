package socket

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalink/chatsync/internal/assembler"
	"github.com/vitalink/chatsync/internal/llm"
	"github.com/vitalink/chatsync/internal/model"
	"github.com/vitalink/chatsync/pkg/logger"
	"github.com/vitalink/chatsync/pkg/metrics"
)

// Transport adapts the streaming connection to the request/response
// transport boundary: the user turn goes out as one JSON frame and the
// reply is assembled from inbound frames. The wire carries no
// correlation ids, so turns serialize over the single connection.
type Transport struct {
	client  *Client
	sink    assembler.PlaybackSink
	timeout time.Duration
	logger  *logger.Logger

	// turnMu admits one turn onto the wire at a time.
	turnMu sync.Mutex

	mu       sync.Mutex
	inflight *turn
}

// turn is one outstanding round trip.
type turn struct {
	asm *assembler.Assembler

	mu      sync.Mutex
	prevLen int
	index   int

	once  sync.Once
	done  chan struct{}
	reply string
	err   error
}

func (t *turn) finish(reply string, err error) {
	t.once.Do(func() {
		t.reply = reply
		t.err = err
		close(t.done)
	})
}

// NewTransport creates a socket-backed transport. Binary audio replies
// are handed to sink. A zero timeout defaults to 10 seconds.
func NewTransport(url string, reconnectDelay, timeout time.Duration, sink assembler.PlaybackSink, log *logger.Logger) *Transport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &Transport{sink: sink, timeout: timeout, logger: log}
	t.client = New(url, reconnectDelay, Handlers{
		OnFrame:  t.onFrame,
		OnBinary: t.onBinary,
		OnStateChange: func(state ConnState) {
			log.Info("socket state changed", zap.String("state", state.String()))
		},
	}, log)
	return t
}

// Start begins the connect/reconnect cycle.
func (t *Transport) Start() { t.client.Start() }

// Close shuts the connection down.
func (t *Transport) Close() { t.client.Close() }

// State returns the connection state.
func (t *Transport) State() ConnState { return t.client.State() }

// Send issues one turn and waits for the complete assembled reply.
func (t *Transport) Send(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	return t.roundTrip(ctx, messages, nil)
}

// SendStream issues one turn, forwarding each reply token to callback
// as it is assembled.
func (t *Transport) SendStream(ctx context.Context, messages []llm.ChatMessage, callback llm.StreamCallback) (string, error) {
	return t.roundTrip(ctx, messages, callback)
}

func (t *Transport) roundTrip(ctx context.Context, messages []llm.ChatMessage, onToken llm.StreamCallback) (string, error) {
	if len(messages) == 0 {
		return "", &llm.TransportError{Message: "empty conversation"}
	}

	t.turnMu.Lock()
	defer t.turnMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	call := &turn{done: make(chan struct{})}
	call.asm = assembler.New(assembler.Callbacks{
		OnProvisional: func(m model.Message) {
			if onToken == nil {
				return
			}
			call.mu.Lock()
			token := m.Content[call.prevLen:]
			call.prevLen = len(m.Content)
			var index int
			if token != "" {
				index = call.index
				call.index++
			}
			call.mu.Unlock()
			if token == "" {
				return
			}
			if err := onToken(token, index); err != nil {
				call.finish("", err)
			}
		},
		OnFinal: func(m model.Message) {
			call.finish(m.Content, nil)
		},
		OnFailed: func(err error) {
			call.finish("", err)
		},
	}, playbackFunc(func(payload []byte) {
		if t.sink != nil {
			t.sink.Play(payload)
		}
		// Audio is produced for the client; nothing plays locally, so
		// the turn resolves as soon as the sink has the payload.
		call.asm.PlaybackDone()
		call.finish("", nil)
	}))

	if err := call.asm.Start(); err != nil {
		return "", &llm.TransportError{Message: "assistant request failed", Err: err}
	}

	t.mu.Lock()
	t.inflight = call
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inflight = nil
		t.mu.Unlock()
	}()

	last := messages[len(messages)-1]
	if err := t.client.SendJSON(model.Frame{Type: model.FrameFullText, Text: last.Content}); err != nil {
		call.asm.Fail(err)
		return "", &llm.TransportError{Message: "assistant request failed", Err: err}
	}

	select {
	case <-ctx.Done():
		call.asm.Fail(ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", llm.ErrTimeout
		}
		return "", &llm.TransportError{Message: "assistant request failed", Err: ctx.Err()}
	case <-call.done:
		if call.err != nil {
			return "", &llm.TransportError{Message: "assistant request failed", Err: call.err}
		}
		return call.reply, nil
	}
}

// onFrame routes an inbound JSON frame into the in-flight turn's
// assembler. Frames with no turn outstanding are dropped.
func (t *Transport) onFrame(frame model.Frame) {
	t.mu.Lock()
	call := t.inflight
	t.mu.Unlock()
	if call == nil {
		t.logger.Debug("dropping frame with no turn in flight", zap.String("type", string(frame.Type)))
		return
	}

	switch frame.Type {
	case model.FrameTextStream:
		if frame.IsDone() && call.asm.State() == assembler.Awaiting {
			// End marker before any chunk: resolve as an empty reply
			// instead of waiting out the deadline.
			call.finish("", nil)
			return
		}
		call.asm.Chunk(frame.Text)
	case model.FrameFullText, model.FrameRawText:
		call.asm.FullText(frame.Text)
	case model.FrameAudioProcessing:
		// Progress marker while the backend synthesizes audio.
	}
}

// onBinary routes an inbound audio frame to the in-flight turn.
func (t *Transport) onBinary(payload []byte) {
	metrics.SocketAudioFrames.Inc()

	t.mu.Lock()
	call := t.inflight
	t.mu.Unlock()
	if call == nil {
		t.logger.Debug("dropping audio frame with no turn in flight", zap.Int("bytes", len(payload)))
		return
	}
	call.asm.Binary(payload)
}
