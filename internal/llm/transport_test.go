package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient is a Client whose behavior is fixed per test.
type scriptedClient struct {
	mu      sync.Mutex
	reply   string
	chunks  []string
	err     error
	blockOn bool // wait for ctx cancellation instead of answering

	calls     int
	lastModel string
}

func (c *scriptedClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	c.mu.Lock()
	c.calls++
	c.lastModel = req.Model
	c.mu.Unlock()

	if c.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	return &CompletionResponse{Content: c.reply, TokensIn: 10, TokensOut: 5}, nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	c.mu.Lock()
	c.calls++
	c.lastModel = req.Model
	c.mu.Unlock()

	if c.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	var full string
	for i, chunk := range c.chunks {
		if err := callback(chunk, i); err != nil {
			return nil, err
		}
		full += chunk
	}
	return &CompletionResponse{Content: full, TokensIn: 10, TokensOut: 5}, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Models() []string { return []string{"scripted-1"} }

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSendReturnsReply(t *testing.T) {
	client := &scriptedClient{reply: "hello there"}
	tr := NewTransport(client, "test-model", time.Second)

	got, err := tr.Send(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)

	client.mu.Lock()
	assert.Equal(t, "test-model", client.lastModel)
	client.mu.Unlock()
}

func TestSendTimesOut(t *testing.T) {
	client := &scriptedClient{blockOn: true}
	tr := NewTransport(client, "test-model", 20*time.Millisecond)

	start := time.Now()
	_, err := tr.Send(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// No retry on the request path.
	assert.Equal(t, 1, client.callCount())
}

func TestSendWrapsFailures(t *testing.T) {
	cause := errors.New("connection refused")
	client := &scriptedClient{err: cause}
	tr := NewTransport(client, "test-model", time.Second)

	_, err := tr.Send(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "assistant request failed", terr.Message)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, client.callCount())
}

func TestSendStreamDeliversTokensInOrder(t *testing.T) {
	client := &scriptedClient{chunks: []string{"Hel", "lo", " world"}}
	tr := NewTransport(client, "test-model", time.Second)

	var mu sync.Mutex
	var tokens []string
	got, err := tr.SendStream(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, func(token string, index int) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(tokens), index)
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
	assert.Equal(t, []string{"Hel", "lo", " world"}, tokens)
}

func TestSendStreamTimesOut(t *testing.T) {
	client := &scriptedClient{blockOn: true}
	tr := NewTransport(client, "test-model", 20*time.Millisecond)

	_, err := tr.SendStream(context.Background(), nil, func(string, int) error { return nil })
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDefaultTimeoutApplied(t *testing.T) {
	tr := NewTransport(&scriptedClient{}, "test-model", 0)
	assert.Equal(t, 10*time.Second, tr.timeout)
}
