package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitalink/chatsync/pkg/metrics"
)

// ErrTimeout is returned when a completion call exceeds the client-side
// deadline.
var ErrTimeout = errors.New("assistant request timed out")

// TransportError carries a human-readable message for any non-timeout
// transport failure. HTTP-level and network-level failures surface
// identically; callers only need the message.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport wraps a Client with the request/response policy: a
// client-side timeout with cancellation and a uniform error shape. There
// are no retries on this path; failures propagate immediately so the
// caller can surface a visible response.
type Transport struct {
	client  Client
	model   string
	timeout time.Duration
}

// NewTransport creates a request/response transport. A zero timeout
// defaults to 10 seconds.
func NewTransport(client Client, model string, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Transport{client: client, model: model, timeout: timeout}
}

// Send issues one completion call for the given conversation context and
// returns the reply text.
func (t *Transport) Send(ctx context.Context, messages []ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.client.Complete(ctx, &CompletionRequest{
		Model:    t.model,
		Messages: messages,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordLLMRequest(t.client.Name(), "timeout", time.Since(start).Seconds(), 0, 0)
			return "", ErrTimeout
		}
		metrics.RecordLLMRequest(t.client.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", &TransportError{Message: "assistant request failed", Err: err}
	}

	metrics.RecordLLMRequest(t.client.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

// SendStream issues one streaming completion call, invoking callback per
// token, and returns the assembled reply text.
func (t *Transport) SendStream(ctx context.Context, messages []ChatMessage, callback StreamCallback) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.client.CompleteStream(ctx, &CompletionRequest{
		Model:    t.model,
		Messages: messages,
	}, callback)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordLLMRequest(t.client.Name(), "timeout", time.Since(start).Seconds(), 0, 0)
			return "", ErrTimeout
		}
		metrics.RecordLLMRequest(t.client.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", &TransportError{Message: "assistant request failed", Err: err}
	}

	metrics.RecordLLMRequest(t.client.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}
