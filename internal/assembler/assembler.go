// Package assembler turns a sequence of partial-text stream events into
// one finalized bot message.
package assembler

import (
	"errors"
	"sync"

	"github.com/vitalink/chatsync/internal/model"
)

// ErrBusy is returned when a reply is already in flight.
var ErrBusy = errors.New("a reply is already being assembled")

// State is the assembler's position in the reply lifecycle.
type State int

const (
	// Idle: no request outstanding.
	Idle State = iota
	// Awaiting: request issued, nothing received yet.
	Awaiting
	// Accumulating: a provisional message exists and grows per chunk.
	Accumulating
	// Playing: a binary audio reply is being played back.
	Playing
)

func (s State) String() string {
	switch s {
	case Awaiting:
		return "awaiting"
	case Accumulating:
		return "accumulating"
	case Playing:
		return "playing"
	default:
		return "idle"
	}
}

// PlaybackSink receives binary audio replies. Playback completion is
// signaled back through PlaybackDone.
type PlaybackSink interface {
	Play(payload []byte)
}

// Callbacks are invoked as the assembler advances. OnFinal fires at most
// once per reply; the message it delivers is immutable from then on.
type Callbacks struct {
	// OnProvisional is invoked after every chunk append with the current
	// provisional message.
	OnProvisional func(model.Message)
	// OnFinal is invoked once when the reply is finalized.
	OnFinal func(model.Message)
	// OnFailed is invoked when the in-flight reply fails.
	OnFailed func(error)
}

// Assembler accumulates chunk events into a provisional message and
// finalizes it on the end-of-stream sentinel. Chunks are applied in
// arrival order, append-only; deduplication is the transport's concern.
type Assembler struct {
	mu          sync.Mutex
	state       State
	provisional *model.Message
	callbacks   Callbacks
	sink        PlaybackSink
}

// New creates an idle assembler.
func New(callbacks Callbacks, sink PlaybackSink) *Assembler {
	return &Assembler{callbacks: callbacks, sink: sink}
}

// State returns the current state.
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// InFlight reports whether a reply is outstanding, the "awaiting reply"
// indicator.
func (a *Assembler) InFlight() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != Idle
}

// Start marks a request as issued. Fails with ErrBusy if a reply is
// already in flight.
func (a *Assembler) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Idle {
		return ErrBusy
	}
	a.state = Awaiting
	return nil
}

// Chunk applies one text-stream event. The sentinel payload finalizes the
// provisional message; chunks arriving while idle are dropped.
func (a *Assembler) Chunk(text string) {
	a.mu.Lock()

	if text == model.StreamDone {
		a.finalizeLocked()
		return
	}

	switch a.state {
	case Awaiting:
		msg := model.NewMessage(model.SenderBot, text)
		a.provisional = &msg
		a.state = Accumulating
	case Accumulating:
		a.provisional.Content += text
	default:
		a.mu.Unlock()
		return
	}

	provisional := *a.provisional
	onProvisional := a.callbacks.OnProvisional
	a.mu.Unlock()

	if onProvisional != nil {
		onProvisional(provisional)
	}
}

// FullText applies a complete reply delivered in a single frame,
// finalizing immediately.
func (a *Assembler) FullText(text string) {
	a.mu.Lock()
	if a.state != Awaiting && a.state != Accumulating {
		a.mu.Unlock()
		return
	}
	if a.provisional == nil {
		msg := model.NewMessage(model.SenderBot, text)
		a.provisional = &msg
	} else {
		a.provisional.Content = text
	}
	a.finalizeLocked()
}

// Binary routes an audio reply to the playback sink.
func (a *Assembler) Binary(payload []byte) {
	a.mu.Lock()
	if a.state != Awaiting {
		a.mu.Unlock()
		return
	}
	a.state = Playing
	sink := a.sink
	a.mu.Unlock()

	if sink != nil {
		sink.Play(payload)
	}
}

// PlaybackDone signals that audio playback completed.
func (a *Assembler) PlaybackDone() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Playing {
		a.state = Idle
	}
}

// Fail aborts the in-flight reply: transport error, socket close, or
// timeout. The provisional message is discarded; OnFailed is expected to
// surface a synthetic error message instead.
func (a *Assembler) Fail(err error) {
	a.mu.Lock()
	if a.state == Idle {
		a.mu.Unlock()
		return
	}
	a.state = Idle
	a.provisional = nil
	onFailed := a.callbacks.OnFailed
	a.mu.Unlock()

	if onFailed != nil {
		onFailed(err)
	}
}

// finalizeLocked emits the provisional message as final and returns to
// idle. Releases a.mu.
func (a *Assembler) finalizeLocked() {
	if a.provisional == nil {
		// End marker with no content: nothing to persist.
		a.state = Idle
		a.mu.Unlock()
		return
	}

	final := *a.provisional
	a.provisional = nil
	a.state = Idle
	onFinal := a.callbacks.OnFinal
	a.mu.Unlock()

	if onFinal != nil {
		onFinal(final)
	}
}
