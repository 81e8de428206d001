package model

import "encoding/json"

// FrameType tags a JSON frame on the streaming socket.
type FrameType string

const (
	FrameTextStream      FrameType = "text_stream"
	FrameAudioProcessing FrameType = "audio_processing"
	FrameFullText        FrameType = "full_text"

	// FrameRawText is the explicit fallback variant for inbound payloads
	// that do not decode as a tagged frame. The raw payload is treated as
	// a complete text reply.
	FrameRawText FrameType = "raw_text"
)

// StreamDone is the sentinel chunk payload marking end-of-stream.
const StreamDone = "[DONE]"

// Frame is one JSON control or text-stream frame on the streaming socket.
// Binary audio frames never reach this type; the transport dispatches them
// to the playback sink before decoding.
type Frame struct {
	Type FrameType `json:"type"`
	Text string    `json:"text,omitempty"`
}

// DecodeFrame attempts a structured decode into a tagged frame. A payload
// that fails to decode, or decodes without a type tag, becomes a
// FrameRawText carrying the payload verbatim.
func DecodeFrame(data []byte) Frame {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		return Frame{Type: FrameRawText, Text: string(data)}
	}
	return f
}

// IsDone reports whether the frame is the end-of-stream sentinel.
func (f Frame) IsDone() bool {
	return f.Type == FrameTextStream && f.Text == StreamDone
}
