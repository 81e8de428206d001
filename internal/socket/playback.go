package socket

import (
	"go.uber.org/zap"

	"github.com/vitalink/chatsync/pkg/logger"
)

// playbackFunc adapts a function to the assembler's playback sink.
type playbackFunc func([]byte)

func (f playbackFunc) Play(payload []byte) { f(payload) }

// LogSink is the server-side playback sink. Audio replies are produced
// for the client, so the service only accounts for the payload.
type LogSink struct {
	logger *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Play(payload []byte) {
	s.logger.Debug("audio reply received", zap.Int("bytes", len(payload)))
}
