package log

import (
	"io"
	"log/slog"
	"sync"
)

// Sink receives human-readable trace lines such as "Registered" or
// "[ERROR] Timeout". Emit is best effort and never fails.
type Sink interface {
	Emit(text string)
}

// NoopSink discards all trace lines.
type NoopSink struct{}

// Emit discards the text.
func (NoopSink) Emit(string) {}

// WriterSink writes each trace line framed by CR LF, the way a serial
// console expects it.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit writes "\r\n<text>\r\n". Write errors are dropped.
func (s *WriterSink) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, "\r\n"+text+"\r\n")
}

// SlogSink forwards trace lines to an slog.Logger at Info level.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Emit logs the text under the "trace" message.
func (s *SlogSink) Emit(text string) {
	s.logger.Info("trace", slog.String("text", text))
}

// MultiSink fans a trace line out to several sinks.
type MultiSink []Sink

// Emit forwards text to every sink.
func (m MultiSink) Emit(text string) {
	for _, s := range m {
		s.Emit(text)
	}
}

var (
	_ Sink = NoopSink{}
	_ Sink = (*WriterSink)(nil)
	_ Sink = (*SlogSink)(nil)
	_ Sink = MultiSink(nil)
)
