package log

import (
	"os"
	"sync"
)

// FileLogger writes events to a .mlog file, one CBOR item per event.
// It is safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	written int
	dropped int
	closed  bool
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	return openFileLogger(path, os.O_APPEND)
}

// CreateFileLogger creates path, discarding any previous content.
func CreateFileLogger(path string) (*FileLogger, error) {
	return openFileLogger(path, os.O_TRUNC)
}

func openFileLogger(path string, mode int) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f}, nil
}

// Log appends the event. An event that cannot be encoded or written is
// counted as dropped. Events logged after Close are ignored.
func (l *FileLogger) Log(event Event) {
	data, err := MarshalEvent(event)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if err == nil {
		_, err = l.file.Write(data)
	}
	if err != nil {
		l.dropped++
		return
	}
	l.written++
}

// Written returns the number of events stored so far.
func (l *FileLogger) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Dropped returns the number of events that could not be stored.
func (l *FileLogger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the file. Further calls are no-ops.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
