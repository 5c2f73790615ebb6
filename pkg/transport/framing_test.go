package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/m2mlink/m2m-go/pkg/log"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"small message", []byte("hello")},
		{"medium message", bytes.Repeat([]byte("x"), 1000)},
		{"max size message", bytes.Repeat([]byte("y"), DefaultMaxMessageSize)},
		{"single byte", []byte{0x42}},
		{"binary data", []byte{0x00, 0xFF, 0x7F, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			if err := NewFrameWriter(buf, 0).WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != FrameSize(len(tt.payload)) {
				t.Errorf("frame size = %d, want %d", buf.Len(), FrameSize(len(tt.payload)))
			}

			got, err := NewFrameReader(buf, 0).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func lengthPrefix(n uint32) []byte {
	var b [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}

func TestFrameErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		maxSize uint32
		want    error
	}{
		{"too large", append(lengthPrefix(1000), bytes.Repeat([]byte("x"), 1000)...), 100, ErrMessageTooLarge},
		{"zero length", lengthPrefix(0), 0, ErrMessageEmpty},
		{"truncated length", []byte{0x00, 0x01}, 0, ErrFrameTruncated},
		{"truncated payload", append(lengthPrefix(100), bytes.Repeat([]byte("x"), 50)...), 0, ErrFrameTruncated},
		{"clean EOF", nil, 0, io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.input), tt.maxSize).ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFrameWriterRejects(t *testing.T) {
	w := NewFrameWriter(new(bytes.Buffer), 100)
	if err := w.WriteFrame(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("WriteFrame(nil) error = %v, want ErrMessageEmpty", err)
	}
	if err := w.WriteFrame(bytes.Repeat([]byte("x"), 101)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("WriteFrame(101 bytes) error = %v, want ErrMessageTooLarge", err)
	}
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf, 0)
	messages := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, msg := range messages {
		if err := writer.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	reader := NewFrameReader(buf, 0)
	for i, want := range messages {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("message %d = %q, want %q", i, got, want)
		}
	}
	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("expected EOF after all messages, got %v", err)
	}
}

// readWriter joins the two ends of a pipe.
type readWriter struct {
	io.Reader
	io.Writer
}

func TestFramerOverPipe(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()

	logger := &capturingLogger{}
	payload := []byte("register me")

	done := make(chan error, 1)
	go func() {
		framer := NewFramer(readWriter{r, w}, 0)
		framer.SetLogger(logger, "conn-789")
		done <- framer.WriteFrame(payload)
	}()

	framer := NewFramer(readWriter{r, w}, 0)
	framer.SetLogger(logger, "conn-789")
	got, err := framer.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}

	events := logger.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, e := range events {
		if e.ConnectionID != "conn-789" {
			t.Errorf("ConnectionID = %q, want conn-789", e.ConnectionID)
		}
		if e.Layer != log.LayerTransport || e.Category != log.CategoryMessage {
			t.Errorf("event layer/category = %v/%v", e.Layer, e.Category)
		}
		if e.Frame == nil || e.Frame.Size != FrameSize(len(payload)) {
			t.Errorf("Frame = %+v, want size %d", e.Frame, FrameSize(len(payload)))
		}
	}
}

func TestFrameLogTruncatesData(t *testing.T) {
	logger := &capturingLogger{}
	writer := NewFrameWriter(new(bytes.Buffer), 0)
	writer.SetLogger(logger, "conn-trunc")

	large := bytes.Repeat([]byte("x"), 5000)
	if err := writer.WriteFrame(large); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 1 || events[0].Frame == nil {
		t.Fatalf("expected 1 frame event, got %v", events)
	}
	f := events[0].Frame
	if f.Size != FrameSize(len(large)) {
		t.Errorf("Frame.Size = %d, want %d", f.Size, FrameSize(len(large)))
	}
	if len(f.Data) != log.MaxFrameData || !f.Truncated {
		t.Errorf("Frame.Data length = %d truncated = %v, want %d true", len(f.Data), f.Truncated, log.MaxFrameData)
	}
	if events[0].Direction != log.DirectionOut {
		t.Errorf("Direction = %v, want OUT", events[0].Direction)
	}
}

func BenchmarkFrameRead(b *testing.B) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf, 0)
	payload := bytes.Repeat([]byte("x"), 1000)
	for i := 0; i < 1000; i++ {
		writer.WriteFrame(payload)
	}
	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := NewFrameReader(bytes.NewReader(data), 0)
		for {
			_, err := reader.ReadFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}
