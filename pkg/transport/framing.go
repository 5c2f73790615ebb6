package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/m2mlink/m2m-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum message size.
	// Datagram bindings use the same limit.
	DefaultMaxMessageSize = 16384
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// frameLog reports frames of one connection to a protocol logger.
type frameLog struct {
	logger log.Logger
	connID string
}

func (l *frameLog) set(logger log.Logger, connID string) {
	l.logger, l.connID = logger, connID
}

func (l *frameLog) record(dir log.Direction, size int, payload []byte) {
	if l.logger != nil {
		l.logger.Log(frameEvent(l.connID, dir, size, payload))
	}
}

func frameEvent(connID string, dir log.Direction, size int, payload []byte) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(size, payload),
	}
}

func checkSize(n, max uint32) error {
	switch {
	case n == 0:
		return ErrMessageEmpty
	case n > max:
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, max)
	}
	return nil
}

func orDefaultSize(max uint32) uint32 {
	if max == 0 {
		return DefaultMaxMessageSize
	}
	return max
}

// FrameWriter writes length-prefixed frames. It is safe for concurrent
// use.
type FrameWriter struct {
	mu  sync.Mutex
	w   io.Writer
	max uint32
	log frameLog
}

// NewFrameWriter creates a frame writer. A zero maxSize means
// DefaultMaxMessageSize.
func NewFrameWriter(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{w: w, max: orDefaultSize(maxSize)}
}

// SetLogger reports written frames to logger under connID. Nil disables
// frame logging.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.log.set(logger, connID)
}

// WriteFrame writes data as one frame.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if err := checkSize(uint32(len(data)), fw.max); err != nil {
		return err
	}

	// A single Write keeps the prefix and payload together on pipes.
	frame := binary.BigEndian.AppendUint32(make([]byte, 0, FrameSize(len(data))), uint32(len(data)))
	frame = append(frame, data...)

	fw.mu.Lock()
	_, err := fw.w.Write(frame)
	fw.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	fw.log.record(log.DirectionOut, len(frame), data)
	return nil
}

// FrameReader reads length-prefixed frames. It is not safe for
// concurrent use.
type FrameReader struct {
	r      io.Reader
	max    uint32
	prefix [LengthPrefixSize]byte
	log    frameLog
}

// NewFrameReader creates a frame reader. A zero maxSize means
// DefaultMaxMessageSize.
func NewFrameReader(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: r, max: orDefaultSize(maxSize)}
}

// SetLogger reports read frames to logger under connID. Nil disables
// frame logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.log.set(logger, connID)
}

// ReadFrame returns the payload of the next frame. A stream that ends
// between frames yields a bare io.EOF; one that ends inside a frame yields
// ErrFrameTruncated.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, truncated("length prefix", err)
	}
	n := binary.BigEndian.Uint32(fr.prefix[:])
	if err := checkSize(n, fr.max); err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, truncated("payload", err)
	}
	fr.log.record(log.DirectionIn, FrameSize(len(payload)), payload)
	return payload, nil
}

func truncated(part string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrFrameTruncated
	}
	return fmt.Errorf("read %s: %w", part, err)
}

// Framer reads and writes frames on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer wraps rw.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{NewFrameReader(rw, maxSize), NewFrameWriter(rw, maxSize)}
}

// SetLogger configures frame logging for both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}

// FrameSize returns the size of a frame carrying payloadSize bytes.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
