package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	ConnectionID string
	Endpoint     string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// Operation matches request messages of that operation only.
	Operation *wire.Operation

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Match reports whether event passes every criterion of f.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.Endpoint != "" && event.Endpoint != f.Endpoint:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	if f.Operation != nil {
		m := event.Message
		return m != nil && m.Operation != nil && *m.Operation == *f.Operation
	}
	return true
}

// Reader streams events from a .mlog encoded source.
type Reader struct {
	dec    *cbor.Decoder
	filter Filter
	closer io.Closer
}

// NewReader reads the events of r that match filter.
func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{dec: eventDec.NewDecoder(r), filter: filter}
}

// Open reads the events of the log file at path that match filter.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f, filter)
	r.closer = f
	return r, nil
}

// Next returns the next matching event, or io.EOF at the end of input.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Close releases the file opened by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Each calls fn for every event of the file at path that matches filter.
// It stops at the first error returned by fn.
func Each(path string, filter Filter, fn func(Event) error) error {
	r, err := Open(path, filter)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		event, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
