package log

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

func writeEvents(t *testing.T, path string, events ...Event) {
	t.Helper()
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func readEvents(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	reader, err := Open(path, filter)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()

	var out []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, event)
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.mlog")

	p := model.ResourcePath(3200, 0, 5501)
	req := &wire.Request{MessageID: 12, Operation: wire.OpNotify, Location: "/rd/1", Path: &p, Payload: []byte("4")}

	writeEvents(t, path,
		Event{
			Timestamp:    time.Now(),
			ConnectionID: "conn-1",
			Direction:    DirectionOut,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			Endpoint:     "m2m-device-01",
			Message:      RequestEvent(req),
		},
		Event{
			Timestamp: time.Now(),
			Layer:     LayerRegistration,
			Category:  CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   StateEntityRegistration,
				OldState: "AWAITING_REGISTRATION",
				NewState: "REGISTERED",
			},
		},
	)

	events := readEvents(t, path, Filter{})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	msg := events[0].Message
	if msg == nil {
		t.Fatal("Message is nil")
	}
	if msg.Operation == nil || *msg.Operation != wire.OpNotify {
		t.Errorf("Operation: got %v, want Notify", msg.Operation)
	}
	if msg.Path != "/3200/0/5501" {
		t.Errorf("Path: got %q, want %q", msg.Path, "/3200/0/5501")
	}
	if events[1].StateChange == nil || events[1].StateChange.NewState != "REGISTERED" {
		t.Errorf("StateChange: got %+v", events[1].StateChange)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.mlog")

	writeEvents(t, path, Event{Timestamp: time.Now(), ConnectionID: "conn-1"})
	writeEvents(t, path, Event{Timestamp: time.Now(), ConnectionID: "conn-2"})

	events := readEvents(t, path, Filter{})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ConnectionID != "conn-1" || events[1].ConnectionID != "conn-2" {
		t.Errorf("order: got %q, %q", events[0].ConnectionID, events[1].ConnectionID)
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.mlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				logger.Log(Event{Timestamp: time.Now(), Layer: LayerTransport, Frame: NewFrameEvent(4, []byte{1, 2, 3, 4})})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readEvents(t, path, Filter{})); got != goroutines*perGoroutine {
		t.Errorf("event count: got %d, want %d", got, goroutines*perGoroutine)
	}
	if logger.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", logger.Dropped())
	}
	if logger.Written() != goroutines*perGoroutine {
		t.Errorf("Written() = %d, want %d", logger.Written(), goroutines*perGoroutine)
	}
}

func TestFileLoggerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.mlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Ignored after close.
	logger.Log(Event{Timestamp: time.Now()})
	if logger.Written() != 0 || logger.Dropped() != 0 {
		t.Errorf("Written/Dropped = %d/%d after close, want 0/0", logger.Written(), logger.Dropped())
	}
}

func TestCreateFileLoggerTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filtered.mlog")
	writeEvents(t, path, Event{Timestamp: time.Now(), ConnectionID: "old"})

	logger, err := CreateFileLogger(path)
	if err != nil {
		t.Fatalf("CreateFileLogger failed: %v", err)
	}
	logger.Log(Event{Timestamp: time.Now(), ConnectionID: "new"})
	logger.Close()

	events := readEvents(t, path, Filter{})
	if len(events) != 1 || events[0].ConnectionID != "new" {
		t.Errorf("events = %+v, want only the new one", events)
	}
}

func TestReaderFromStream(t *testing.T) {
	var buf bytes.Buffer
	for _, id := range []string{"a", "b"} {
		data, err := MarshalEvent(Event{Timestamp: time.Now(), ConnectionID: id})
		if err != nil {
			t.Fatalf("MarshalEvent failed: %v", err)
		}
		buf.Write(data)
	}

	r := NewReader(&buf, Filter{ConnectionID: "b"})
	event, err := r.Next()
	if err != nil || event.ConnectionID != "b" {
		t.Fatalf("Next() = %+v, %v", event, err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	truncated, _ := MarshalEvent(Event{ConnectionID: "c"})
	r = NewReader(bytes.NewReader(truncated[:len(truncated)-1]), Filter{})
	if _, err := r.Next(); err == nil || err == io.EOF {
		t.Errorf("truncated Next() error = %v, want decode error", err)
	}
}

func TestUnmarshalEvent(t *testing.T) {
	op := wire.OpExecute
	in := Event{ConnectionID: "conn-x", Message: &MessageEvent{Type: MessageTypeRequest, MessageID: 9, Operation: &op}}
	data, err := MarshalEvent(in)
	if err != nil {
		t.Fatalf("MarshalEvent failed: %v", err)
	}
	out, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalEvent failed: %v", err)
	}
	if out.Message == nil || out.Message.Operation == nil || *out.Message.Operation != wire.OpExecute {
		t.Errorf("Message = %+v, want Execute request", out.Message)
	}
}

func TestEventKeys(t *testing.T) {
	data, err := MarshalEvent(Event{
		ConnectionID: "conn-k",
		Direction:    DirectionOut,
		Layer:        LayerTransport,
		Endpoint:     "m2m-device-01",
		Error:        &ErrorEventData{Message: "boom"},
	})
	if err != nil {
		t.Fatalf("MarshalEvent failed: %v", err)
	}

	var raw map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode as map failed: %v", err)
	}
	for _, key := range []uint64{1, 2, 3, 4, 5, 8, 14} {
		if _, ok := raw[key]; !ok {
			t.Errorf("key %d missing", key)
		}
	}
	if _, ok := raw[13]; ok {
		t.Error("retired key 13 present")
	}

	var dir Direction
	if err := cbor.Unmarshal(raw[3], &dir); err != nil || dir != DirectionOut {
		t.Errorf("key 3 = %v (%v), want OUT", dir, err)
	}
}

func TestEach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "each.mlog")
	writeEvents(t, path,
		Event{Timestamp: time.Now(), ConnectionID: "a"},
		Event{Timestamp: time.Now(), ConnectionID: "b"},
		Event{Timestamp: time.Now(), ConnectionID: "c"},
	)

	var seen []string
	stop := errors.New("stop")
	err := Each(path, Filter{}, func(e Event) error {
		seen = append(seen, e.ConnectionID)
		if e.ConnectionID == "b" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("Each() error = %v, want stop", err)
	}
	if len(seen) != 2 {
		t.Errorf("seen = %v, want [a b]", seen)
	}
}

func TestReaderFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.mlog")
	base := time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)

	writeEvents(t, path,
		Event{Timestamp: base, ConnectionID: "a", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage, Endpoint: "dev-1"},
		Event{Timestamp: base.Add(time.Minute), ConnectionID: "a", Direction: DirectionOut, Layer: LayerWire, Category: CategoryMessage, Endpoint: "dev-1",
			Message: RequestEvent(&wire.Request{MessageID: 1, Operation: wire.OpRegister})},
		Event{Timestamp: base.Add(2 * time.Minute), ConnectionID: "b", Direction: DirectionIn, Layer: LayerWire, Category: CategoryMessage, Endpoint: "dev-2"},
		Event{Timestamp: base.Add(3 * time.Minute), ConnectionID: "a", Direction: DirectionIn, Layer: LayerRegistration, Category: CategoryError, Endpoint: "dev-1"},
	)

	in := DirectionIn
	register := wire.OpRegister
	wireLayer := LayerWire
	errCat := CategoryError
	start := base.Add(time.Minute)
	end := base.Add(3 * time.Minute)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"a", "a", "b", "a"}},
		{"connection", Filter{ConnectionID: "b"}, []string{"b"}},
		{"direction", Filter{Direction: &in}, []string{"a", "b", "a"}},
		{"layer", Filter{Layer: &wireLayer}, []string{"a", "b"}},
		{"category", Filter{Category: &errCat}, []string{"a"}},
		{"time range", Filter{TimeStart: &start, TimeEnd: &end}, []string{"a", "b"}},
		{"endpoint", Filter{Endpoint: "dev-2"}, []string{"b"}},
		{"operation", Filter{Operation: &register}, []string{"a"}},
		{"combined", Filter{ConnectionID: "a", Direction: &in, Layer: &wireLayer}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := readEvents(t, path, tt.filter)
			var got []string
			for _, e := range events {
				got = append(got, e.ConnectionID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.mlog"), Filter{}); err == nil {
		t.Error("Open() on missing file should fail")
	}
}
