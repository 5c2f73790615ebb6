package hardware

import (
	"errors"
	"fmt"
	"sync"
)

// Trigger identifies a logical input.
type Trigger uint8

const (
	// TriggerUnregister asks the device to leave the server.
	TriggerUnregister Trigger = iota + 1

	// TriggerObserve reports a button press through the click counter.
	TriggerObserve
)

// String returns the trigger name.
func (t Trigger) String() string {
	switch t {
	case TriggerUnregister:
		return "UNREGISTER"
	case TriggerObserve:
		return "OBSERVE"
	default:
		return fmt.Sprintf("TRIGGER(%d)", uint8(t))
	}
}

// Indicator identifies a logical output.
type Indicator uint8

const (
	Red Indicator = iota
	Green
	Blue

	indicatorCount
)

// String returns the indicator name.
func (i Indicator) String() string {
	switch i {
	case Red:
		return "RED"
	case Green:
		return "GREEN"
	case Blue:
		return "BLUE"
	default:
		return fmt.Sprintf("INDICATOR(%d)", uint8(i))
	}
}

// Errors.
var (
	ErrUnknownTrigger   = errors.New("unknown trigger")
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrClosed           = errors.New("hardware closed")
)

// Inputs delivers edge events.
type Inputs interface {
	// Attach calls fn on every edge of t. fn runs on the input goroutine.
	Attach(t Trigger, fn func()) error
}

// Outputs drives the indicators.
type Outputs interface {
	SetIndicator(i Indicator, on bool) error
}

// State is the on/off state of all indicators, indexed by Indicator.
type State [indicatorCount]bool

// String formats the state as "R:on G:off B:off".
func (s State) String() string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return fmt.Sprintf("R:%s G:%s B:%s", onOff(s[Red]), onOff(s[Green]), onOff(s[Blue]))
}

// triggers is the handler registry shared by the implementations.
type triggers struct {
	mu       sync.Mutex
	handlers map[Trigger][]func()
}

func (t *triggers) attach(trigger Trigger, fn func()) error {
	if trigger != TriggerUnregister && trigger != TriggerObserve {
		return fmt.Errorf("%w: %d", ErrUnknownTrigger, trigger)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers == nil {
		t.handlers = make(map[Trigger][]func())
	}
	t.handlers[trigger] = append(t.handlers[trigger], fn)
	return nil
}

func (t *triggers) fire(trigger Trigger) {
	t.mu.Lock()
	handlers := append([]func(){}, t.handlers[trigger]...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func checkIndicator(i Indicator) error {
	if i >= indicatorCount {
		return fmt.Errorf("%w: %d", ErrUnknownIndicator, i)
	}
	return nil
}
