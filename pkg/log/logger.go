package log

// Logger receives protocol events. Implementations must be safe for
// concurrent use and must not block.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger if l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// Tee returns a Logger that forwards every event to each non-nil,
// non-noop logger given. With zero or one such logger no wrapper is
// allocated.
func Tee(loggers ...Logger) Logger {
	var out tee
	for _, l := range loggers {
		switch v := l.(type) {
		case nil, NoopLogger:
			continue
		case tee:
			out = append(out, v...)
		default:
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return NoopLogger{}
	case 1:
		return out[0]
	}
	return out
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, l := range t {
		l.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = tee(nil)
)
