package log

import (
	"context"
	"log/slog"
)

// SlogAdapter prints protocol events through an slog.Logger. Error events
// are logged at Warn, everything else at Debug.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	if event.Category == CategoryError {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}
	a.logger.LogAttrs(ctx, level, "protocol", eventAttrs(event)...)
}

func eventAttrs(e Event) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("conn_id", e.ConnectionID),
		slog.String("direction", e.Direction.String()),
		slog.String("layer", e.Layer.String()),
		slog.String("category", e.Category.String()),
	}
	attrs = appendNonEmpty(attrs, "endpoint", e.Endpoint)
	attrs = appendNonEmpty(attrs, "location", e.Location)

	switch {
	case e.Frame != nil:
		return append(attrs, slog.Int("frame_size", e.Frame.Size), slog.Bool("truncated", e.Frame.Truncated))
	case e.Message != nil:
		return append(attrs, messageAttrs(e.Message)...)
	case e.StateChange != nil:
		sc := e.StateChange
		attrs = append(attrs,
			slog.String("entity", sc.Entity.String()),
			slog.String("old_state", sc.OldState),
			slog.String("new_state", sc.NewState),
		)
		return appendNonEmpty(attrs, "reason", sc.Reason)
	case e.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", e.Error.Layer.String()),
			slog.String("error_msg", e.Error.Message),
		)
		attrs = appendNonEmpty(attrs, "error_context", e.Error.Context)
		if e.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *e.Error.Code))
		}
	}
	return attrs
}

func messageAttrs(m *MessageEvent) []slog.Attr {
	attrs := []slog.Attr{
		slog.Uint64("msg_id", uint64(m.MessageID)),
		slog.String("msg_type", m.Type.String()),
	}
	if m.Operation != nil {
		attrs = append(attrs, slog.String("operation", m.Operation.String()))
	}
	attrs = appendNonEmpty(attrs, "path", m.Path)
	if m.Status != nil {
		attrs = append(attrs, slog.String("status", m.Status.String()))
	}
	if m.ProcessingTime != nil {
		attrs = append(attrs, slog.Duration("processing_time", *m.ProcessingTime))
	}
	return attrs
}

func appendNonEmpty(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

var _ Logger = (*SlogAdapter)(nil)
