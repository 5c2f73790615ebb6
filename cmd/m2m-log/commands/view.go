// Package commands implements the m2m-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m2mlink/m2m-go/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// formatEvent writes one event as a header line followed by indented
// details and a blank line.
func formatEvent(w io.Writer, event log.Event) {
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		event.Timestamp.UTC().Format(timeLayout), shortenConnID(event.ConnectionID),
		event.Direction, event.Layer, eventLabel(event))

	if event.Endpoint != "" || event.Location != "" || event.RemoteAddr != "" {
		line := "  Peer: " + event.RemoteAddr
		if event.Endpoint != "" {
			line += "  Endpoint: " + event.Endpoint
		}
		if event.Location != "" {
			line += "  Location: " + event.Location
		}
		fmt.Fprintln(w, line)
	}
	for _, d := range eventDetails(event) {
		fmt.Fprintf(w, "  %s: %s\n", d.name, d.value)
	}
	fmt.Fprintln(w)
}

type detail struct{ name, value string }

func eventDetails(event log.Event) []detail {
	var ds []detail
	add := func(name, format string, args ...any) {
		ds = append(ds, detail{name, fmt.Sprintf(format, args...)})
	}

	switch {
	case event.Frame != nil:
		f := event.Frame
		add("Size", "%d bytes", f.Size)
		if len(f.Data) > 0 {
			data := hex.EncodeToString(f.Data)
			if f.Truncated {
				data += " (truncated)"
			}
			add("Data", "%s", data)
		}
	case event.Message != nil:
		m := event.Message
		add("MessageID", "%d", m.MessageID)
		if m.Operation != nil {
			add("Operation", "%s", m.Operation)
		}
		if m.Path != "" {
			add("Path", "%s", m.Path)
		}
		if m.Status != nil {
			add("Status", "%s (%d)", m.Status, *m.Status)
		}
		if m.ProcessingTime != nil {
			add("Duration", "%s", formatDuration(*m.ProcessingTime))
		}
		if len(m.Payload) > 0 {
			add("Payload", "%s", formatPayload(m.Payload))
		}
	case event.StateChange != nil:
		sc := event.StateChange
		add("Entity", "%s", sc.Entity)
		add("Transition", "%s -> %s", orDash(sc.OldState), sc.NewState)
		if sc.Reason != "" {
			add("Reason", "%s", sc.Reason)
		}
	case event.Error != nil:
		e := event.Error
		add("Layer", "%s", e.Layer)
		add("Message", "%s", e.Message)
		if e.Code != nil {
			add("Code", "%d", *e.Code)
		}
		if e.Context != "" {
			add("Context", "%s", e.Context)
		}
	}
	return ds
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	}
	return "Unknown"
}

// shortenConnID keeps the first 8 characters of a connection ID.
func shortenConnID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatPayload shows printable payloads as text and anything else as hex.
func formatPayload(p []byte) string {
	if utf8.Valid(p) && strings.IndexFunc(string(p), func(r rune) bool { return r < 0x20 }) < 0 {
		return fmt.Sprintf("%q", p)
	}
	return "0x" + hex.EncodeToString(p)
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration prints d with three decimals in the largest fitting unit
// of us, ms and s.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.3fus", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// RunView prints the selected events of the log file in a readable form.
func RunView(path string, sel Selection, w io.Writer) error {
	filter, err := sel.Filter()
	if err != nil {
		return err
	}
	err = log.Each(path, filter, func(e log.Event) error {
		formatEvent(w, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}
