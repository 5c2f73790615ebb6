package commands

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Selection holds the event selection flags shared by view, export and
// filter. Empty fields select everything.
type Selection struct {
	ConnID    string
	Endpoint  string
	Layer     string
	Direction string
	Category  string
	Operation string
	TimeStart string
	TimeEnd   string
}

// Bind registers the selection flags on fs.
func (s *Selection) Bind(fs *flag.FlagSet) {
	fs.StringVar(&s.ConnID, "conn-id", "", "Only this connection ID")
	fs.StringVar(&s.Endpoint, "endpoint", "", "Only this client endpoint name")
	fs.StringVar(&s.Layer, "layer", "", "Only this layer (transport, wire, registration)")
	fs.StringVar(&s.Direction, "direction", "", "Only this direction (in, out)")
	fs.StringVar(&s.Category, "category", "", "Only this category (message, state, error)")
	fs.StringVar(&s.Operation, "op", "", "Only requests of this operation (register, notify, read, ...)")
	fs.StringVar(&s.TimeStart, "time-start", "", "Only events at or after this time (RFC3339)")
	fs.StringVar(&s.TimeEnd, "time-end", "", "Only events before this time (RFC3339)")
}

// Filter converts the selection into a log.Filter.
func (s Selection) Filter() (log.Filter, error) {
	f := log.Filter{ConnectionID: s.ConnID, Endpoint: s.Endpoint}
	var err error
	if f.Layer, err = optional(s.Layer, ParseLayerFlag); err != nil {
		return log.Filter{}, err
	}
	if f.Direction, err = optional(s.Direction, ParseDirectionFlag); err != nil {
		return log.Filter{}, err
	}
	if f.Category, err = optional(s.Category, ParseCategoryFlag); err != nil {
		return log.Filter{}, err
	}
	if f.Operation, err = optional(s.Operation, ParseOperationFlag); err != nil {
		return log.Filter{}, err
	}
	if f.TimeStart, err = optional(s.TimeStart, parseTimeFlag("time-start")); err != nil {
		return log.Filter{}, err
	}
	if f.TimeEnd, err = optional(s.TimeEnd, parseTimeFlag("time-end")); err != nil {
		return log.Filter{}, err
	}
	return f, nil
}

func optional[T any](s string, parse func(string) (T, error)) (*T, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parse(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseTimeFlag(name string) func(string) (time.Time, error) {
	return func(s string) (time.Time, error) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s format: %w", name, err)
		}
		return t, nil
	}
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "registration":
		return log.LayerRegistration, nil
	}
	return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or registration)", s)
}

// ParseDirectionFlag parses a direction name (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	}
	return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	}
	return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
}

// ParseOperationFlag parses an operation name such as "notify".
func ParseOperationFlag(s string) (wire.Operation, error) {
	for op := wire.OpBootstrap; op.IsValid(); op++ {
		if strings.EqualFold(op.String(), s) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("invalid operation: %s", s)
}
