package commands

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Operations        map[wire.Operation]int
	Connections       map[string]*ConnectionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Endpoint  string
	Location  string
	Failures  int
}

// Collect aggregates every event of the log file.
func Collect(path string) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Operations:        make(map[wire.Operation]int),
		Connections:       make(map[string]*ConnectionStats),
	}
	err := log.Each(path, log.Filter{}, func(e log.Event) error {
		stats.add(e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if event.Endpoint != "" && conn.Endpoint == "" {
		conn.Endpoint = event.Endpoint
	}
	if event.Location != "" {
		conn.Location = event.Location
	}

	if m := event.Message; m != nil {
		if m.Operation != nil {
			s.Operations[*m.Operation]++
		}
		if m.Status != nil && *m.Status != wire.StatusSuccess {
			conn.Failures++
		}
	}
	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== M2M Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		start, end := stats.TimeRange.Start, stats.TimeRange.End
		fmt.Fprintf(w, "Time Range: %s to %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n\n", end.Sub(start).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n\n", stats.TotalEvents)

	printCounts(w, "Events by Layer", stats.EventsByLayer,
		log.LayerTransport, log.LayerWire, log.LayerRegistration)
	printCounts(w, "Events by Category", stats.EventsByCategory,
		log.CategoryMessage, log.CategoryState, log.CategoryError)
	printCounts(w, "Events by Direction", stats.EventsByDirection,
		log.DirectionIn, log.DirectionOut)
	if len(stats.Operations) > 0 {
		var ops []wire.Operation
		for op := wire.OpBootstrap; op.IsValid(); op++ {
			ops = append(ops, op)
		}
		printCounts(w, "Requests by Operation", stats.Operations, ops...)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	ids := make([]string, 0, len(stats.Connections))
	for id := range stats.Connections {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return stats.Connections[a].FirstSeen.Compare(stats.Connections[b].FirstSeen)
	})
	if len(ids) > 0 {
		fmt.Fprintln(w)
	}
	for _, id := range ids {
		cs := stats.Connections[id]
		fmt.Fprintf(w, "  [%s] %d events, duration %s\n",
			shortenConnID(id), cs.Events, cs.LastSeen.Sub(cs.FirstSeen).Round(time.Millisecond))
		const indent = "           "
		if cs.Endpoint != "" {
			fmt.Fprintf(w, "%sEndpoint: %s\n", indent, cs.Endpoint)
		}
		if cs.Location != "" {
			fmt.Fprintf(w, "%sLocation: %s\n", indent, cs.Location)
		}
		if cs.Failures > 0 {
			fmt.Fprintf(w, "%sFailed responses: %d\n", indent, cs.Failures)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", stats.Errors)
	}
}

// printCounts prints the non-zero counts of keys in the given order.
func printCounts[K interface {
	comparable
	fmt.Stringer
}](w io.Writer, title string, counts map[K]int, keys ...K) {
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", k.String()+":", n)
		}
	}
	fmt.Fprintln(w)
}
