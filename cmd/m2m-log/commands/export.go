package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/m2mlink/m2m-go/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// eventWriter serializes events in one export format.
type eventWriter interface {
	write(log.Event) error
	flush() error
}

// RunExport writes the selected events of the log file to w as JSON lines
// or CSV.
func RunExport(path, format string, sel Selection, w io.Writer) error {
	filter, err := sel.Filter()
	if err != nil {
		return err
	}
	var ew eventWriter
	switch format {
	case FormatJSONL:
		ew = jsonlWriter{json.NewEncoder(w)}
	case FormatCSV:
		cw := csvWriter{csv.NewWriter(w)}
		if err := cw.w.Write(csvHeader); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		ew = cw
	default:
		return fmt.Errorf("unknown format: %s (supported: %s, %s)", format, FormatJSONL, FormatCSV)
	}

	if err := log.Each(path, filter, ew.write); err != nil {
		return fmt.Errorf("exporting %s: %w", path, err)
	}
	return ew.flush()
}

type jsonlWriter struct{ enc *json.Encoder }

func (j jsonlWriter) write(e log.Event) error { return j.enc.Encode(e) }
func (jsonlWriter) flush() error             { return nil }

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"endpoint", "location", "type", "message_id", "operation", "status", "path",
}

type csvWriter struct{ w *csv.Writer }

func (c csvWriter) write(e log.Event) error { return c.w.Write(csvRow(e)) }

func (c csvWriter) flush() error {
	c.w.Flush()
	return c.w.Error()
}

// csvRow flattens an event into the columns of csvHeader. Message columns
// stay empty for other event kinds.
func csvRow(e log.Event) []string {
	var msgID, op, status, path string
	if m := e.Message; m != nil {
		msgID = strconv.FormatUint(uint64(m.MessageID), 10)
		if m.Operation != nil {
			op = m.Operation.String()
		}
		if m.Status != nil {
			status = m.Status.String()
		}
		path = m.Path
	}
	return []string{
		e.Timestamp.UTC().Format(timeLayout),
		e.ConnectionID,
		e.Direction.String(),
		e.Layer.String(),
		e.Category.String(),
		e.Endpoint,
		e.Location,
		eventLabel(e),
		msgID, op, status, path,
	}
}
