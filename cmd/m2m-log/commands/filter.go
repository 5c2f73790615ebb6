package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/m2mlink/m2m-go/pkg/log"
)

// ErrNoOutput is returned by RunFilter without an output file.
var ErrNoOutput = errors.New("output file required")

// RunFilter copies the selected events into a new log file at output,
// replacing any existing file, and reports the count on w.
func RunFilter(path, output string, sel Selection, w io.Writer) error {
	if output == "" {
		return ErrNoOutput
	}
	filter, err := sel.Filter()
	if err != nil {
		return err
	}

	out, err := log.CreateFileLogger(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	err = log.Each(path, filter, func(e log.Event) error {
		out.Log(e)
		return nil
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("filtering %s: %w", path, err)
	}
	if dropped := out.Dropped(); dropped > 0 {
		return fmt.Errorf("%d events could not be written to %s", dropped, output)
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", out.Written(), output)
	return nil
}
