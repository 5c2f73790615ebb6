// Command m2m-log views and analyzes protocol log files.
//
// Log files are written by m2m-device and m2m-server when started with the
// -protocol-log flag.
//
// Usage:
//
//	m2m-log <command> [flags] <file.mlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	m2m-log view device.mlog
//
//	# View only decoded messages of one client
//	m2m-log view -layer wire -endpoint m2m-device-01 server.mlog
//
//	# Show every notification the server received
//	m2m-log view -op notify server.mlog
//
//	# Export to CSV
//	m2m-log export -format csv -o device.csv device.mlog
//
//	# Keep one connection
//	m2m-log filter -conn-id abc12345 -o filtered.mlog device.mlog
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/m2mlink/m2m-go/cmd/m2m-log/commands"
)

const usage = `m2m-log - M2M Protocol Log Analyzer

Usage:
  m2m-log <command> [flags] <file.mlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "m2m-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set whose usage names the command.
func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "m2m-log %s - %s\n\nUsage:\n  m2m-log %s [flags] <file.mlog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

// logPath parses args and returns the single positional log file.
func logPath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View log file in human-readable format")
	var sel commands.Selection
	sel.Bind(fs)
	path := logPath(fs, args)

	if err := commands.RunView(path, sel, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export log file to JSON or CSV format")
	format := fs.String("format", commands.FormatJSONL, "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	var sel commands.Selection
	sel.Bind(fs)
	path := logPath(fs, args)

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fail(err)
		}
		defer f.Close()
		w = f
	}
	if err := commands.RunExport(path, *format, sel, w); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	var sel commands.Selection
	sel.Bind(fs)
	path := logPath(fs, args)

	if err := commands.RunFilter(path, *output, sel, os.Stdout); err != nil {
		if errors.Is(err, commands.ErrNoOutput) {
			fs.Usage()
		}
		fail(err)
	}
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the log file")
	path := logPath(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
