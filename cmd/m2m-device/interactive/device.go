// Package interactive provides the interactive shell of m2m-device. Shell
// commands stand in for the board buttons and let the operator inspect the
// resource tree.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/m2mlink/m2m-go/pkg/client"
	"github.com/m2mlink/m2m-go/pkg/hardware"
	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/scheduler"
)

// callTimeout bounds a command waiting for the scheduler.
const callTimeout = 2 * time.Second

var errSchedulerBusy = errors.New("scheduler did not run the command")

// Device handles interactive mode for m2m-device.
type Device struct {
	rl *readline.Instance

	client  *client.Client
	sched   *scheduler.Scheduler
	console *hardware.Console
}

// New creates the shell. Bind must be called before Run.
func New() (*Device, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "device> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Device{rl: rl}, nil
}

// Bind connects the shell to a client. Button commands go through console
// when it is not nil.
func (d *Device) Bind(c *client.Client, sched *scheduler.Scheduler, console *hardware.Console) {
	d.client = c
	d.sched = sched
	d.console = console
}

// Stdout returns a writer that properly coordinates with the readline input.
func (d *Device) Stdout() io.Writer {
	return d.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (d *Device) Stderr() io.Writer {
	return d.rl.Stderr()
}

// Run reads commands until quit, EOF or ctx cancellation. quit calls
// cancel.
func (d *Device) Run(ctx context.Context, cancel context.CancelFunc) {
	defer d.rl.Close()

	d.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := d.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			d.printHelp()
		case "unregister", "u":
			d.press(hardware.TriggerUnregister)
		case "observe", "o":
			d.press(hardware.TriggerObserve)
		case "tree", "t":
			d.cmdTree()
		case "read", "r":
			d.cmdRead(args)
		case "write", "w":
			d.cmdWrite(args)
		case "disco", "d":
			d.cmdDisco(args)
		case "status", "s":
			d.cmdStatus()
		case "quit", "exit", "q":
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
			cancel()
			return
		default:
			fmt.Fprintf(d.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (d *Device) printHelp() {
	fmt.Fprintln(d.rl.Stdout(), `
M2M Device Commands:
  Buttons:
    unregister (u)        - Press the unregister button
    observe (o)           - Press the observe button (click counter + 1)

  Resources:
    tree (t)              - Show the resource tree
    read (r) <path>       - Read a resource, e.g. read /3200/0/5501
    write (w) <path> <v>  - Write a resource as the server would
    disco (d) <n> <ms>    - Run n animation frames, ms apart

  General:
    status (s)            - Show registration status
    help                  - Show this help
    quit                  - Deregister and exit`)
}

// call runs fn on the scheduler goroutine and waits for it.
func (d *Device) call(fn func()) error {
	done := make(chan struct{})
	d.sched.Post(func() {
		fn()
		close(done)
	}, 0)
	select {
	case <-done:
		return nil
	case <-time.After(callTimeout):
		return errSchedulerBusy
	}
}

func (d *Device) press(t hardware.Trigger) {
	if d.console != nil {
		d.console.Press(t)
		return
	}
	var err error
	if callErr := d.call(func() { err = d.client.Press(t) }); callErr != nil {
		err = callErr
	}
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
	}
}

func (d *Device) cmdTree() {
	var b strings.Builder
	err := d.call(func() {
		tree := d.client.Tree()
		if tree == nil {
			b.WriteString("(not started)\n")
			return
		}
		for _, obj := range tree.Objects() {
			fmt.Fprintf(&b, "/%d %s\n", obj.ID(), obj.Name())
			for _, inst := range obj.Instances() {
				fmt.Fprintf(&b, "  %s\n", inst.Path())
				for _, r := range inst.Resources() {
					meta := r.Metadata()
					flags := meta.Operations.String()
					if r.IsObserved() {
						flags += " observed"
					}
					fmt.Fprintf(&b, "    %-16s %-22s %-8s %-3s %q\n", r.Path(), meta.Name, meta.Type, flags, r.Value())
				}
			}
		}
	})
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprint(d.rl.Stdout(), b.String())
}

func (d *Device) cmdRead(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: read <path>")
		return
	}
	p, err := model.ParsePath(args[0])
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
		return
	}

	var value []byte
	if callErr := d.call(func() { value, err = d.client.Tree().Read(p) }); callErr != nil {
		err = callErr
	}
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.rl.Stdout(), "%s = %q\n", p, value)
}

func (d *Device) cmdWrite(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: write <path> <value>")
		return
	}
	p, err := model.ParsePath(args[0])
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if callErr := d.call(func() { err = d.client.Tree().Write(p, []byte(args[1])) }); callErr != nil {
		err = callErr
	}
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.rl.Stdout(), "%s written\n", p)
}

func (d *Device) cmdDisco(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: disco <turns> <delay-ms>")
		return
	}
	turns, err1 := strconv.Atoi(args[0])
	ms, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintln(d.rl.Stdout(), "Error: turns and delay must be integers")
		return
	}
	a := client.AnimationArgs{Turns: turns, Delay: time.Duration(ms) * time.Millisecond}

	var err error
	if callErr := d.call(func() { err = d.client.Tree().Execute(client.DiscoPath, a.Bytes()) }); callErr != nil {
		err = callErr
	}
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
	}
}

func (d *Device) cmdStatus() {
	var b strings.Builder
	err := d.call(func() {
		sess := d.client.Session()
		fmt.Fprintf(&b, "State:       %s\n", d.client.State())
		if sess == nil {
			return
		}
		fmt.Fprintf(&b, "Endpoint:    %s\n", sess.Endpoint())
		if loc := sess.Location(); loc != "" {
			fmt.Fprintf(&b, "Location:    %s\n", loc)
			fmt.Fprintf(&b, "Lifetime:    %s\n", sess.Lifetime())
		}
		if next := sess.NextUpdate(); !next.IsZero() {
			fmt.Fprintf(&b, "Next update: %s\n", next.Format(time.TimeOnly))
		}
		fmt.Fprintf(&b, "Counter:     %d\n", d.client.Counter())
		fmt.Fprintf(&b, "LEDs:        %s\n", d.client.Indicators())
	})
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprint(d.rl.Stdout(), b.String())
}
