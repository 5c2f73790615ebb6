package hardware

import (
	"fmt"
	"io"
	"sync"
)

// Console implements Inputs and Outputs for the interactive shell. Button
// presses come from shell commands and indicator changes are printed.
type Console struct {
	triggers

	mu    sync.Mutex
	out   io.Writer
	state State
}

// NewConsole creates a console printing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Attach implements Inputs.
func (c *Console) Attach(t Trigger, fn func()) error {
	return c.attach(t, fn)
}

// Press fires the handlers of t.
func (c *Console) Press(t Trigger) {
	c.fire(t)
}

// SetIndicator implements Outputs. Only changes are printed.
func (c *Console) SetIndicator(i Indicator, on bool) error {
	if err := checkIndicator(i); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state[i] == on {
		return nil
	}
	c.state[i] = on
	_, err := fmt.Fprintf(c.out, "[LED] %s\n", c.state)
	return err
}

// State returns the current indicator state.
func (c *Console) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
