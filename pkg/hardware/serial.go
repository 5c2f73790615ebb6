package hardware

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is the board's serial speed.
const DefaultBaudRate = 115200

// SerialBoard drives a microcontroller board over a line protocol:
//
//	board → host: "BTN U" (unregister button), "BTN O" (observe button)
//	host → board: "LED <r> <g> <b>" with 0 or 1 per indicator
type SerialBoard struct {
	triggers

	port   io.ReadWriteCloser
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	closed bool
	done   chan struct{}
}

// OpenSerial opens the board at portPath, 8N1. A zero baud uses
// DefaultBaudRate.
func OpenSerial(portPath string, baud int, logger *slog.Logger) (*SerialBoard, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portPath, err)
	}
	if logger != nil {
		logger.Info("serial port opened", "port", portPath, "baud", baud)
	}
	return NewSerialBoard(port, logger), nil
}

// NewSerialBoard runs the line protocol over port and starts reading
// button events.
func NewSerialBoard(port io.ReadWriteCloser, logger *slog.Logger) *SerialBoard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &SerialBoard{
		port:   port,
		logger: logger,
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Attach implements Inputs.
func (b *SerialBoard) Attach(t Trigger, fn func()) error {
	return b.attach(t, fn)
}

// SetIndicator implements Outputs. The full state is written on every
// change.
func (b *SerialBoard) SetIndicator(i Indicator, on bool) error {
	if err := checkIndicator(i); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.state[i] = on
	_, err := io.WriteString(b.port, formatLED(b.state))
	return err
}

// State returns the last state written to the board.
func (b *SerialBoard) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close closes the port and waits for the reader to finish.
func (b *SerialBoard) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.port.Close()
	<-b.done
	return err
}

// Done is closed when the reader stops.
func (b *SerialBoard) Done() <-chan struct{} {
	return b.done
}

func (b *SerialBoard) readLoop() {
	defer close(b.done)
	scanner := bufio.NewScanner(b.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t, ok := parseButton(line)
		if !ok {
			b.logger.Debug("ignoring board line", "line", line)
			continue
		}
		b.logger.Debug("button edge", "trigger", t)
		b.fire(t)
	}
	if err := scanner.Err(); err != nil {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if !closed {
			b.logger.Warn("serial read failed", "error", err)
		}
	}
}

func parseButton(line string) (Trigger, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "BTN" {
		return 0, false
	}
	switch fields[1] {
	case "U":
		return TriggerUnregister, true
	case "O":
		return TriggerObserve, true
	}
	return 0, false
}

func formatLED(s State) string {
	bit := func(on bool) int {
		if on {
			return 1
		}
		return 0
	}
	return fmt.Sprintf("LED %d %d %d\n", bit(s[Red]), bit(s[Green]), bit(s[Blue]))
}
