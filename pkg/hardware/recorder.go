package hardware

import "sync"

// Change is one recorded indicator write.
type Change struct {
	Indicator Indicator
	On        bool
}

// Recorder implements Inputs and Outputs in memory. Press simulates a
// button edge.
type Recorder struct {
	triggers

	mu      sync.Mutex
	state   State
	history []Change
}

// NewRecorder creates a Recorder with all indicators off.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Attach implements Inputs.
func (r *Recorder) Attach(t Trigger, fn func()) error {
	return r.attach(t, fn)
}

// Press fires the handlers of t on the calling goroutine.
func (r *Recorder) Press(t Trigger) {
	r.fire(t)
}

// SetIndicator implements Outputs.
func (r *Recorder) SetIndicator(i Indicator, on bool) error {
	if err := checkIndicator(i); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[i] = on
	r.history = append(r.history, Change{Indicator: i, On: on})
	return nil
}

// State returns the current indicator state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns all indicator writes in order.
func (r *Recorder) History() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.history...)
}
