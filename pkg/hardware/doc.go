// Package hardware connects the device to its buttons and indicator LEDs.
//
// Inputs deliver edge events for two logical triggers: unregister and
// observe. Handlers are called on the input's own goroutine and must do
// nothing but post work onto the scheduler:
//
//	board.Attach(hardware.TriggerObserve, func() {
//		sched.Post(c.observePressed, 0)
//	})
//
// Outputs drive three logical indicators (red, green, blue).
//
// SerialBoard talks to a microcontroller over a serial line, Console backs
// the interactive shell and Recorder is used in tests.
package hardware
