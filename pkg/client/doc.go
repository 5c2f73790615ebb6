// Package client is the device-side composition root. A Client owns the
// resource tree and the registration session, turns hardware triggers
// into session operations and drives the LED animation.
//
// Everything in a Client runs on the scheduler goroutine. Hardware inputs
// only post tasks:
//
//	button edge ──Post──▶ scheduler ──▶ Client ──▶ Session / Tree
//
// # Objects
//
//	/3/0        device: manufacturer (0), model (1), serial (2), type (17)
//	/3200/0     button: click counter (5501, observable)
//	/32769/0    LED: red (1), green (2), blue (3), disco (4, execute)
//
// Disco takes three argument bytes: turns, then the frame delay in
// milliseconds as a big-endian uint16.
package client
