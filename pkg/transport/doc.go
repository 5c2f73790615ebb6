// Package transport carries management protocol messages between a device
// client and a management server.
//
// # Bindings
//
//	┌────────────────────────────────┐
//	│      CBOR Messages (wire)      │
//	├───────────────┬────────────────┤
//	│  one message  │ Length-Prefix  │
//	│  per datagram │  Framing (4B)  │
//	├───────────────┼────────────────┤
//	│               │  TLS 1.3 (opt) │
//	│      UDP      ├────────────────┤
//	│               │      TCP       │
//	└───────────────┴────────────────┘
//
// The server URI scheme and the registration binding select the stack:
// udp:// and coap:// use UDP unless the binding is T or TQ, tcp:// is plain
// TCP, tls:// and coaps:// are TLS over TCP. Certificate mode security
// always uses TLS and binds a random local port unless one is configured.
//
// # Client
//
// Endpoint implements registration.Protocol. Requests are written from a
// goroutine, responses are matched by message ID on a read loop, and every
// outcome is posted onto the scheduler. Each request holds the scheduler
// open (scheduler.Hold) until its outcome is posted and is failed with
// Timeout by a scheduler task if no response arrives in time. Server
// requests (Read, Write, Execute, Observe) are answered from the
// resource tree on the scheduler goroutine.
//
// # Server
//
// Server is a small management server used by cmd/m2m-server and the
// integration tests. It issues registration handles under /rd/ and can
// issue requests to registered clients.
package transport
