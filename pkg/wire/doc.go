// Package wire defines the CBOR wire format of the device management protocol.
//
// Messages use CBOR (RFC 8949) with integer keys. Requests and responses share
// one key space: request fields use keys 1 to 11, response fields use keys 20
// and up, so a frame can be classified without knowing who sent it.
//
// # Message Flow
//
// Both peers send requests:
//   - Client to server: Bootstrap, Register, Update, Deregister, Notify
//   - Server to client: Read, Write, Execute, Observe
//
// Every request is answered by exactly one Response carrying the same
// MessageID. MessageID 0 is never used.
//
// # Authentication
//
// Requests sent under a pre-shared key carry an Auth tag computed over
// SigningBytes, which is the canonical encoding with Auth cleared.
package wire
