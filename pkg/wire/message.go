package wire

import (
	"errors"
	"fmt"

	"github.com/m2mlink/m2m-go/pkg/model"
)

// CBOR map keys for message encoding.
const (
	// Request keys
	KeyMessageID = 1
	KeyOperation = 2
	KeyEndpoint  = 3
	KeyLifetime  = 4
	KeyBinding   = 5
	KeyLocation  = 6
	KeyLinks     = 7
	KeyPath      = 8
	KeyPayload   = 9
	KeyAuth      = 10
	KeyCancel    = 11
	KeyType      = 12
	KeyDomain    = 13

	// Response keys
	KeyStatus        = 20
	KeyRespLifetime  = 21
	KeyRespLocation  = 22
	KeyRespPayload   = 23
	KeyRespBootstrap = 24
	KeyRespDetail    = 25
)

// Message validation errors.
var (
	ErrZeroMessageID    = errors.New("messageId 0 is reserved")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrMissingEndpoint  = errors.New("endpoint name required")
	ErrMissingLocation  = errors.New("registration location required")
	ErrMissingPath      = errors.New("resource path required")
)

// Request is a protocol request from either peer.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32, never 0
//	  2: operation,   // uint8
//	  3: endpoint,    // client endpoint name (Bootstrap, Register)
//	  4: lifetime,    // seconds (Register, Update)
//	  5: binding,     // "U", "UQ", "T", "TQ"
//	  6: location,    // registration handle (Update, Deregister, Notify)
//	  7: links,       // object links "</3/0>,</3200/0>"
//	  8: path,        // resource path (Notify, Read, Write, Execute, Observe)
//	  9: payload,     // value or execute arguments
//	  10: auth,       // PSK authentication tag
//	  11: cancel,     // Observe only: true cancels the observation
//	  12: type,       // endpoint type (Register)
//	  13: domain      // account domain (Register)
//	}
type Request struct {
	MessageID uint32      `cbor:"1,keyasint"`
	Operation Operation   `cbor:"2,keyasint"`
	Endpoint  string      `cbor:"3,keyasint,omitempty"`
	Lifetime  uint32      `cbor:"4,keyasint,omitempty"`
	Binding   string      `cbor:"5,keyasint,omitempty"`
	Location  string      `cbor:"6,keyasint,omitempty"`
	Links     string      `cbor:"7,keyasint,omitempty"`
	Path      *model.Path `cbor:"8,keyasint,omitempty"`
	Payload   []byte      `cbor:"9,keyasint,omitempty"`
	Auth      []byte      `cbor:"10,keyasint,omitempty"`
	Cancel    bool        `cbor:"11,keyasint,omitempty"`
	Type      string      `cbor:"12,keyasint,omitempty"`
	Domain    string      `cbor:"13,keyasint,omitempty"`
}

// Validate checks if the request is well formed for its operation.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return ErrZeroMessageID
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidOperation, r.Operation)
	}

	switch r.Operation {
	case OpBootstrap, OpRegister:
		if r.Endpoint == "" {
			return fmt.Errorf("%w: %s", ErrMissingEndpoint, r.Operation)
		}
	case OpUpdate, OpDeregister:
		if r.Location == "" {
			return fmt.Errorf("%w: %s", ErrMissingLocation, r.Operation)
		}
	case OpNotify:
		if r.Location == "" {
			return fmt.Errorf("%w: %s", ErrMissingLocation, r.Operation)
		}
		if r.Path == nil {
			return fmt.Errorf("%w: %s", ErrMissingPath, r.Operation)
		}
	case OpRead, OpWrite, OpExecute, OpObserve:
		if r.Path == nil {
			return fmt.Errorf("%w: %s", ErrMissingPath, r.Operation)
		}
	}
	return nil
}

// Response answers a Request with the same MessageID.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // matches the request
//	  20: status,     // uint8: 0=success, or error code
//	  21: lifetime,   // granted lifetime in seconds (Register, Update)
//	  22: location,   // registration handle (Register)
//	  23: payload,    // Read value
//	  24: bootstrap,  // server credentials (Bootstrap)
//	  25: detail      // human-readable error detail
//	}
type Response struct {
	MessageID uint32         `cbor:"1,keyasint"`
	Status    Status         `cbor:"20,keyasint"`
	Lifetime  uint32         `cbor:"21,keyasint,omitempty"`
	Location  string         `cbor:"22,keyasint,omitempty"`
	Payload   []byte         `cbor:"23,keyasint,omitempty"`
	Bootstrap *BootstrapInfo `cbor:"24,keyasint,omitempty"`
	Detail    string         `cbor:"25,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// BootstrapInfo carries the credentials for the management server.
type BootstrapInfo struct {
	ServerURI       string `cbor:"1,keyasint"`
	Mode            uint8  `cbor:"2,keyasint"`
	Identity        string `cbor:"3,keyasint,omitempty"`
	Key             []byte `cbor:"4,keyasint,omitempty"`
	ServerPublicKey []byte `cbor:"5,keyasint,omitempty"`
}

// NewResponse creates a response to req with the given status.
func NewResponse(req *Request, status Status) *Response {
	return &Response{
		MessageID: req.MessageID,
		Status:    status,
	}
}
