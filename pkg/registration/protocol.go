package registration

import (
	"fmt"
	"time"

	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/security"
)

// BindingMode is the transport binding announced at registration.
type BindingMode string

const (
	// BindingUDP is plain UDP.
	BindingUDP BindingMode = "U"

	// BindingUDPQueue is UDP with queue mode.
	BindingUDPQueue BindingMode = "UQ"

	// BindingTCP is TCP (or TLS over TCP).
	BindingTCP BindingMode = "T"

	// BindingTCPQueue is TCP with queue mode.
	BindingTCPQueue BindingMode = "TQ"
)

// ParseBindingMode parses "U", "UQ", "T" or "TQ".
func ParseBindingMode(s string) (BindingMode, error) {
	b := BindingMode(s)
	if !b.IsValid() {
		return "", fmt.Errorf("%w: binding mode %q", ErrInvalidParameters, s)
	}
	return b, nil
}

// IsValid returns true for a defined binding mode.
func (b BindingMode) IsValid() bool {
	switch b {
	case BindingUDP, BindingUDPQueue, BindingTCP, BindingTCPQueue:
		return true
	}
	return false
}

// IsTCP returns true for stream bindings.
func (b BindingMode) IsTCP() bool {
	return b == BindingTCP || b == BindingTCPQueue
}

// IsQueued returns true for queue-mode bindings.
func (b BindingMode) IsQueued() bool {
	return b == BindingUDPQueue || b == BindingTCPQueue
}

// Registration is the content of a register or update request.
type Registration struct {
	// Endpoint is the client endpoint name.
	Endpoint string

	// Type is the endpoint type, e.g. "test".
	Type string

	// Domain is the account domain on the server.
	Domain string

	// Lifetime is the requested registration lifetime.
	Lifetime time.Duration

	// Binding is the announced transport binding.
	Binding BindingMode

	// Links is the object link list, e.g. "</3/0>,</3200/0>".
	Links string
}

// Result is the server's answer to a register or update request.
type Result struct {
	// Location is the registration handle assigned by the server.
	Location string

	// Lifetime is the granted lifetime. Zero means the requested one.
	Lifetime time.Duration
}

// Protocol performs the network exchanges of a Session.
//
// Each method starts one request and returns immediately. A non-nil error
// means the request could not be started; the session then reports it like
// any other failure. Otherwise the Protocol later calls exactly one method on
// out, posted on the session's scheduler.
type Protocol interface {
	// Bootstrap asks the bootstrap server in sec for management server
	// credentials. Completes with BootstrapDone or Error.
	Bootstrap(sec *security.Context, endpoint string, out Outcomes) error

	// Register registers the client. Completes with RegistrationDone or Error.
	Register(sec *security.Context, reg Registration, out Outcomes) error

	// Update refreshes the registration at location. Completes with
	// UpdateDone or Error.
	Update(location string, reg Registration, out Outcomes) error

	// Deregister removes the registration at location. Completes with
	// UnregisterDone or Error.
	Deregister(location string, out Outcomes) error

	// Notify reports a changed resource value. Only failures are reported,
	// through Error.
	Notify(location string, path model.Path, value []byte, out Outcomes) error
}

// Outcomes receives the results of Protocol requests.
// All methods must be called on the scheduler goroutine.
type Outcomes interface {
	BootstrapDone(sec *security.Context)
	RegistrationDone(res Result)
	UpdateDone(res Result)
	UnregisterDone()
	Error(kind ErrorKind)
}

// Observer is told about session lifecycle events.
// All methods are called on the scheduler goroutine.
type Observer interface {
	BootstrapDone(sec *security.Context)
	Registered(res Result)
	RegistrationUpdated(res Result)
	Unregistered()
	Error(kind ErrorKind)
}

// BaseObserver implements Observer with no-ops. Embed it to override only
// some methods.
type BaseObserver struct{}

func (BaseObserver) BootstrapDone(*security.Context) {}
func (BaseObserver) Registered(Result)               {}
func (BaseObserver) RegistrationUpdated(Result)      {}
func (BaseObserver) Unregistered()                   {}
func (BaseObserver) Error(ErrorKind)                 {}

var _ Observer = BaseObserver{}
