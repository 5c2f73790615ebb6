package registration

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

// ErrorKind classifies failures reported to the Observer.
type ErrorKind uint8

const (
	KindUnknownError ErrorKind = iota
	KindAlreadyExists
	KindBootstrapFailed
	KindInvalidParameters
	KindNotRegistered
	KindTimeout
	KindNetworkError
	KindResponseParseFailed
	KindMemoryFail
	KindNotAllowed
	KindInvalidState
	KindDuplicateID
	KindOperationNotAllowed
	KindInvalidValue
)

// String returns the kind name as printed in traces.
func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindBootstrapFailed:
		return "BootstrapFailed"
	case KindInvalidParameters:
		return "InvalidParameters"
	case KindNotRegistered:
		return "NotRegistered"
	case KindTimeout:
		return "Timeout"
	case KindNetworkError:
		return "NetworkError"
	case KindResponseParseFailed:
		return "ResponseParseFailed"
	case KindMemoryFail:
		return "MemoryFail"
	case KindNotAllowed:
		return "NotAllowed"
	case KindInvalidState:
		return "InvalidState"
	case KindDuplicateID:
		return "DuplicateID"
	case KindOperationNotAllowed:
		return "OperationNotAllowed"
	case KindInvalidValue:
		return "InvalidValue"
	default:
		return "UnknownError"
	}
}

// Registration errors.
var (
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyExists     = errors.New("already exists")
	ErrBootstrapFailed   = errors.New("bootstrap failed")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrTimeout           = errors.New("request timed out")
	ErrNetwork           = errors.New("network error")
	ErrResponseParse     = errors.New("response parse failed")
	ErrMemoryFail        = errors.New("out of resources")
	ErrNotAllowed        = errors.New("not allowed")
)

var sentinelKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidState, KindInvalidState},
	{ErrNotRegistered, KindNotRegistered},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrBootstrapFailed, KindBootstrapFailed},
	{ErrInvalidParameters, KindInvalidParameters},
	{ErrTimeout, KindTimeout},
	{ErrNetwork, KindNetworkError},
	{ErrResponseParse, KindResponseParseFailed},
	{ErrMemoryFail, KindMemoryFail},
	{ErrNotAllowed, KindNotAllowed},
	{model.ErrDuplicateID, KindDuplicateID},
	{model.ErrOperationNotAllowed, KindOperationNotAllowed},
	{model.ErrInvalidValue, KindInvalidValue},
	{model.ErrNotFound, KindInvalidParameters},
	{model.ErrInvalidPath, KindInvalidParameters},
	{security.ErrBadTag, KindNotAllowed},
	{security.ErrWrongMode, KindNotAllowed},
	{context.DeadlineExceeded, KindTimeout},
	{os.ErrDeadlineExceeded, KindTimeout},
}

// KindOf maps an error to its ErrorKind. Unrecognised errors, and nil,
// are KindUnknownError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknownError
	}

	var se *wire.StatusError
	if errors.As(err, &se) {
		if se.Operation == wire.OpBootstrap {
			return KindBootstrapFailed
		}
		return StatusKind(se.Status)
	}

	for _, sk := range sentinelKinds {
		if errors.Is(err, sk.err) {
			return sk.kind
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetworkError
	}
	return KindUnknownError
}

// StatusKind maps a failed response status to an ErrorKind.
func StatusKind(s wire.Status) ErrorKind {
	switch s {
	case wire.StatusBadRequest:
		return KindInvalidParameters
	case wire.StatusUnauthorized:
		return KindNotAllowed
	case wire.StatusNotFound:
		return KindNotRegistered
	case wire.StatusMethodNotAllowed:
		return KindOperationNotAllowed
	case wire.StatusNotAcceptable:
		return KindInvalidValue
	case wire.StatusConflict:
		return KindAlreadyExists
	case wire.StatusTimeout:
		return KindTimeout
	case wire.StatusUnavailable:
		return KindNetworkError
	default:
		return KindUnknownError
	}
}

// ErrorStatus maps a local error to the status sent back to a peer.
func ErrorStatus(err error) wire.Status {
	switch {
	case err == nil:
		return wire.StatusSuccess
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidPath):
		return wire.StatusNotFound
	case errors.Is(err, model.ErrOperationNotAllowed), errors.Is(err, model.ErrNoHandler):
		return wire.StatusMethodNotAllowed
	case errors.Is(err, model.ErrInvalidValue):
		return wire.StatusNotAcceptable
	case errors.Is(err, ErrInvalidParameters):
		return wire.StatusBadRequest
	case errors.Is(err, security.ErrBadTag):
		return wire.StatusUnauthorized
	default:
		return wire.StatusInternalError
	}
}
