package wire

import "fmt"

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusBadRequest indicates missing or malformed parameters.
	StatusBadRequest Status = 1

	// StatusUnauthorized indicates the peer is not allowed to do this.
	StatusUnauthorized Status = 2

	// StatusNotFound indicates an unknown registration or resource.
	StatusNotFound Status = 3

	// StatusMethodNotAllowed indicates the resource does not allow the operation.
	StatusMethodNotAllowed Status = 4

	// StatusNotAcceptable indicates a value of the wrong type.
	StatusNotAcceptable Status = 5

	// StatusConflict indicates the entity already exists.
	StatusConflict Status = 6

	// StatusInternalError indicates an unexpected failure on the peer.
	StatusInternalError Status = 7

	// StatusTimeout indicates the operation timed out.
	StatusTimeout Status = 8

	// StatusUnavailable indicates the service cannot be reached.
	StatusUnavailable Status = 9
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusUnauthorized:
		return "UNAUTHORIZED"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case StatusNotAcceptable:
		return "NOT_ACCEPTABLE"
	case StatusConflict:
		return "CONFLICT"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// StatusError is the error form of a failed response.
type StatusError struct {
	Operation Operation
	Status    Status
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Status)
}

// Err returns nil on success or a *StatusError.
func (s Status) Err(op Operation) error {
	if s.IsSuccess() {
		return nil
	}
	return &StatusError{Operation: op, Status: s}
}
