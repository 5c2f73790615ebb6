package wire

// Operation represents a protocol operation.
type Operation uint8

const (
	// OpBootstrap requests server credentials from the bootstrap server.
	// Direction: client to server
	OpBootstrap Operation = 1

	// OpRegister announces the client and its object links.
	// Direction: client to server
	OpRegister Operation = 2

	// OpUpdate refreshes a registration before its lifetime expires.
	// Direction: client to server
	OpUpdate Operation = 3

	// OpDeregister removes a registration.
	// Direction: client to server
	OpDeregister Operation = 4

	// OpNotify reports a changed value of an observed resource.
	// Direction: client to server
	OpNotify Operation = 5

	// OpRead reads a resource value.
	// Direction: server to client
	OpRead Operation = 6

	// OpWrite replaces a resource value.
	// Direction: server to client
	OpWrite Operation = 7

	// OpExecute runs an executable resource.
	// Direction: server to client
	OpExecute Operation = 8

	// OpObserve starts or cancels observation of a resource.
	// Direction: server to client
	OpObserve Operation = 9
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpBootstrap:
		return "Bootstrap"
	case OpRegister:
		return "Register"
	case OpUpdate:
		return "Update"
	case OpDeregister:
		return "Deregister"
	case OpNotify:
		return "Notify"
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpExecute:
		return "Execute"
	case OpObserve:
		return "Observe"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is defined.
func (o Operation) IsValid() bool {
	return o >= OpBootstrap && o <= OpObserve
}

// IsUplink returns true for operations sent by the client.
func (o Operation) IsUplink() bool {
	return o >= OpBootstrap && o <= OpNotify
}
