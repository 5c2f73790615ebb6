package registration

// State is the registration session state.
type State uint8

const (
	// StateIdle means not registered and nothing outstanding.
	StateIdle State = iota

	// StateBootstrapping means a bootstrap request is outstanding.
	StateBootstrapping

	// StateAwaitingRegistration means a register request is outstanding.
	StateAwaitingRegistration

	// StateRegistered means the server holds a live registration.
	StateRegistered

	// StateAwaitingUpdate means an update request is outstanding.
	StateAwaitingUpdate

	// StateAwaitingUnregistration means a deregister request is outstanding.
	StateAwaitingUnregistration

	// StateUnregistered means the registration was removed.
	StateUnregistered

	// StateFailed means an error was reported. See Session.Failure.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBootstrapping:
		return "BOOTSTRAPPING"
	case StateAwaitingRegistration:
		return "AWAITING_REGISTRATION"
	case StateRegistered:
		return "REGISTERED"
	case StateAwaitingUpdate:
		return "AWAITING_UPDATE"
	case StateAwaitingUnregistration:
		return "AWAITING_UNREGISTRATION"
	case StateUnregistered:
		return "UNREGISTERED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsBusy returns true while a request is outstanding.
func (s State) IsBusy() bool {
	switch s {
	case StateBootstrapping, StateAwaitingRegistration, StateAwaitingUpdate, StateAwaitingUnregistration:
		return true
	}
	return false
}
