// Package registration implements the client side of the registration
// lifecycle with a management server.
//
// A Session moves through bootstrap, registration, periodic update and
// deregistration:
//
//	IDLE --StartBootstrap--> BOOTSTRAPPING --BootstrapDone--> IDLE
//	IDLE --Register--> AWAITING_REGISTRATION --RegistrationDone--> REGISTERED
//	REGISTERED --RequestUpdate--> AWAITING_UPDATE --UpdateDone--> REGISTERED
//	REGISTERED --RequestUnregister--> AWAITING_UNREGISTRATION --UnregisterDone--> UNREGISTERED
//	any --Error(kind)--> FAILED
//
// The network exchange is delegated to a Protocol. A Protocol reports every
// result through the Outcomes interface, always by posting onto the session's
// scheduler, so all session state is owned by the scheduler goroutine and
// needs no locking.
//
// Operations issued while a request is outstanding fail with ErrInvalidState
// and change nothing. Failures are never retried automatically; the session
// enters FAILED, cancels its tasks and waits for the application.
package registration
