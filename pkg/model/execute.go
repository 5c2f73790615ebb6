package model

import "errors"

// ErrNoHandler is returned when an executable resource has no handler bound.
var ErrNoHandler = errors.New("no execute handler bound")

// ExecuteHandler is the action bound to an executable resource.
// It runs on the scheduler goroutine and must not block.
type ExecuteHandler func(args []byte) error

// SetExecuteHandler binds or replaces the execute action.
func (r *Resource) SetExecuteHandler(handler ExecuteHandler) {
	r.execute = handler
}

// Execute runs the bound action with the given argument payload.
// The action is never run if the resource does not allow Execute.
func (r *Resource) Execute(args []byte) error {
	if !r.metadata.Operations.CanExecute() {
		return ErrOperationNotAllowed
	}
	if r.execute == nil {
		return ErrNoHandler
	}
	return r.execute(args)
}
