package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown execution ids.
	ErrNotFound = errors.New("execution not found")
	// ErrIllegalTransition is returned when a status change violates the state machine.
	ErrIllegalTransition = errors.New("illegal execution transition")
	// ErrAlreadyFinished is returned when Finish is applied twice or a
	// terminal execution is updated.
	ErrAlreadyFinished = errors.New("execution already finished")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	ExecutionID string
	From        Status
	To          Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("execution %s: cannot transition %s -> %s", e.ExecutionID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrIllegalTransition.
func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
