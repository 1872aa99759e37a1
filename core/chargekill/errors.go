package chargekill

import (
	"errors"
	"fmt"
)

// ErrActionNotFound is matched by Actions.GetActionRecord errors for action
// ids the provider no longer knows about.
var ErrActionNotFound = errors.New("chargekill: action not found")

// DispatchError wraps a failure talking to the telemetry provider. It is
// always transient: the job running the evaluation is retried.
type DispatchError struct {
	VehicleID string
	Op        string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("chargekill: %s for vehicle %s: %v", e.Op, e.VehicleID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Transient reports whether retrying the evaluation may succeed.
func (e *DispatchError) Transient() bool { return true }
