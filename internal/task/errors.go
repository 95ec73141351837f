package task

import (
	"errors"
	"fmt"

	"fieldops.org/internal/transport"
)

// ErrPrecondition marks a local, synchronous legality failure. It is raised
// before any network call and never retried.
var ErrPrecondition = errors.New("precondition violation")

// PreconditionError explains which operation was illegal and why.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("task: %s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// IsPrecondition reports whether err is a local precondition violation.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}

func violation(op, reason string) error {
	return &PreconditionError{Op: op, Reason: reason}
}

// Conflict wraps the authority's rejection of a transition together with a
// freshly fetched snapshot so the caller can reconcile. The engine never
// resolves the conflict itself.
type Conflict struct {
	Err *transport.APIError
	// Current is the authority's task at the time of rejection; nil when
	// the re-fetch itself failed.
	Current *Task
}

func (c *Conflict) Error() string {
	return "task: conflict: " + c.Err.Message
}

func (c *Conflict) Unwrap() error { return c.Err }

// IsConflict reports whether the authority rejected a transition due to a
// state mismatch.
func IsConflict(err error) bool {
	var conflict *Conflict
	if errors.As(err, &conflict) {
		return true
	}
	return transport.IsConflict(err)
}
