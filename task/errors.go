package task

import (
	"errors"
	"fmt"
)

// IllegalTransitionError is returned when a lifecycle transition is not
// permitted from the task's current state. The task is left unchanged.
type IllegalTransitionError struct {
	TaskID string
	From   State
	To     State
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// StaleTaskError is returned when a write raced with another writer of the
// same task. The caller should reload and retry.
type StaleTaskError struct {
	TaskID  string
	Version int64
}

func (e *StaleTaskError) Error() string {
	return fmt.Sprintf("task %s: version %d is stale", e.TaskID, e.Version)
}

// PreconditionError reports a caller contract violation, such as scoring a
// task that is not actionable.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %s", e.Op, e.Reason)
}

// NotFoundError is returned when a task or a dependency edge does not
// exist. An empty Kind means a task.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "task"
	}
	return fmt.Sprintf("%s %s not found", kind, e.ID)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsStale reports whether err wraps a *StaleTaskError.
func IsStale(err error) bool {
	var st *StaleTaskError
	return errors.As(err, &st)
}
