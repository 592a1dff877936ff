package dispatch

import (
	"errors"
	"fmt"
)

// Conflict reasons surfaced to callers. Losing a race is an expected outcome,
// not a failure; callers decide whether to retry.
const (
	ReasonActiveOrderExists = "active_order_exists"
	ReasonAlreadyAssigned   = "already_assigned"
	ReasonLockHeld          = "lock_held"
	ReasonNotCancelable     = "not_cancelable"
	ReasonInvalidTransition = "invalid_transition"
)

// ValidationError reports malformed input.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return "validation: " + e.Msg }

// ConflictError reports a lost race or a state precondition failure.
type ConflictError struct {
	Reason string
	Msg    string
}

func (e ConflictError) Error() string {
	if e.Msg == "" {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict (%s): %s", e.Reason, e.Msg)
}

// NotFoundError reports an unknown entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

// ExpiredError reports an operation attempted on a timed-out entity.
type ExpiredError struct {
	Kind string
	ID   string
}

func (e ExpiredError) Error() string { return fmt.Sprintf("%s %s expired", e.Kind, e.ID) }

// IsConflict reports whether err is a ConflictError, optionally matching the
// given reason.
func IsConflict(err error, reason string) bool {
	var ce ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	return reason == "" || ce.Reason == reason
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne NotFoundError
	return errors.As(err, &ne)
}

// IsExpired reports whether err is an ExpiredError.
func IsExpired(err error) bool {
	var ee ExpiredError
	return errors.As(err, &ee)
}
