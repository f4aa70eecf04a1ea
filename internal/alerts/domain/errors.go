package alerts

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a missing alert record.
var ErrNotFound = errors.New("alert: not found")

// ConflictError indicates a state-machine guard rejected a transition.
type ConflictError struct {
	Action string
	State  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("alert: cannot %s from state %q", e.Action, e.State)
}

// NewConflict constructs a ConflictError.
func NewConflict(action, state string) *ConflictError {
	return &ConflictError{Action: action, State: state}
}

// IsConflict reports whether err is a transition conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// ValidationError indicates a missing or invalid request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("alert: invalid %s: %s", e.Field, e.Reason)
}

// NewValidation constructs a ValidationError.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}
