package workflow

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or out-of-range input. The request is
// wrong, not the system; retrying the same call will fail the same way.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a reference to an alert that does not exist.
type NotFoundError struct {
	AlertID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("alert %s not found", e.AlertID)
}

// ConflictError reports a write that collided with existing state, such as
// creating an alert under an ID already taken. Lost status races are not
// conflicts; those surface as a false updated flag on the operation.
type ConflictError struct {
	AlertID string
	Reason  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("alert %s: %s", e.AlertID, e.Reason)
}

// TransientStorageError reports that the backing store could not be
// reached or the attempt is otherwise safe to retry.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is (or wraps) a TransientStorageError.
func IsTransient(err error) bool {
	var te *TransientStorageError
	return errors.As(err, &te)
}
