package task

import (
	"errors"
	"fmt"
)

// ForbiddenError is returned when the permission oracle or a capability rule
// rejects a mutation. The Reason distinguishes the edit, status-change and
// completion paths so callers can surface a specific message.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return e.Reason
}

// Forbidden errors for the three capability paths.
var (
	ErrEditForbidden = &ForbiddenError{
		Reason: "you do not have permission to edit this task",
	}
	ErrStatusChangeForbidden = &ForbiddenError{
		Reason: "you do not have permission to change the status of this task",
	}
	ErrCompletionForbidden = &ForbiddenError{
		Reason: "only the assignee or an admin can mark a task as completed",
	}
	ErrDeleteForbidden = &ForbiddenError{
		Reason: "you do not have permission to delete this task",
	}
)

// IsForbidden reports whether err is a permission rejection.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// NotFoundError is returned when a referenced task, parent or user does not
// exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// SyncError wraps a failure talking to the external calendar service. It is
// never fatal to the owning task mutation; the orchestrator logs it and the
// caller may surface it as a soft warning.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("calendar sync %s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
