// Package apperror defines the error taxonomy returned by the approval engine.
//
// Every error carries a Kind that can be matched with errors.Is against the
// sentinel values below, and optionally the current status of the resource so
// that callers can re-sync their view after a rejected operation.
package apperror

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is(err, apperror.ErrNotFound).
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
)

// Error is the structured error carried through the engine and the API.
type Error struct {
	Kind     error  `json:"-"`
	Resource string `json:"resource,omitempty"`
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Resource != "" && e.ID != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Resource, e.ID, msg)
	}
	if e.Status != "" {
		msg = fmt.Sprintf("%s (current status %s)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind sentinel of this error.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NotFound builds a NotFound error for the given resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:     ErrNotFound,
		Resource: resource,
		ID:       id,
		Message:  "not found",
	}
}

// InvalidTransition builds an InvalidTransition error carrying the current status.
func InvalidTransition(resource, id, status, message string) *Error {
	return &Error{
		Kind:     ErrInvalidTransition,
		Resource: resource,
		ID:       id,
		Status:   status,
		Message:  message,
	}
}

// Validation builds a ValidationError.
func Validation(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    ErrValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// Conflict builds a ConflictError carrying the status of the conflicting resource.
func Conflict(resource, id, status, message string) *Error {
	return &Error{
		Kind:     ErrConflict,
		Resource: resource,
		ID:       id,
		Status:   status,
		Message:  message,
	}
}

// StatusOf returns the current status carried by err, if any.
func StatusOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return ""
}

// KindOf returns a short machine-readable kind name for err.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}
