package queue

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes queue errors.
type ErrorCode string

const (
	// ErrCodeInvalidAction indicates a missing id, type or entityId.
	ErrCodeInvalidAction ErrorCode = "INVALID_ACTION"

	// ErrCodeInvalidPayload indicates a payload rejected by its schema.
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// ErrCodeInvalidPatch indicates an update that would break a queue
	// invariant, such as lowering attempts.
	ErrCodeInvalidPatch ErrorCode = "INVALID_PATCH"

	// ErrCodeNotFound indicates no action has the given id.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is returned for caller mistakes. Storage problems never surface as
// an Error; they are absorbed by the persistence provider.
type Error struct {
	Code     ErrorCode
	Message  string
	ActionID string
	Err      error
}

func (e *Error) Error() string {
	if e.ActionID != "" {
		return fmt.Sprintf("%s: %s (action=%s)", e.Code, e.Message, e.ActionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NOT_FOUND queue error.
func IsNotFound(err error) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code == ErrCodeNotFound
	}
	return false
}

// IsInvalid reports whether err rejects the caller's input.
func IsInvalid(err error) bool {
	var qe *Error
	if errors.As(err, &qe) {
		switch qe.Code {
		case ErrCodeInvalidAction, ErrCodeInvalidPayload, ErrCodeInvalidPatch:
			return true
		}
	}
	return false
}

func notFound(id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "action not found", ActionID: id}
}

func invalidPatch(id, format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidPatch, Message: fmt.Sprintf(format, args...), ActionID: id}
}
