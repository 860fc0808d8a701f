package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies a Fieldwork error.
type Code string

const (
	CodeValidation   Code = "VALIDATION"    // 400
	CodeNotFound     Code = "NOT_FOUND"     // 404
	CodeInvalidState Code = "INVALID_STATE" // 409
	CodeUpstream     Code = "UPSTREAM"      // 502
)

// Error is a structured error carrying a code and an HTTP status.
type Error struct {
	Code    Code
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidation reports a missing/empty required field or a business-rule
// violation detected before any durable write or external call.
func NewValidation(msg string) *Error {
	return &Error{Code: CodeValidation, Status: 400, Message: msg}
}

// NewNotFound reports a missing study or session.
func NewNotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
	}
}

// NewInvalidState reports an operation attempted against a session in the
// wrong lifecycle state. Distinct from not-found so callers can tell
// "wrong state" from "doesn't exist".
func NewInvalidState(msg string) *Error {
	return &Error{Code: CodeInvalidState, Status: 409, Message: msg}
}

// NewUpstream reports a failed or unreachable language-model or voice vendor
// call. Not retried automatically; the failing operation aborts.
func NewUpstream(err error) *Error {
	msg := "upstream failure"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeUpstream, Status: 502, Message: msg}
}

// Is reports whether err is (or wraps) a Fieldwork error with the given code.
func Is(err error, code Code) bool {
	var fErr *Error
	if stderrors.As(err, &fErr) {
		return fErr.Code == code
	}
	return false
}

// StatusOf returns the HTTP status for err, defaulting to 500 for errors
// outside the taxonomy.
func StatusOf(err error) int {
	var fErr *Error
	if stderrors.As(err, &fErr) {
		return fErr.Status
	}
	return 500
}
