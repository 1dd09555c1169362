package api

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failed call.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidArgument
	CodeAborted
	CodeUnavailable
	CodeDeadlineExceeded
	CodeUnauthenticated
	CodeNotFound
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeAborted:
		return "Aborted"
	case CodeUnavailable:
		return "Unavailable"
	case CodeDeadlineExceeded:
		return "DeadlineExceeded"
	case CodeUnauthenticated:
		return "Unauthenticated"
	case CodeNotFound:
		return "NotFound"
	case CodeInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a status-coded error returned by a Conn.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Errorf builds an *Error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error that keeps cause in the chain.
func WrapError(code Code, cause error, msg string) *Error {
	return &Error{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause), cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match the context sentinels for deadline errors.
func (e *Error) Is(target error) bool {
	if e.Code == CodeDeadlineExceeded && target == context.DeadlineExceeded {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Message == ""
}

// StatusCode extracts the code from err's chain. Context errors map to
// CodeDeadlineExceeded; nil maps to CodeUnknown.
func StatusCode(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDeadlineExceeded
	}
	return CodeUnknown
}

// Sentinels usable with errors.Is to match by code.
var (
	ErrAbortedStatus     = &Error{Code: CodeAborted}
	ErrUnavailableStatus = &Error{Code: CodeUnavailable}
)

// FromError converts err to an *Error for the wire. Errors already carrying a
// code keep it; context errors become CodeDeadlineExceeded; anything else is
// CodeUnknown.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Message: e.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Code: CodeDeadlineExceeded, Message: err.Error()}
	}
	return &Error{Code: CodeUnknown, Message: err.Error()}
}
