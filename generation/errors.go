package generation

import (
	"context"
	"errors"
)

// Kind classifies a generation failure.
type Kind string

// Failure kinds.
const (
	KindInvalidModel       Kind = "invalid_model"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindBackendError       Kind = "backend_error"
	KindValidationFailed   Kind = "validation_failed"
	KindNotFound           Kind = "not_found"
	KindSaturated          Kind = "saturated"
	KindInternal           Kind = "internal"
	KindCanceled           Kind = "canceled"
)

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidModel       = &Error{Kind: KindInvalidModel, Message: "invalid model"}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable, Message: "backend unavailable"}
	ErrBackendError       = &Error{Kind: KindBackendError, Message: "backend error"}
	ErrValidationFailed   = &Error{Kind: KindValidationFailed, Message: "validation failed"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "diagram not found"}
	ErrSaturated          = &Error{Kind: KindSaturated, Message: "backend saturated"}
	ErrInternal           = &Error{Kind: KindInternal, Message: "internal error"}
	ErrCanceled           = &Error{Kind: KindCanceled, Message: "canceled"}
)

// Error is a classified generation failure. Message is safe to show to
// callers; Err is the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// internalError redacts cause behind a fixed message.
func internalError(cause error) *Error {
	return newError(KindInternal, ErrInternal.Message, cause)
}

// canceledError wraps a done context's error.
func canceledError(ctx context.Context) *Error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	return newError(KindCanceled, ErrCanceled.Message, cause)
}

// KindOf returns the Kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
