package llm

import (
	"errors"
	"fmt"
)

// Error types for classifying backend errors.

// ErrMalformedResponse marks a 200 response whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed backend response")

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// StatusError records a non-200 reply from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("LLM API error (status %d): %s", e.StatusCode, e.Body)
}

// TimeoutError marks a backend call that exceeded the per-call timeout.
type TimeoutError struct {
	err error
}

func (e *TimeoutError) Error() string {
	return "LLM request timed out: " + e.err.Error()
}

func (e *TimeoutError) Unwrap() error {
	return e.err
}

// NewTimeoutError marks err as a per-call timeout. Timeouts are transient.
func NewTimeoutError(err error) error {
	return NewTransientError(&TimeoutError{err: err})
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsTimeout returns true if the error came from the per-call timeout.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode, true
	}
	return 0, false
}
