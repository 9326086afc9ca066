package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrJobTerminal     = errors.New("job is in a terminal state")
	ErrJobLocked       = errors.New("job is being processed by another caller")
)

// ActionableError is a non-retryable upstream failure: bad prompt, policy
// rejection, model unavailable, malformed or empty payload. Repeating the
// same call will not succeed; the caller must change its input.
type ActionableError struct {
	Message string
	Err     error
}

func (e *ActionableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ActionableError) Unwrap() error { return e.Err }

func Actionable(format string, args ...any) *ActionableError {
	return &ActionableError{Message: fmt.Sprintf(format, args...)}
}

func ActionableWrap(err error, format string, args ...any) *ActionableError {
	return &ActionableError{Message: fmt.Sprintf(format, args...), Err: err}
}

// TransientError is a retryable upstream failure: rate limiting, 5xx,
// timeouts, connection errors.
type TransientError struct {
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(format string, args ...any) *TransientError {
	return &TransientError{Message: fmt.Sprintf(format, args...)}
}

func TransientWrap(err error, format string, args ...any) *TransientError {
	return &TransientError{Message: fmt.Sprintf(format, args...), Err: err}
}

// StorageError marks a blob store failure (unreachable endpoint, rejected
// write, signing failure).
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsActionable reports whether err is (or wraps) an ActionableError.
func IsActionable(err error) bool {
	var ae *ActionableError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
