package retry

import (
	"errors"
	"fmt"
)

// Common errors returned by the controller.
var (
	// ErrRetryExhausted is matched by errors returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrCancelled is returned when the context ends before or between attempts.
	ErrCancelled = errors.New("fetch cancelled")
)

// ExhaustedError is returned after the last allowed attempt failed.
// It matches both ErrRetryExhausted and the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the controller surfaces it without retrying.
// Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Cause returns the supplier error behind a controller result: the last
// attempt's error for ExhaustedError, the unwrapped error for Permanent,
// and err itself otherwise.
func Cause(err error) error {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Err
	}
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
