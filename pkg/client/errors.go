package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidConfig is returned by New for unusable configurations.
var ErrInvalidConfig = errors.New("invalid upstream client config")

// ErrBodyTooLarge is wrapped by the UpstreamError returned when a response
// body exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (except 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// UpstreamError represents a failed upstream request with additional context.
type UpstreamError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt.
func (e *UpstreamError) Retryable() bool {
	return shouldRetry(e.ErrorClass)
}

// shouldRetry reports whether a failure of class may succeed on another
// attempt. Client errors fail the same way again.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classify categorizes a response status or transport error.
func classify(statusCode int, err error) ErrorClass {
	switch {
	case err != nil:
		return ErrorClassNetwork
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
