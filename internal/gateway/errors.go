package gateway

import (
	"errors"
	"fmt"
)

// ConnectionError reports a transport-level failure talking to the gateway:
// the connection could not be established, was reset, or timed out.
//
// ConnectionError is retryable for one-shot requests.
type ConnectionError struct {
	// Op describes what was being attempted (e.g. "GET /api/v1/vehicle/data/fuel_level").
	Op string

	// Err is the underlying transport error.
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to vehicle gateway: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RequestError reports a failure of the request itself: an HTTP error
// status, a payload that is not valid JSON, or an error reported by the
// gateway API in the payload's "error" field.
//
// Only 5xx responses are retryable; everything else fails immediately.
type RequestError struct {
	// StatusCode is the HTTP status code, or zero when the failure is not
	// tied to a status (malformed payload, API error, stream fault).
	StatusCode int

	// Msg is the human-readable failure description.
	Msg string

	// Retryable is true for server-side (5xx) failures.
	Retryable bool

	// Err is the underlying cause, if any.
	Err error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ValidationError reports caller-supplied input that was rejected before
// any network call was made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsConnection reports whether err is (or wraps) a [ConnectionError].
func IsConnection(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsValidation reports whether err is (or wraps) a [ValidationError].
func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// isRetryable reports whether a failed attempt may be repeated.
func isRetryable(err error) bool {
	if IsConnection(err) {
		return true
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable
	}
	return false
}
