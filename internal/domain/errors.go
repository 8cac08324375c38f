package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfig marks missing or malformed configuration. Always fatal, and
	// always raised before any network call.
	ErrConfig = errors.New("configuration error")

	// ErrUnknownSite is returned when a site key has no registry entry.
	ErrUnknownSite = fmt.Errorf("%w: unknown site", ErrConfig)

	// ErrSourceUnavailable marks upstream wave or wind data that could not be fetched.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSink marks a failed bulk upsert.
	ErrSink = errors.New("sink error")
)

// SinkError describes a non-success response (or transport failure) from the store.
type SinkError struct {
	StatusCode int // 0 for transport failures
	Body       string
	Retryable  bool
	Cause      error
}

// NewSinkStatusError classifies an HTTP status returned by the store.
// Timeouts, throttling and server errors are transient; other 4xx are permanent.
func NewSinkStatusError(status int, body string) *SinkError {
	retryable := status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
	return &SinkError{StatusCode: status, Body: body, Retryable: retryable}
}

// NewSinkTransportError wraps a network-level failure. These are always transient.
func NewSinkTransportError(cause error) *SinkError {
	return &SinkError{Cause: cause, Retryable: true}
}

func (e *SinkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("sink error: %v", e.Cause)
	}
	return fmt.Sprintf("sink error: status %d: %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrSink) hold for every SinkError.
func (e *SinkError) Is(target error) bool { return target == ErrSink }

func (e *SinkError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is a transient sink failure.
func IsRetryable(err error) bool {
	var se *SinkError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// SourceError wraps ErrSourceUnavailable with the site and the failing call.
func SourceError(site, op string, cause error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrSourceUnavailable, op, site, cause)
}
