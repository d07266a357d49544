package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from an embedding service.
type StatusError struct {
	// Backend names the service that replied.
	Backend string
	// Code is the HTTP status code.
	Code int
	// Message is the service's error message, or the status text.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Backend, e.Code, e.Message)
}

// Retryable reports whether the request may succeed if repeated: rate
// limiting and server-side failures are, client errors are not.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// retryable classifies an error from a single embedding request. Unknown
// errors (connection resets, DNS, per-request timeouts) are retried.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
