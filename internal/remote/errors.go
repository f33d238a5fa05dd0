// Package remote provides the HTTP client for the remote task service.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the remote service. The status
// code drives retry classification: 5xx, 408 and 429 are transient,
// every other 4xx is terminal.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("remote API error %d: %s", e.StatusCode, e.Message)
}

// TransportError is a failure to reach the remote service at all:
// connection refused, DNS failure, timeout. Always transient.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("remote transport error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a remote 404. The orchestrator
// treats not-found-on-delete as an already-satisfied deletion.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

// StatusCode extracts the HTTP status code from an APIError, or 0 when
// err is not one.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
