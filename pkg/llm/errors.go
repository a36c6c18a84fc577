package llm

import (
	"errors"
	"fmt"
)

// TransportError wraps a network-level failure. Retriable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response. Retriable only for 5xx.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm endpoint returned HTTP %d", e.StatusCode)
}

// Retriable reports whether the status is worth retrying.
func (e *HTTPStatusError) Retriable() bool {
	return e.StatusCode >= 500
}

// PayloadRenderError reports a malformed payload template. Fatal for the
// single probe; never retried.
type PayloadRenderError struct {
	Err error
}

func (e *PayloadRenderError) Error() string {
	return fmt.Sprintf("payload template render failed: %v", e.Err)
}

func (e *PayloadRenderError) Unwrap() error { return e.Err }

// AdapterError wraps any fault an adapter (or the transport on its behalf)
// could not recover from. The engine records it as an adapter_error finding
// instead of failing the suite.
type AdapterError struct {
	Library string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Library != "" {
		return fmt.Sprintf("adapter %s: %v", e.Library, e.Err)
	}
	return fmt.Sprintf("adapter error: %v", e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// IsRetriable reports whether the transport should retry after err.
func IsRetriable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Retriable()
	}
	return false
}
