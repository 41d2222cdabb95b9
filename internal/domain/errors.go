package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRoutingExhausted means no tier of the selected category had a
	// healthy provider. Surfaced immediately, never retried.
	ErrRoutingExhausted = errors.New("routing exhausted: no healthy provider for category")

	ErrInvalidRequest   = errors.New("invalid request")
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderUnhealthy means the provider's breaker is open and the
	// request should move to the next failover candidate without calling it.
	ErrProviderUnhealthy = errors.New("provider unhealthy")
)

// TransformValidationError reports a request shape the transformer cannot
// map to the target protocol. Surfaced immediately, never retried.
type TransformValidationError struct {
	Detail string
}

func (e *TransformValidationError) Error() string {
	return "transform validation: " + e.Detail
}

// ProviderHTTPError is a non-2xx backend response. The raw body is kept for
// logging only and must never be echoed to callers.
type ProviderHTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("provider %s: http status %d", e.Provider, e.Status)
}

// Retryable reports whether the failure should trigger router failover.
func (e *ProviderHTTPError) Retryable() bool {
	return e.Status >= 500 || e.Status == 429
}

// ProviderTimeoutError wraps a request that exceeded its deadline or failed
// at the transport level. Always eligible for failover.
type ProviderTimeoutError struct {
	Provider string
	Err      error
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s: timeout: %v", e.Provider, e.Err)
}

func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

// StreamDecodeError is a corrupt frame in the middle of a binary event
// stream. Fatal for that stream only; a truncated trailing frame is treated
// as clean end-of-stream instead.
type StreamDecodeError struct {
	Offset int
	Reason string
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("stream decode at offset %d: %s", e.Offset, e.Reason)
}

// IsRetryable reports whether err should move the request to the next
// failover candidate.
func IsRetryable(err error) bool {
	var httpErr *ProviderHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var timeoutErr *ProviderTimeoutError
	return errors.As(err, &timeoutErr)
}
