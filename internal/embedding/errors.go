package embedding

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind int

const (
	// KindAuth is a credential rejection (401/403). Never retried.
	KindAuth ErrorKind = iota + 1
	// KindRateLimit is a 429. Retried with backoff.
	KindRateLimit
	// KindValidation is a 422. Retried; on the final attempt the full
	// diagnostic body is surfaced.
	KindValidation
	// KindTransient covers timeouts, 5xx, and connectivity failures.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	}
	return "unknown"
}

// ProviderError is a typed embedding provider failure. Body holds the raw
// response payload for diagnostics.
type ProviderError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Body    string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding provider: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("embedding provider: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is worth another attempt.
func (e *ProviderError) Retryable() bool {
	return e.Kind != KindAuth
}

// IsRetryable reports whether err should be retried. Unknown error types
// (network failures wrapped by net/http) are treated as transient.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindTransient
	}
}
