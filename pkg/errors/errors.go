// Package errors defines unified error types for LLM gateway operations.
// All provider-specific failures are mapped to these standard kinds so that
// the retry loop, circuit breaker, and metrics layer can classify them
// without knowing which provider produced them.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a gateway error. It drives retry and breaker decisions.
type Kind string

const (
	// KindRateLimited means the caller exhausted its token budget.
	KindRateLimited Kind = "rate_limited"
	// KindCircuitOpen means the target provider's breaker is rejecting calls.
	KindCircuitOpen Kind = "circuit_open"
	// KindTransient covers provider failures worth retrying (5xx, 429, network).
	KindTransient Kind = "transient"
	// KindPermanent covers failures retrying cannot fix (auth, bad request).
	KindPermanent Kind = "permanent"
	// KindInvalidResponse means the provider answered but the payload was unusable.
	KindInvalidResponse Kind = "invalid_response"
	// KindTimeout means the call exceeded its deadline.
	KindTimeout Kind = "timeout"
)

// Error represents a standardized error from the gateway or a provider.
type Error struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Retryable  bool          `json:"-"`
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s)",
		e.Kind, e.Message, e.Provider, e.Model)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindPermanent:
		return http.StatusBadRequest
	case KindInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewRateLimited creates a rate limit error with the delay until capacity returns.
func NewRateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Retryable:  false,
		RetryAfter: retryAfter,
	}
}

// NewCircuitOpen creates an error for a provider whose breaker is open.
func NewCircuitOpen(provider string) *Error {
	return &Error{
		Kind:       KindCircuitOpen,
		Message:    "circuit breaker is open",
		Provider:   provider,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  false,
	}
}

// NewTransient creates a retryable provider error.
func NewTransient(provider, model, message string, statusCode int) *Error {
	return &Error{
		Kind:       KindTransient,
		Message:    message,
		Provider:   provider,
		Model:      model,
		StatusCode: statusCode,
		Retryable:  true,
	}
}

// NewPermanent creates a non-retryable provider error.
func NewPermanent(provider, model, message string, statusCode int) *Error {
	return &Error{
		Kind:       KindPermanent,
		Message:    message,
		Provider:   provider,
		Model:      model,
		StatusCode: statusCode,
		Retryable:  false,
	}
}

// NewInvalidResponse creates an error for an unusable provider payload.
// The transport succeeded, so this does not count against the breaker.
func NewInvalidResponse(provider, model, message string) *Error {
	return &Error{
		Kind:       KindInvalidResponse,
		Message:    message,
		Provider:   provider,
		Model:      model,
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
	}
}

// NewTimeout creates a timeout error.
func NewTimeout(provider, model string, cause error) *Error {
	return &Error{
		Kind:       KindTimeout,
		Message:    "request deadline exceeded",
		Provider:   provider,
		Model:      model,
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		Cause:      cause,
	}
}

// FromStatusCode maps an HTTP status from a provider to a gateway error.
// 429 and 5xx are transient, everything else in 4xx is permanent.
func FromStatusCode(provider, model string, statusCode int, message string) *Error {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return NewTransient(provider, model, message, statusCode)
	}
	return NewPermanent(provider, model, message, statusCode)
}

// IsRetryable reports whether the error is worth retrying.
// Unknown error types are treated as transient.
func IsRetryable(err error) bool {
	var ge *Error
	if stderrors.As(err, &ge) {
		return ge.Retryable
	}
	return true
}

// KindOf returns the kind of a gateway error, or empty for foreign errors.
func KindOf(err error) Kind {
	var ge *Error
	if stderrors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// CountsAsBreakerFailure reports whether the error should trip the breaker.
// Rate-limit denials and open-circuit rejections never reached the provider,
// and invalid-response means the provider answered at the transport level.
func CountsAsBreakerFailure(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindCircuitOpen, KindInvalidResponse:
		return false
	}
	return true
}
