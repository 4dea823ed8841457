package unifiedllm

import (
	"errors"
	"fmt"
)

// SDKError is the base error type for model client errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError is an error reported by a model provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the matching error type.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether err is safe to retry. Unknown errors are
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		auth    *AuthenticationError
		denied  *AccessDeniedError
		missing *NotFoundError
		invalid *InvalidRequestError
		length  *ContextLengthError
		filter  *ContentFilterError
		cfg     *ConfigurationError
		abort   *AbortError
		rate    *RateLimitError
		server  *ServerError
		timeout *RequestTimeoutError
		pe      *ProviderError
	)
	switch {
	case errors.As(err, &auth), errors.As(err, &denied), errors.As(err, &missing),
		errors.As(err, &invalid), errors.As(err, &length), errors.As(err, &filter),
		errors.As(err, &cfg), errors.As(err, &abort):
		return false
	case errors.As(err, &rate), errors.As(err, &server), errors.As(err, &timeout):
		return true
	case errors.As(err, &pe):
		return pe.Retryable
	default:
		return true
	}
}
