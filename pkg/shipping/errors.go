package shipping

import (
	"errors"
	"strings"
)

// ProviderError is returned by rate providers. It only ever fails the option
// being quoted; the engine turns it into that option's ErrorHint.
type ProviderError struct {
	// Provider is the provider type that failed.
	Provider string
	// Code is a stable machine-readable reason such as TIMEOUT or NO_RATES.
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" error (")
	b.WriteString(e.Code)
	b.WriteString("): ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is compares codes, so errors.Is(err, &ProviderError{Code: "NO_RATES"})
// matches whichever provider produced it.
func (e *ProviderError) Is(target error) bool {
	var t *ProviderError
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// NewProviderError returns a non-retryable error without cause or status.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message}
}

// WithCause sets the wrapped error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Cause = err
	return e
}

// WithStatusCode records the transport status that produced the error.
func (e *ProviderError) WithStatusCode(code int) *ProviderError {
	e.StatusCode = code
	return e
}

// WithRetryable tells the provider's retry loop whether another attempt may succeed.
func (e *ProviderError) WithRetryable(retryable bool) *ProviderError {
	e.Retryable = retryable
	return e
}

var (
	ErrProviderNotFound   = errors.New("rate provider not found")
	ErrCartNotFound       = errors.New("cart not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidContextRef  = errors.New("invalid context reference")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrNoRates            = errors.New("no rates available")
)

// IsRetryable reports whether err is worth another provider attempt. A
// ProviderError decides for itself; otherwise only unavailability and
// throttling are retried.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrRateLimitExceeded)
}
