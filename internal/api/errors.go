package api

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds consumed by callers via errors.Is.
var (
	// ErrNotConfigured means no credentials are loaded for the client's
	// environment.
	ErrNotConfigured = errors.New("api credentials not configured")

	// ErrUnauthorized is a 401 from the exchange. It is fatal for the
	// environment: the execution engine halts until keys are reloaded.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrClient is a non-auth 4xx (400, 404). Never retried.
	ErrClient = errors.New("client error")

	// ErrRateLimited is a 429. Handled internally by retry; surfaces only
	// once retries are exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient is a 5xx or network failure, retried internally.
	ErrTransient = errors.New("transient error")

	// ErrExhausted wraps the final error once all retries are used.
	ErrExhausted = errors.New("retries exhausted")
)

// StatusError is a non-2xx response from the exchange.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kalshi api %d on %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// Unwrap maps the status code onto the sentinel error kinds so callers
// can classify with errors.Is.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == 401:
		return ErrUnauthorized
	case e.StatusCode == 400 || e.StatusCode == 404:
		return ErrClient
	case e.StatusCode == 429:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrTransient
	default:
		return nil
	}
}

// retryRule describes how a retryable status is handled.
type retryRule struct {
	delay       time.Duration
	maxRetries  int
	exponential bool
}

// Retry classification per status code. Network and timeout failures use
// networkRetryRule. Everything not listed fails on the first attempt.
var retryRules = map[int]retryRule{
	429: {delay: 100 * time.Millisecond, maxRetries: 5, exponential: true},
	500: {delay: 500 * time.Millisecond, maxRetries: 3},
	503: {delay: time.Second, maxRetries: 3},
}

var networkRetryRule = retryRule{delay: 250 * time.Millisecond, maxRetries: 3}
