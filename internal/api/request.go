package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Request performs one signed call against the trade API, retrying
// transient failures per the status retry table. The query string is
// excluded from the signed input; the body, when non-nil, is JSON.
// On success the raw response body is returned.
func (c *Client) Request(ctx context.Context, method, endpoint string, query url.Values, body any) ([]byte, error) {
	if err := c.limiter.Acquire(ctx, method); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	retries := 0
	var lastErr error
	for {
		data, err := c.attempt(ctx, method, endpoint, query, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err

		rule, ok := classify(err)
		if !ok {
			return nil, err
		}
		if retries >= rule.maxRetries {
			return nil, fmt.Errorf("%w after %d retries on %s %s: %w", ErrExhausted, retries, method, endpoint, lastErr)
		}

		delay := rule.delay
		if rule.exponential {
			delay = rule.delay * (1 << retries)
		}
		retries++
		c.logger.Warn("request retry",
			"method", method,
			"endpoint", endpoint,
			"attempt", retries,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// attempt executes a single signed HTTP exchange.
func (c *Client) attempt(ctx context.Context, method, endpoint string, query url.Values, payload []byte) ([]byte, error) {
	creds := c.credentials()
	if creds == nil {
		return nil, ErrNotConfigured
	}

	fullURL := c.baseURL + basePath + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	// Signed over method and path only, never the query string.
	headers, err := creds.SignRequest(method, basePath+endpoint)
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       truncate(string(data), 512),
		}
	}
	return data, nil
}

// classify maps a failed attempt onto its retry rule. Non-retryable
// errors return ok=false.
func classify(err error) (retryRule, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		rule, ok := retryRules[se.StatusCode]
		return rule, ok
	}
	if errors.Is(err, ErrTransient) {
		return networkRetryRule, true
	}
	return retryRule{}, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
