// Package api implements the Kalshi trade REST client. One Client per
// environment; credentials may be loaded and unloaded at runtime, and
// every request is signed fresh and throttled through the shared
// read/write token buckets.
package api

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pollypredict/trader/internal/auth"
	"github.com/pollypredict/trader/internal/ratelimit"
)

const (
	// basePath prefixes every trade API endpoint and is part of the
	// signed input.
	basePath = "/trade-api/v2"

	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Client talks to one Kalshi environment. Safe for concurrent use.
type Client struct {
	env     string
	baseURL string
	http    *http.Client
	limiter *ratelimit.Buckets
	logger  *slog.Logger

	credMu sync.RWMutex
	creds  *auth.Credentials
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout overrides the total request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// NewClient creates a client for one environment. baseURL is the scheme
// and host only; limiter is shared across every caller in the process so
// the exchange-side quota is respected globally.
func NewClient(env, baseURL string, limiter *ratelimit.Buckets, opts ...Option) *Client {
	c := &Client{
		env:     env,
		baseURL: baseURL,
		limiter: limiter,
		logger:  slog.Default(),
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: defaultConnectTimeout,
				}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api", "env", env)
	return c
}

// Environment returns the environment this client targets.
func (c *Client) Environment() string {
	return c.env
}

// SetCredentials loads signing credentials, replacing any existing pair.
func (c *Client) SetCredentials(creds *auth.Credentials) {
	c.credMu.Lock()
	c.creds = creds
	c.credMu.Unlock()
	c.logger.Info("credentials loaded")
}

// ClearCredentials unloads credentials. Subsequent requests fail with
// ErrNotConfigured.
func (c *Client) ClearCredentials() {
	c.credMu.Lock()
	c.creds = nil
	c.credMu.Unlock()
	c.logger.Info("credentials cleared")
}

// IsConfigured reports whether credentials are currently loaded.
func (c *Client) IsConfigured() bool {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.creds != nil
}

func (c *Client) credentials() *auth.Credentials {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.creds
}
