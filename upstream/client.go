// Package upstream wraps calls to rate-limited provider HTTP APIs.
//
// The client owns timeouts, 429 backoff, and pagination with
// partial-result tolerance. It performs no caching: callers own what
// happens to a fetched payload.
package upstream

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/metric"
	"github.com/Stattrackrr/stattrackr-sub010/pkg/retry"
)

// Config holds upstream client settings.
type Config struct {
	APIKey         string        // provider API key, required
	RequestTimeout time.Duration // hard per-call timeout
	RetryCeiling   int           // max attempts on 429 before giving up
	BackoffBase    time.Duration // first backoff delay, doubles per attempt
	MaxPages       int           // page cap for multi-page fetches
}

// applyDefaults fills zero-valued fields with production defaults.
func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 4
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
}

// Client fetches JSON pages from a rate-limited provider API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *clientMetrics
	sleep      func(context.Context, time.Duration) error
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics for fetch operations.
func WithMetrics(registry *metric.Registry) Option {
	return func(c *Client) {
		if registry != nil {
			m, err := newClientMetrics(registry)
			if err != nil {
				c.logger.Warn("upstream metrics registration failed", "error", err)
				return
			}
			c.metrics = m
		}
	}
}

// WithHTTPClient overrides the transport, used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSleep overrides backoff sleeping, used by tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates an upstream client. A missing API key is fatal: without
// credentials no invocation can succeed, so fail at construction.
func New(cfg Config, options ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "upstream", "New", "api key")
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// FetchPage fetches one JSON page from url, retrying with exponential
// backoff on HTTP 429 up to the configured ceiling. Timeouts and non-429
// errors are not retried; they come back classified so callers can decide
// between degrading to cached data and skipping the entity.
func (c *Client) FetchPage(ctx context.Context, url string) ([]byte, error) {
	retryCfg := retry.Config{
		MaxAttempts:  c.cfg.RetryCeiling,
		InitialDelay: c.cfg.BackoffBase,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		AddJitter:    true,
		Sleep:        c.sleep,
	}

	attempt := 0
	body, err := retry.DoWithResult(ctx, retryCfg, func() ([]byte, error) {
		attempt++
		body, err := c.doRequest(ctx, url)
		if err == nil {
			return body, nil
		}
		if stderrors.Is(err, errors.ErrRateLimited) {
			c.logger.Warn("upstream rate limited, backing off",
				"url", url, "attempt", attempt, "ceiling", c.cfg.RetryCeiling)
			if c.metrics != nil {
				c.metrics.recordRateLimit()
			}
			return nil, err
		}
		// Timeouts and permanent failures are surfaced immediately.
		return nil, retry.NonRetryable(err)
	})
	if err == nil {
		return body, nil
	}

	var nre *retry.NonRetryableError
	if stderrors.As(err, &nre) {
		return nil, nre.Err
	}
	if stderrors.Is(err, errors.ErrRateLimited) {
		return nil, errors.WrapTransient(errors.ErrRateLimited, "upstream", "FetchPage",
			fmt.Sprintf("retry ceiling of %d reached", c.cfg.RetryCeiling))
	}
	return nil, err
}

// doRequest performs a single HTTP GET with the hard per-call timeout.
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapPermanent(err, "upstream", "doRequest", "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.observeLatency(time.Since(start))
	}
	if err != nil {
		if isTimeoutError(err) {
			return nil, errors.WrapTransient(errors.ErrUpstreamTimeout, "upstream", "doRequest", url)
		}
		return nil, errors.WrapTransient(err, "upstream", "doRequest", url)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.WrapTransient(err, "upstream", "doRequest", "read body")
		}
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.ErrRateLimited
	default:
		return nil, errors.WrapPermanent(errors.ErrUpstreamStatus, "upstream", "doRequest",
			fmt.Sprintf("%s returned %d", url, resp.StatusCode))
	}
}

// isTimeoutError distinguishes deadline hits from other transport errors.
func isTimeoutError(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
