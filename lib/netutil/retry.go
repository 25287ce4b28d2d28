// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/lib/provisionerr"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 2

// DefaultMaxRetryAfter caps how long a server's Retry-After header can
// hold a request.
const DefaultMaxRetryAfter = 5 * time.Second

// RetryOptions configures a Client.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// MaxRetryAfter caps server-requested delays. Zero means
	// DefaultMaxRetryAfter.
	MaxRetryAfter time.Duration

	// UserAgent is set on every request that does not already carry
	// one.
	UserAgent string

	// Clock drives backoff waits. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives a warning per retry. Nil means slog.Default().
	Logger *slog.Logger
}

// Client sends idempotent requests with bounded retry.
type Client struct {
	httpClient *http.Client
	maxRetries int
	maxWait    time.Duration
	userAgent  string
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient wraps httpClient with the retry policy in options.
func NewClient(httpClient *http.Client, options RetryOptions) *Client {
	client := &Client{
		httpClient: httpClient,
		maxRetries: options.MaxRetries,
		maxWait:    options.MaxRetryAfter,
		userAgent:  options.UserAgent,
		clock:      options.Clock,
		logger:     options.Logger,
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	if client.maxRetries == 0 {
		client.maxRetries = DefaultMaxRetries
	} else if client.maxRetries < 0 {
		client.maxRetries = 0
	}
	if client.maxWait <= 0 {
		client.maxWait = DefaultMaxRetryAfter
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	return client
}

// HTTPClient returns the underlying client for requests that must not
// be retried (the batched blob POST).
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// RequestBuilder creates a fresh request for each attempt. Bodies are
// consumed by a send, so the builder must not reuse one.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Do sends the request built by build, retrying transient failures.
// The response of the final attempt is returned whatever its status;
// the caller checks it. Transport failures that survive every retry
// are returned as Network errors; context cancellation as Cancelled.
func (c *Client) Do(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := provisionerr.CheckContext(ctx); err != nil {
			return nil, err
		}

		request, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if c.userAgent != "" && request.Header.Get("User-Agent") == "" {
			request.Header.Set("User-Agent", c.userAgent)
		}
		target := request.URL.String()

		response, err := c.httpClient.Do(request)
		final := attempt >= c.maxRetries

		if err != nil {
			if ctx.Err() != nil {
				return nil, provisionerr.Cancel(ctx.Err())
			}
			if final || !isRetryableError(err) {
				return nil, provisionerr.New(provisionerr.Network, request.Method, target, err)
			}
			c.logger.Warn("transient request failure, retrying",
				"method", request.Method,
				"url", provisionerr.RedactURL(target),
				"attempt", attempt+1,
				"error", err,
			)
			if err := c.wait(ctx, backoffDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if final || !isRetryableStatus(response.StatusCode) {
			return response, nil
		}

		delay, ok := retryAfter(response.Header, c.maxWait)
		if !ok {
			delay = backoffDelay(attempt)
		}
		io.Copy(io.Discard, io.LimitReader(response.Body, errorSnippetSize))
		response.Body.Close()

		c.logger.Warn("transient response status, retrying",
			"method", request.Method,
			"url", provisionerr.RedactURL(target),
			"status", response.StatusCode,
			"attempt", attempt+1,
			"delay", delay,
		)
		if err := c.wait(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) wait(ctx context.Context, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return provisionerr.Cancel(ctx.Err())
	case <-c.clock.After(delay):
		return nil
	}
}

// backoffDelay is 250ms, 750ms, then 1.5s for every later attempt.
func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 250 * time.Millisecond
	case 1:
		return 750 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

// retryAfter parses a Retry-After header given in seconds. HTTP-date
// values are not used by the servers this talks to and are ignored.
func retryAfter(header http.Header, maxWait time.Duration) (time.Duration, bool) {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return min(time.Duration(seconds)*time.Second, maxWait), true
}

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// isRetryableError reports whether a transport error is a timeout or
// a failure to connect.
func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}
