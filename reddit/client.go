// Copyright 2025 EntoMLgist Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reddit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// backoffFactor is the growth multiplier applied after each retried attempt.
const backoffFactor = 1.4

// Client issues requests against the upstream API with a shared rate gate.
//
// All fetches are serialized through one mutex: the configured RequestDelay
// separates consecutive request starts, and backoff sleeps count for every
// caller. Concurrent goroutines therefore never widen the request channel.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	lastStart time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a rate-limited upstream client.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListingURL returns the request URL for the hot listing of the configured
// collection. The URL doubles as the cache key for the response.
func (c *Client) ListingURL(limit int) string {
	return fmt.Sprintf("%s/r/%s/hot.json?limit=%d", c.cfg.BaseURL, c.cfg.Collection, limit)
}

// DetailURL returns the request URL for a single post and its comment tree.
// The URL doubles as the cache key for the response.
func (c *Client) DetailURL(postID string) string {
	return fmt.Sprintf("%s/r/%s/comments/%s.json", c.cfg.BaseURL, c.cfg.Collection, postID)
}

// FetchListing fetches the hot listing using the configured limit.
func (c *Client) FetchListing(ctx context.Context) ([]byte, error) {
	return c.Fetch(ctx, c.ListingURL(c.cfg.ListingLimit))
}

// FetchPostDetail fetches a single post plus its comment tree.
func (c *Client) FetchPostDetail(ctx context.Context, postID string) ([]byte, error) {
	return c.Fetch(ctx, c.DetailURL(postID))
}

// Fetch performs a GET against url, honoring the inter-request delay and
// retrying rate-limit and server-error responses with exponential backoff.
//
// Retries exhaust once the next backoff interval would reach MaxBackoff;
// the fetch then fails with a *TransientError carrying the request
// identity, last status, and attempt count. Non-retryable client errors
// (404 and other 4xx) fail immediately with a *PermanentError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delay := c.cfg.BackoffBase
	attempts := 0
	for {
		if err := c.awaitTurn(ctx); err != nil {
			return nil, err
		}

		body, status, err := c.doGET(ctx, url)
		attempts++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("request failed", "url", url, "err", err)
		} else if status == http.StatusOK {
			return body, nil
		} else if !retryableStatus(status) {
			return nil, &PermanentError{URL: url, StatusCode: status}
		}

		if delay >= c.cfg.MaxBackoff {
			return nil, &TransientError{URL: url, StatusCode: status, Attempts: attempts, Err: err}
		}

		c.logger.Warn("backing off", "url", url, "status", status, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * backoffFactor)
		if delay > c.cfg.MaxBackoff {
			delay = c.cfg.MaxBackoff
		}
	}
}

// awaitTurn sleeps until RequestDelay has passed since the previous request
// start. Must be called with c.mu held.
func (c *Client) awaitTurn(ctx context.Context) error {
	wait := c.cfg.RequestDelay - time.Since(c.lastStart)
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastStart = time.Now()
	return nil
}

func (c *Client) doGET(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	// Read the body even on error statuses so the connection can be reused.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// retryableStatus reports whether a status code warrants backoff and retry.
// Rate limiting and server errors are transient; everything else is not.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500 || status == 0
}
