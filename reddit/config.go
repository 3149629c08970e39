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
	"errors"
	"strings"
	"time"
)

// Config holds configuration for the upstream API client and extractor.
type Config struct {
	// Collection is the subreddit harvested, without the "r/" prefix.
	// Default: "whatisthisbug"
	Collection string

	// BaseURL is the upstream API root. Overridable for tests.
	// Default: "https://www.reddit.com"
	BaseURL string

	// UserAgent is sent on every request. The upstream rejects the default
	// Go client identity, so a browser string is used.
	UserAgent string

	// RequestDelay is the mandatory minimum delay between consecutive
	// request starts. Default: 1s
	RequestDelay time.Duration

	// BackoffBase is the first backoff interval after a rate-limit or
	// server-error response. Default: 1s
	BackoffBase time.Duration

	// MaxBackoff bounds the backoff growth; once the next interval would
	// reach it, the request fails with ErrTransientFetch. Default: 60s
	MaxBackoff time.Duration

	// RequestTimeout bounds each individual HTTP request. Default: 30s
	RequestTimeout time.Duration

	// ListingLimit is the number of posts requested per listing fetch.
	// Default: 100
	ListingLimit int

	// BotAuthors are comment authors dropped at extraction time.
	// Default: ["AutoModerator"]
	BotAuthors []string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithCollection sets the subreddit to harvest.
func WithCollection(collection string) ConfigOption {
	return func(c *Config) {
		c.Collection = collection
	}
}

// WithBaseURL sets the upstream API root.
func WithBaseURL(baseURL string) ConfigOption {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithUserAgent sets the request user-agent string.
func WithUserAgent(ua string) ConfigOption {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

// WithRequestDelay sets the minimum delay between consecutive requests.
func WithRequestDelay(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestDelay = d
	}
}

// WithBackoff sets the initial backoff interval and its upper bound.
func WithBackoff(base, max time.Duration) ConfigOption {
	return func(c *Config) {
		c.BackoffBase = base
		c.MaxBackoff = max
	}
}

// WithMaxBackoff sets the backoff upper bound, keeping the base interval.
func WithMaxBackoff(max time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxBackoff = max
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithListingLimit sets the number of posts requested per listing fetch.
func WithListingLimit(limit int) ConfigOption {
	return func(c *Config) {
		c.ListingLimit = limit
	}
}

// WithBotAuthors sets the comment authors filtered at extraction.
func WithBotAuthors(authors ...string) ConfigOption {
	return func(c *Config) {
		c.BotAuthors = authors
	}
}

// DefaultConfig returns a Config with the defaults the pipeline ships with.
func DefaultConfig() *Config {
	return &Config{
		Collection: "whatisthisbug",
		BaseURL:    "https://www.reddit.com",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		RequestDelay:   time.Second,
		BackoffBase:    time.Second,
		MaxBackoff:     60 * time.Second,
		RequestTimeout: 30 * time.Second,
		ListingLimit:   100,
		BotAuthors:     []string{"AutoModerator"},
	}
}

// NewConfig creates a Config with the default values and applies the provided
// options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form: the collection
// loses any "r/" prefix and the base URL loses its trailing slash.
func (c *Config) Normalize() {
	c.Collection = strings.TrimPrefix(strings.TrimSpace(c.Collection), "r/")
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Collection == "" {
		return errors.New("reddit config: Collection is required")
	}
	if c.BaseURL == "" {
		return errors.New("reddit config: BaseURL is required")
	}
	if c.UserAgent == "" {
		return errors.New("reddit config: UserAgent is required")
	}
	if c.RequestDelay < 0 {
		return errors.New("reddit config: RequestDelay must not be negative")
	}
	if c.BackoffBase <= 0 {
		return errors.New("reddit config: BackoffBase must be positive")
	}
	if c.MaxBackoff < c.BackoffBase {
		return errors.New("reddit config: MaxBackoff must be at least BackoffBase")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("reddit config: RequestTimeout must be positive")
	}
	if c.ListingLimit < 1 {
		return errors.New("reddit config: ListingLimit must be at least 1")
	}
	return nil
}
