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

package download

import (
	"errors"
	"time"
)

// Config holds configuration for the image downloader.
type Config struct {
	// UserAgent is sent on every transfer. Image hosts reject the default
	// Go client identity, so a browser string is used.
	UserAgent string

	// Referer is sent on every transfer. Image hosts check it.
	// Default: "https://reddit.com/"
	Referer string

	// Accept and AcceptLanguage round out the browser request headers.
	Accept         string
	AcceptLanguage string

	// MaxBytes caps the payload size; larger files are aborted mid-stream
	// and rejected up front when the host reports a content length.
	// Default: 20 MiB
	MaxBytes int64

	// Concurrency bounds the number of simultaneous transfers. Default: 4
	Concurrency int

	// MaxAttempts is the number of tries for a transient transfer failure.
	// Default: 4
	MaxAttempts int

	// RetryBaseDelay is the first retry interval; it doubles per attempt.
	// Default: 500ms
	RetryBaseDelay time.Duration

	// RequestTimeout bounds each individual transfer. Default: 10s
	RequestTimeout time.Duration

	// ReportEvery is the progress reporting interval in completed
	// transfers. Default: 10
	ReportEvery int
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithUserAgent sets the transfer user-agent string.
func WithUserAgent(ua string) ConfigOption {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

// WithMaxBytes sets the payload size cap.
func WithMaxBytes(n int64) ConfigOption {
	return func(c *Config) {
		c.MaxBytes = n
	}
}

// WithConcurrency sets the number of simultaneous transfers.
func WithConcurrency(n int) ConfigOption {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithRetry sets the attempt budget and the initial retry interval.
func WithRetry(maxAttempts int, baseDelay time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.RetryBaseDelay = baseDelay
	}
}

// WithRequestTimeout sets the per-transfer timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithReportEvery sets the progress reporting interval.
func WithReportEvery(n int) ConfigOption {
	return func(c *Config) {
		c.ReportEvery = n
	}
}

// DefaultConfig returns a Config with the defaults the pipeline ships with.
func DefaultConfig() *Config {
	return &Config{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Referer:        "https://reddit.com/",
		Accept:         "image/webp,image/apng,image/*,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		MaxBytes:       20 << 20,
		Concurrency:    4,
		MaxAttempts:    4,
		RetryBaseDelay: 500 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
		ReportEvery:    10,
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

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.UserAgent == "" {
		return errors.New("download config: UserAgent is required")
	}
	if c.MaxBytes <= 0 {
		return errors.New("download config: MaxBytes must be positive")
	}
	if c.Concurrency < 1 {
		return errors.New("download config: Concurrency must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("download config: MaxAttempts must be at least 1")
	}
	if c.RetryBaseDelay <= 0 {
		return errors.New("download config: RetryBaseDelay must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("download config: RequestTimeout must be positive")
	}
	if c.ReportEvery < 1 {
		return errors.New("download config: ReportEvery must be at least 1")
	}
	return nil
}
