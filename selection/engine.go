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

package selection

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
	"github.com/Neels-v-Wyk/EntoMLgist/storage"
)

// Config holds the selection thresholds.
type Config struct {
	// MinScore is the minimum post score for its images to qualify.
	// Default: 5
	MinScore int64

	// MinComments is the minimum number of stored comments on the post.
	// Default: 3
	MinComments int

	// All bypasses both thresholds and selects every pending reference.
	All bool
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithMinScore sets the post score threshold.
func WithMinScore(n int64) ConfigOption {
	return func(c *Config) {
		c.MinScore = n
	}
}

// WithMinComments sets the comment count threshold.
func WithMinComments(n int) ConfigOption {
	return func(c *Config) {
		c.MinComments = n
	}
}

// WithAll bypasses the thresholds.
func WithAll(all bool) ConfigOption {
	return func(c *Config) {
		c.All = all
	}
}

// DefaultConfig returns a Config with the thresholds the pipeline ships
// with.
func DefaultConfig() *Config {
	return &Config{
		MinScore:    5,
		MinComments: 3,
	}
}

// NewConfig creates a Config with the default values and applies the
// provided options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate checks that the thresholds are usable.
func (c *Config) Validate() error {
	if c.MinScore < 0 {
		return errors.New("selection config: MinScore must not be negative")
	}
	if c.MinComments < 0 {
		return errors.New("selection config: MinComments must not be negative")
	}
	return nil
}

// Engine selects download candidates through the store's aggregate query.
type Engine struct {
	store  storage.Store
	cfg    *Config
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a selection engine. A nil cfg uses the defaults.
func NewEngine(store storage.Store, cfg *Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Candidates returns the pending image references whose post clears the
// configured thresholds, oldest post first. In All mode every pending
// reference qualifies, still through the same single-query path.
func (e *Engine) Candidates(ctx context.Context) ([]*core.ImageRef, error) {
	minScore := e.cfg.MinScore
	minComments := e.cfg.MinComments
	if e.cfg.All {
		minScore = math.MinInt64
		minComments = 0
	}

	refs, err := e.store.SelectDownloadCandidates(ctx, minScore, minComments)
	if err != nil {
		return nil, err
	}

	e.logger.Info("selected download candidates",
		"count", len(refs),
		"minScore", minScore,
		"minComments", minComments,
		"all", e.cfg.All)
	return refs, nil
}
