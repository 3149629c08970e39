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

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Neels-v-Wyk/EntoMLgist/cache"
	"github.com/Neels-v-Wyk/EntoMLgist/download"
	"github.com/Neels-v-Wyk/EntoMLgist/pipeline"
	"github.com/Neels-v-Wyk/EntoMLgist/reddit"
	"github.com/Neels-v-Wyk/EntoMLgist/selection"
	"github.com/Neels-v-Wyk/EntoMLgist/storage/postgres"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "entomlgist",
		Usage: "Harvest posts, comments and images from an insect-identification community",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run a harvest pass (or keep running with --interval)",
				Action: runCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "collection",
						Aliases: []string{"c"},
						Usage:   "Collection (subreddit) to harvest",
						Value:   "whatisthisbug",
						EnvVars: []string{"ENTOMLGIST_COLLECTION"},
					},
					&cli.StringFlag{
						Name:  "user-agent",
						Usage: "User-agent string sent on API requests",
						Value: reddit.DefaultConfig().UserAgent,
					},
					&cli.DurationFlag{
						Name:  "request-delay",
						Usage: "Minimum delay between consecutive API requests",
						Value: time.Second,
					},
					&cli.DurationFlag{
						Name:  "max-backoff",
						Usage: "Upper bound for retry backoff before a fetch fails",
						Value: 60 * time.Second,
					},
					&cli.IntFlag{
						Name:  "listing-limit",
						Usage: "Number of posts requested per listing fetch",
						Value: 100,
					},
					&cli.StringFlag{
						Name:    "cache-dir",
						Usage:   "Directory for the durable response cache",
						Value:   ".cache",
						EnvVars: []string{"ENTOMLGIST_CACHE_DIR"},
					},
					&cli.DurationFlag{
						Name:  "cache-ttl",
						Usage: "Age after which a cached detail response is refetched",
						Value: 24 * time.Hour,
					},
					&cli.IntFlag{
						Name:  "top-comments",
						Usage: "Number of highest-scored comments kept per post",
						Value: 3,
					},
					&cli.Int64Flag{
						Name:  "min-score",
						Usage: "Minimum post score for its images to qualify for download",
						Value: 5,
					},
					&cli.IntFlag{
						Name:  "min-comments",
						Usage: "Minimum stored comment count for a post's images to qualify",
						Value: 3,
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Download every pending image regardless of thresholds",
					},
					&cli.StringFlag{
						Name:    "download-dir",
						Usage:   "Directory downloaded images are written to",
						Value:   "downloads/images",
						EnvVars: []string{"ENTOMLGIST_DOWNLOAD_DIR"},
					},
					&cli.IntFlag{
						Name:  "download-concurrency",
						Usage: "Number of concurrent image transfers",
						Value: 4,
					},
					&cli.Int64Flag{
						Name:  "max-file-size",
						Usage: "Maximum image size in bytes; larger transfers are abandoned",
						Value: 20 << 20,
					},
					&cli.IntFlag{
						Name:  "detail-workers",
						Usage: "Worker pool size for detail fetches (0 = half the CPUs)",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Re-run the harvest every interval (0 runs once and exits)",
					},
				}, dbFlags()...),
			},
			{
				Name:   "initdb",
				Usage:  "Create the database schema and exit",
				Action: initdbCommand,
				Flags:  dbFlags(),
			},
			{
				Name:   "stats",
				Usage:  "Print store record totals",
				Action: statsCommand,
				Flags:  dbFlags(),
			},
		},
	}
}

// dbFlags returns the database connection flags shared by all commands.
func dbFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "Postgres connection URL (otherwise composed from DB_* environment variables)",
			EnvVars: []string{"DATABASE_URL"},
		},
	}
}

func runCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	cfg := reddit.NewConfig(
		reddit.WithCollection(c.String("collection")),
		reddit.WithUserAgent(c.String("user-agent")),
		reddit.WithRequestDelay(c.Duration("request-delay")),
		reddit.WithMaxBackoff(c.Duration("max-backoff")),
		reddit.WithListingLimit(c.Int("listing-limit")),
	)

	client, err := reddit.NewClient(cfg, reddit.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	extractor := reddit.NewExtractor(cfg.BotAuthors, logger)

	backend, err := cache.OpenBackend(c.String("cache-dir"), false, logger)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer backend.Close()

	responseCache, err := cache.New(backend, c.Duration("cache-ttl"), logger)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	store, err := postgres.NewStore(ctx, databaseURL(c), postgres.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	selector, err := selection.NewEngine(store, selection.NewConfig(
		selection.WithMinScore(c.Int64("min-score")),
		selection.WithMinComments(c.Int("min-comments")),
		selection.WithAll(c.Bool("all")),
	), selection.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create selection engine: %w", err)
	}

	downloader, err := download.NewDownloader(download.NewConfig(
		download.WithMaxBytes(c.Int64("max-file-size")),
		download.WithConcurrency(c.Int("download-concurrency")),
	), download.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create downloader: %w", err)
	}
	defer downloader.Release()

	pipelineOpts := []pipeline.Option{
		pipeline.WithTopComments(c.Int("top-comments")),
		pipeline.WithDownloadDir(c.String("download-dir")),
		pipeline.WithLogger(logger),
	}
	if workers := c.Int("detail-workers"); workers > 0 {
		pipelineOpts = append(pipelineOpts, pipeline.WithDetailPoolSize(workers))
	}

	p, err := pipeline.NewPipeline(client, extractor, responseCache, store, selector, downloader, pipelineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Release()

	fmt.Fprintf(os.Stderr, "Collection: %s\n", cfg.Collection)
	fmt.Fprintf(os.Stderr, "Cache: %s (TTL %s)\n", c.String("cache-dir"), c.Duration("cache-ttl"))
	fmt.Fprintf(os.Stderr, "Download dir: %s\n", c.String("download-dir"))
	fmt.Fprintln(os.Stderr)

	interval := c.Duration("interval")
	for {
		if _, err := p.Run(ctx); err != nil {
			if interval == 0 {
				return fmt.Errorf("harvest failed: %w", err)
			}
			logger.Error("harvest pass failed", "err", err)
		}
		if interval == 0 {
			return nil
		}

		wait := jittered(interval)
		logger.Info("next pass scheduled", "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("shutting down")
			return nil
		case <-timer.C:
		}
	}
}

func initdbCommand(c *cli.Context) error {
	store, err := postgres.NewStore(context.Background(), databaseURL(c))
	if err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}
	defer store.Close()

	fmt.Fprintln(os.Stderr, "schema ready")
	return nil
}

func statsCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := postgres.NewStore(ctx, databaseURL(c))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	fmt.Printf("posts:      %d\n", stats.Posts)
	fmt.Printf("comments:   %d\n", stats.Comments)
	fmt.Printf("image refs: %d\n", stats.ImageRefs)
	fmt.Printf("downloaded: %d\n", stats.Downloaded)
	return nil
}

// databaseURL resolves the connection string: an explicit --db-url wins,
// otherwise one is composed from the DB_* environment variables the way the
// deployment sets them.
func databaseURL(c *cli.Context) string {
	if dsn := c.String("db-url"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(envOr("DB_USER", "postgres"), os.Getenv("DB_PASSWORD")),
		Host:   envOr("DB_HOST", "localhost") + ":" + envOr("DB_PORT", "5432"),
		Path:   "/" + envOr("DB_NAME", "entomlgist"),
	}
	return u.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// jittered pads d with up to 10% extra so repeated passes do not land on
// exact multiples of the interval.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + rand.N(d/10+1)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
