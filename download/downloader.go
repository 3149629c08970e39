package download

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
)

// MarkFunc is called after each successful transfer with the reference
// and the path it was written to. Errors are logged, never fatal to the
// batch.
type MarkFunc func(ctx context.Context, ref *core.ImageRef, localPath string) error

// Result summarizes a transfer batch.
type Result struct {
	Attempted  int
	Downloaded int
	Failed     int
}

// Downloader fetches image references to local disk over a bounded worker
// pool.
type Downloader struct {
	cfg        *Config
	httpClient *http.Client
	pool       *ants.Pool
	progress   io.Writer
	logger     *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for transfers.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) error {
		if client != nil {
			d.httpClient = client
		}
		return nil
	}
}

// WithProgressWriter sets where batch progress is reported.
// Default is os.Stderr.
func WithProgressWriter(w io.Writer) Option {
	return func(d *Downloader) error {
		if w != nil {
			d.progress = w
		}
		return nil
	}
}

// NewDownloader creates a Downloader with the given configuration.
// A nil cfg uses the defaults.
func NewDownloader(cfg *Config, opts ...Option) (*Downloader, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("download: create pool: %w", err)
	}

	d := &Downloader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		pool:       pool,
		progress:   os.Stderr,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			pool.Release()
			return nil, err
		}
	}
	return d, nil
}

// Release releases the worker pool. The downloader must not be used after
// calling Release.
func (d *Downloader) Release() {
	d.pool.Release()
}

// Download fetches one reference into destDir and returns the final path.
// The transfer streams into a ".part" file which is renamed into place
// only after the payload validates; on any failure the partial file is
// removed and nothing is left at the final path.
func (d *Downloader) Download(ctx context.Context, ref *core.ImageRef, destDir string) (string, error) {
	if err := core.ValidateImageRef(ref); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("download %s: %w", ref.ID, err)
	}

	finalPath := filepath.Join(destDir, core.LocalFileName(*ref))
	tmpPath := finalPath + ".part"

	// Stored URLs keep their HTML entities; decode just before use.
	url := html.UnescapeString(ref.URL)

	err := RetryWithBackoff(ctx, func() error {
		return d.fetchToFile(ctx, url, tmpPath)
	}, d.cfg.MaxAttempts, d.cfg.RetryBaseDelay)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref.ID, err)
	}

	if err := validateImage(tmpPath, ref.Extension); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("download %s: %w", ref.ID, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("download %s: %w", ref.ID, err)
	}
	return finalPath, nil
}

// DownloadAll fans refs out over the worker pool. Each successful transfer
// is reported to mark right away; failures are logged and counted, never
// fatal to the rest of the batch.
func (d *Downloader) DownloadAll(ctx context.Context, refs []*core.ImageRef, destDir string, mark MarkFunc) (*Result, error) {
	res := &Result{Attempted: len(refs)}
	if len(refs) == 0 {
		return res, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return res, fmt.Errorf("download all: %w", err)
	}

	tracker := NewProgressTracker(d.progress, len(refs), d.cfg.ReportEvery)
	tracker.Start()

	var wg sync.WaitGroup
	var downloaded, failed atomic.Int64
	for _, ref := range refs {
		wg.Add(1)
		err := d.pool.Submit(func() {
			defer wg.Done()

			path, err := d.Download(ctx, ref, destDir)
			if err != nil {
				failed.Add(1)
				d.logger.Warn("image download failed", "image", ref.ID, "post", ref.PostID, "err", err)
				return
			}
			downloaded.Add(1)
			tracker.Increment(1)

			if mark != nil {
				if err := mark(ctx, ref, path); err != nil {
					d.logger.Warn("marking downloaded failed", "image", ref.ID, "err", err)
				}
			}
		})
		if err != nil {
			wg.Done()
			failed.Add(1)
			d.logger.Warn("submitting transfer failed", "image", ref.ID, "err", err)
		}
	}
	wg.Wait()
	tracker.Finish()

	res.Downloaded = int(downloaded.Load())
	res.Failed = int(failed.Load())
	d.logger.Info("download batch finished",
		"attempted", res.Attempted,
		"downloaded", res.Downloaded,
		"failed", res.Failed,
		"elapsed", tracker.Elapsed())
	return res, nil
}

// fetchToFile performs one transfer attempt into path. Errors it returns
// are transient unless marked otherwise.
func (d *Downloader) fetchToFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermanentTransfer, err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Referer", d.cfg.Referer)
	req.Header.Set("Accept", d.cfg.Accept)
	req.Header.Set("Accept-Language", d.cfg.AcceptLanguage)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrPermanentTransfer, resp.StatusCode)
	}

	if resp.ContentLength > d.cfg.MaxBytes {
		return fmt.Errorf("%w: content length %d", ErrFileTooLarge, resp.ContentLength)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermanentTransfer, err)
	}

	n, err := io.Copy(f, io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	if n > d.cfg.MaxBytes {
		os.Remove(path)
		return fmt.Errorf("%w: exceeded %d bytes", ErrFileTooLarge, d.cfg.MaxBytes)
	}
	return nil
}
