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

package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Neels-v-Wyk/EntoMLgist/cache"
	"github.com/Neels-v-Wyk/EntoMLgist/core"
	"github.com/Neels-v-Wyk/EntoMLgist/download"
	"github.com/Neels-v-Wyk/EntoMLgist/reddit"
	"github.com/Neels-v-Wyk/EntoMLgist/selection"
	"github.com/Neels-v-Wyk/EntoMLgist/storage"
)

// Stage names as registered in the run graph.
const (
	StageHotPosts         = "hot-posts"
	StageStorePosts       = "store-posts"
	StagePostDetails      = "post-details"
	StageRefreshScores    = "refresh-scores"
	StageStoreComments    = "store-comments"
	StageStoreImages      = "store-images"
	StageSelectCandidates = "select-candidates"
	StageDownloadImages   = "download-images"
)

// Pipeline orchestrates one harvest pass: listing ingestion, per-post detail
// refresh through the response cache, threshold selection and image download.
type Pipeline struct {
	client     *reddit.Client
	extractor  *reddit.Extractor
	cache      *cache.Cache
	store      storage.Store
	selector   *selection.Engine
	downloader *download.Downloader

	detailPool  *ants.Pool
	topComments int
	downloadDir string
	monitor     Monitor
	logger      *slog.Logger

	graph *Graph
}

// detailBatch carries the records one detail pass produced for the store
// stages downstream of it.
type detailBatch struct {
	posts    []*core.Post
	comments []*core.Comment
	images   []*core.ImageRef
	failed   int
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithDetailPoolSize sets the worker pool size for detail fetches.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
//
// Cache hits resolve concurrently; actual upstream requests stay serialized
// behind the client's rate gate, so the pool size bounds parallelism of
// cache reads and extraction only.
func WithDetailPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		if p.detailPool != nil {
			p.detailPool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.detailPool = pool
		return nil
	}
}

// WithTopComments sets how many of a post's highest-scored comments are kept.
// Default is 3.
func WithTopComments(n int) Option {
	return func(p *Pipeline) error {
		if n < 0 {
			n = 0
		}
		p.topComments = n
		return nil
	}
}

// WithDownloadDir sets the directory downloaded images are written to.
// Default is "downloads/images".
func WithDownloadDir(dir string) Option {
	return func(p *Pipeline) error {
		if dir != "" {
			p.downloadDir = dir
		}
		return nil
	}
}

// WithMonitor sets the monitor notified of stage transitions.
// A nil monitor falls back to a LogMonitor on the pipeline's logger.
func WithMonitor(m Monitor) Option {
	return func(p *Pipeline) error {
		p.monitor = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a harvest pipeline over the given components.
func NewPipeline(
	client *reddit.Client,
	extractor *reddit.Extractor,
	responseCache *cache.Cache,
	store storage.Store,
	selector *selection.Engine,
	downloader *download.Downloader,
	opts ...Option,
) (*Pipeline, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if responseCache == nil {
		return nil, ErrCacheRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}
	if selector == nil {
		return nil, ErrSelectorRequired
	}
	if downloader == nil {
		return nil, ErrDownloaderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	detailPool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	// Create pipeline with defaults
	p := &Pipeline{
		client:      client,
		extractor:   extractor,
		cache:       responseCache,
		store:       store,
		selector:    selector,
		downloader:  downloader,
		detailPool:  detailPool,
		topComments: 3,
		downloadDir: "downloads/images",
		logger:      slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	if p.monitor == nil {
		p.monitor = NewLogMonitor(p.logger)
	}

	graph, err := p.buildGraph()
	if err != nil {
		p.Release()
		return nil, err
	}
	p.graph = graph

	return p, nil
}

// buildGraph registers the harvest stages. The three store stages hang off
// the shared detail batch; selection waits for all of them so candidates are
// computed over a consistent view.
func (p *Pipeline) buildGraph() (*Graph, error) {
	g := NewGraph()
	stages := []Stage{
		{Name: StageHotPosts, Run: p.runHotPosts},
		{Name: StageStorePosts, Deps: []string{StageHotPosts}, Run: p.runStorePosts},
		{Name: StagePostDetails, Deps: []string{StageStorePosts}, Run: p.runPostDetails},
		{Name: StageRefreshScores, Deps: []string{StagePostDetails}, Run: p.runRefreshScores},
		{Name: StageStoreComments, Deps: []string{StagePostDetails}, Run: p.runStoreComments},
		{Name: StageStoreImages, Deps: []string{StagePostDetails}, Run: p.runStoreImages},
		{Name: StageSelectCandidates, Deps: []string{StageRefreshScores, StageStoreComments, StageStoreImages}, Run: p.runSelectCandidates},
		{Name: StageDownloadImages, Deps: []string{StageSelectCandidates}, Run: p.runDownloadImages},
	}

	for _, s := range stages {
		if err := g.Add(s); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Run executes one full harvest pass and returns its report.
//
// A stage failure does not abort the pass; stages downstream of the failure
// are skipped and the rest still run. The returned error joins the errors of
// all failed stages, so a report is returned either way.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := p.graph.Run(ctx, p.monitor)

	if stats, err := p.store.Stats(ctx); err == nil {
		p.logger.Info("store totals",
			"posts", stats.Posts, "comments", stats.Comments,
			"image_refs", stats.ImageRefs, "downloaded", stats.Downloaded)
	}

	return report, report.Err()
}

// Release releases the detail worker pool. The pipeline must not be used
// after calling Release. Injected components are owned by the caller and
// stay open.
func (p *Pipeline) Release() {
	if p.detailPool != nil {
		p.detailPool.Release()
	}
}

// runHotPosts fetches the hot listing and extracts its posts. The listing is
// always fetched live; only detail responses go through the cache.
func (p *Pipeline) runHotPosts(ctx context.Context, _ Outputs) (any, error) {
	raw, err := p.client.FetchListing(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}

	posts, err := p.extractor.ListingPosts(raw)
	if err != nil {
		return nil, err
	}

	p.logger.Info("listing fetched", "posts", len(posts))
	return posts, nil
}

// runStorePosts persists the listed posts. Both timestamps start at the
// discovery time; posts already stored keep their original title and
// DiscoveredAt and only have their score refreshed.
func (p *Pipeline) runStorePosts(ctx context.Context, outs Outputs) (any, error) {
	posts := outs[StageHotPosts].([]core.Post)

	now := time.Now().UTC()
	batch := make([]*core.Post, 0, len(posts))
	for i := range posts {
		posts[i].DiscoveredAt = now
		posts[i].RefreshedAt = now
		if err := core.ValidatePost(&posts[i]); err != nil {
			p.logger.Warn("dropping invalid post", "post_id", posts[i].ID, "err", err)
			continue
		}
		batch = append(batch, &posts[i])
	}

	if err := p.store.UpsertPosts(ctx, batch...); err != nil {
		return nil, err
	}
	return len(batch), nil
}

// runPostDetails resolves the detail payload for every stored post, not just
// the posts listed this pass, so older posts keep accumulating comments and
// score refreshes until they fall out of the cache TTL rhythm.
//
// Failures are isolated per post: a post whose detail cannot be fetched or
// parsed is logged and skipped, and the rest of the pass proceeds.
func (p *Pipeline) runPostDetails(ctx context.Context, _ Outputs) (any, error) {
	ids, err := p.store.ListPostIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		batch detailBatch
	)

	var submitErr error
	for _, id := range ids {
		wg.Add(1)
		err := p.detailPool.Submit(func() {
			defer wg.Done()

			post, comments, images, err := p.fetchDetail(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.failed++
				p.logger.Warn("skipping post detail", "post_id", id, "err", err)
				return
			}
			batch.posts = append(batch.posts, post)
			batch.comments = append(batch.comments, comments...)
			batch.images = append(batch.images, images...)
		})
		if err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}
	wg.Wait()
	if submitErr != nil {
		return nil, submitErr
	}

	p.logger.Info("detail pass finished",
		"posts", len(batch.posts), "comments", len(batch.comments),
		"images", len(batch.images), "failed", batch.failed)
	return &batch, nil
}

// fetchDetail resolves one post's detail payload through the response cache
// and extracts the records the store stages need. The cache key is the
// request URL, so re-runs inside the TTL window cost no network call.
func (p *Pipeline) fetchDetail(ctx context.Context, postID string) (*core.Post, []*core.Comment, []*core.ImageRef, error) {
	url := p.client.DetailURL(postID)
	raw, err := p.cache.GetOrFetch(ctx, url, func(fctx context.Context) ([]byte, error) {
		return p.client.Fetch(fctx, url)
	})
	if err != nil {
		return nil, nil, nil, err
	}

	post, err := p.extractor.PostDetail(raw, postID)
	if err != nil {
		return nil, nil, nil, err
	}
	now := time.Now().UTC()
	post.DiscoveredAt = now
	post.RefreshedAt = now

	comments, err := p.extractor.Comments(raw, postID)
	if err != nil {
		return nil, nil, nil, err
	}
	kept := topByScore(comments, p.topComments)

	images, err := p.extractor.ImageRefs(raw, postID)
	if err != nil {
		return nil, nil, nil, err
	}
	refs := make([]*core.ImageRef, 0, len(images))
	for i := range images {
		refs = append(refs, &images[i])
	}

	return post, kept, refs, nil
}

// topByScore returns the n highest-scored comments, ties broken by id so
// repeated passes over the same payload keep the same set.
func topByScore(comments []core.Comment, n int) []*core.Comment {
	slices.SortFunc(comments, func(a, b core.Comment) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if n < len(comments) {
		comments = comments[:n]
	}
	kept := make([]*core.Comment, 0, len(comments))
	for i := range comments {
		kept = append(kept, &comments[i])
	}
	return kept
}

// runRefreshScores upserts the detail-pass posts, refreshing their scores.
// A detail post that fails validation is dropped with a warning so it cannot
// poison the batch transaction.
func (p *Pipeline) runRefreshScores(ctx context.Context, outs Outputs) (any, error) {
	batch := outs[StagePostDetails].(*detailBatch)

	valid := make([]*core.Post, 0, len(batch.posts))
	for _, post := range batch.posts {
		if err := core.ValidatePost(post); err != nil {
			p.logger.Warn("dropping invalid post refresh", "post_id", post.ID, "err", err)
			continue
		}
		valid = append(valid, post)
	}

	if err := p.store.UpsertPosts(ctx, valid...); err != nil {
		return nil, err
	}
	return len(valid), nil
}

// runStoreComments upserts the kept top comments from the detail pass.
func (p *Pipeline) runStoreComments(ctx context.Context, outs Outputs) (any, error) {
	batch := outs[StagePostDetails].(*detailBatch)

	valid := make([]*core.Comment, 0, len(batch.comments))
	for _, c := range batch.comments {
		if err := core.ValidateComment(c); err != nil {
			p.logger.Warn("dropping invalid comment", "comment_id", c.ID, "err", err)
			continue
		}
		valid = append(valid, c)
	}

	if err := p.store.UpsertComments(ctx, valid...); err != nil {
		return nil, err
	}
	return len(valid), nil
}

// runStoreImages upserts the image references from the detail pass.
func (p *Pipeline) runStoreImages(ctx context.Context, outs Outputs) (any, error) {
	batch := outs[StagePostDetails].(*detailBatch)

	valid := make([]*core.ImageRef, 0, len(batch.images))
	for _, ref := range batch.images {
		if err := core.ValidateImageRef(ref); err != nil {
			p.logger.Warn("dropping invalid image ref", "image_id", ref.ID, "err", err)
			continue
		}
		valid = append(valid, ref)
	}

	if err := p.store.UpsertImageRefs(ctx, valid...); err != nil {
		return nil, err
	}
	return len(valid), nil
}

// runSelectCandidates computes the pending references whose posts clear the
// configured thresholds.
func (p *Pipeline) runSelectCandidates(ctx context.Context, _ Outputs) (any, error) {
	return p.selector.Candidates(ctx)
}

// runDownloadImages transfers the selected references and marks each
// finished one in the store.
func (p *Pipeline) runDownloadImages(ctx context.Context, outs Outputs) (any, error) {
	refs := outs[StageSelectCandidates].([]*core.ImageRef)
	return p.downloader.DownloadAll(ctx, refs, p.downloadDir, p.markDownloaded)
}

// markDownloaded records a finished transfer. A reference already marked by
// an earlier run stays as it is; the downloaded transition happens at most
// once.
func (p *Pipeline) markDownloaded(ctx context.Context, ref *core.ImageRef, localPath string) error {
	err := p.store.MarkDownloaded(ctx, ref.ID, localPath)
	if errors.Is(err, storage.ErrAlreadyDownloaded) {
		p.logger.Debug("image already marked downloaded", "image_id", ref.ID)
		return nil
	}
	return err
}
