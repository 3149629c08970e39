package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neels-v-Wyk/EntoMLgist/cache"
	"github.com/Neels-v-Wyk/EntoMLgist/download"
	"github.com/Neels-v-Wyk/EntoMLgist/reddit"
	"github.com/Neels-v-Wyk/EntoMLgist/selection"
	"github.com/Neels-v-Wyk/EntoMLgist/storage/memstore"
)

// The fixture serves a two-post collection: "strong" clears the default test
// thresholds and carries a two-image gallery, "weak" clears neither.
const strongDetail = `[
	{"data": {"children": [{"kind": "t3", "data": {
		"id": "strong", "title": "Big green beetle", "ups": 12,
		"media_metadata": {
			"img1": {"e": "Image", "s": {"u": "%s/images/strong-a.png"}},
			"img2": {"e": "Image", "s": {"u": "%s/images/strong-b.png"}}
		}
	}}]}},
	{"data": {"children": [
		{"kind": "t1", "data": {"id": "s1", "author": "alice", "body": "Fig beetle.", "ups": 9}},
		{"kind": "t1", "data": {"id": "s2", "author": "bob", "body": "Cotinis mutabilis.", "ups": 7}},
		{"kind": "t1", "data": {"id": "s3", "author": "carol", "body": "They show up every July.", "ups": 4}},
		{"kind": "t1", "data": {"id": "s4", "author": "dave", "body": "Nice photo.", "ups": 1}},
		{"kind": "t1", "data": {"id": "s5", "author": "AutoModerator", "body": "Include a location.", "ups": 40}},
		{"kind": "more", "data": {"count": 3}}
	]}}
]`

const weakDetail = `[
	{"data": {"children": [{"kind": "t3", "data": {
		"id": "weak", "title": "Tiny speck on the wall", "ups": 2,
		"media_metadata": {
			"w1": {"e": "Image", "s": {"u": "%s/images/weak-a.png"}}
		}
	}}]}},
	{"data": {"children": [
		{"kind": "t1", "data": {"id": "w1c", "author": "erin", "body": "Dust mite.", "ups": 2}}
	]}}
]`

type fixture struct {
	srv *httptest.Server
	png []byte

	failListing bool
	breakDetail string

	mu   sync.Mutex
	hits map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{hits: make(map[string]int), png: pngBytes(t)}

	mux := http.NewServeMux()
	mux.HandleFunc("/r/bugid/hot.json", f.handleListing)
	mux.HandleFunc("/r/bugid/comments/", f.handleDetail)
	mux.HandleFunc("/images/", f.handleImage)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func (f *fixture) record(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[path]++
}

func (f *fixture) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fixture) handleListing(w http.ResponseWriter, r *http.Request) {
	f.record(r.URL.Path)
	if f.failListing {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fmt.Fprint(w, `{"data": {"children": [
		{"kind": "t3", "data": {"id": "strong", "title": "Big green beetle", "ups": 10}},
		{"kind": "t3", "data": {"id": "weak", "title": "Tiny speck on the wall", "ups": 1}}
	]}}`)
}

func (f *fixture) handleDetail(w http.ResponseWriter, r *http.Request) {
	f.record(r.URL.Path)
	id := strings.TrimSuffix(path.Base(r.URL.Path), ".json")
	if id == f.breakDetail {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch id {
	case "strong":
		fmt.Fprintf(w, strongDetail, f.srv.URL, f.srv.URL)
	case "weak":
		fmt.Fprintf(w, weakDetail, f.srv.URL)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fixture) handleImage(w http.ResponseWriter, r *http.Request) {
	f.record(r.URL.Path)
	w.Write(f.png)
}

type testEnv struct {
	store    *memstore.Store
	pipeline *Pipeline
	dir      string
}

// newTestEnv wires a full pipeline against the fixture: real client,
// extractor, in-memory badger cache, in-memory store and a real downloader.
func newTestEnv(t *testing.T, f *fixture, extra ...Option) *testEnv {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := reddit.NewClient(reddit.NewConfig(
		reddit.WithBaseURL(f.srv.URL),
		reddit.WithCollection("bugid"),
		reddit.WithRequestDelay(0),
		reddit.WithBackoff(5*time.Millisecond, 20*time.Millisecond),
		reddit.WithListingLimit(10),
	), reddit.WithLogger(lg))
	require.NoError(t, err)

	extractor := reddit.NewExtractor([]string{"AutoModerator"}, lg)

	backend, err := cache.OpenBackend("", true, lg)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	responseCache, err := cache.New(backend, time.Hour, lg)
	require.NoError(t, err)

	store := memstore.NewStore()
	t.Cleanup(func() { store.Close() })

	selector, err := selection.NewEngine(store, selection.NewConfig(
		selection.WithMinScore(5),
		selection.WithMinComments(2),
	), selection.WithLogger(lg))
	require.NoError(t, err)

	downloader, err := download.NewDownloader(download.NewConfig(
		download.WithRetry(2, 5*time.Millisecond),
		download.WithConcurrency(2),
	), download.WithLogger(lg), download.WithProgressWriter(io.Discard))
	require.NoError(t, err)
	t.Cleanup(downloader.Release)

	dir := t.TempDir()
	opts := append([]Option{
		WithDownloadDir(dir),
		WithDetailPoolSize(2),
		WithLogger(lg),
	}, extra...)

	p, err := NewPipeline(client, extractor, responseCache, store, selector, downloader, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	return &testEnv{store: store, pipeline: p, dir: dir}
}

func downloadedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPipeline_Run_HarvestsAndDownloads(t *testing.T) {
	f := newFixture(t)
	env := newTestEnv(t, f)
	ctx := context.Background()

	report, err := env.pipeline.Run(ctx)
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.Equal(t, StatusSucceeded, res.Status, "stage %s", res.Name)
	}

	strong, err := env.store.GetPost(ctx, "strong")
	require.NoError(t, err)
	assert.Equal(t, "Big green beetle", strong.Title)
	assert.Equal(t, int64(12), strong.Score, "the detail pass should refresh the listing score")

	weak, err := env.store.GetPost(ctx, "weak")
	require.NoError(t, err)
	assert.Equal(t, int64(2), weak.Score)

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Posts)
	assert.Equal(t, int64(4), stats.Comments, "bot comment dropped, top three of four kept, plus one on weak")
	assert.Equal(t, int64(3), stats.ImageRefs)
	assert.Equal(t, int64(2), stats.Downloaded, "only the qualifying post's images should download")

	assert.ElementsMatch(t, []string{"strong-img1.png", "strong-img2.png"}, downloadedFiles(t, env.dir))

	assert.Equal(t, 1, f.count("/r/bugid/hot.json"))
	assert.Equal(t, 1, f.count("/r/bugid/comments/strong.json"))
	assert.Equal(t, 1, f.count("/r/bugid/comments/weak.json"))
	assert.Equal(t, 1, f.count("/images/strong-a.png"))
	assert.Equal(t, 1, f.count("/images/strong-b.png"))
	assert.Equal(t, 0, f.count("/images/weak-a.png"))
}

func TestPipeline_Run_RerunHitsCacheAndSkipsDownloaded(t *testing.T) {
	f := newFixture(t)
	env := newTestEnv(t, f)
	ctx := context.Background()

	_, err := env.pipeline.Run(ctx)
	require.NoError(t, err)
	_, err = env.pipeline.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, f.count("/r/bugid/hot.json"), "the listing is fetched live every pass")
	assert.Equal(t, 1, f.count("/r/bugid/comments/strong.json"), "detail responses resolve from the cache inside the TTL")
	assert.Equal(t, 1, f.count("/r/bugid/comments/weak.json"))
	assert.Equal(t, 1, f.count("/images/strong-a.png"), "finished downloads are never repeated")
	assert.Equal(t, 1, f.count("/images/strong-b.png"))

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Posts)
	assert.Equal(t, int64(4), stats.Comments)
	assert.Equal(t, int64(3), stats.ImageRefs)
	assert.Equal(t, int64(2), stats.Downloaded)

	assert.ElementsMatch(t, []string{"strong-img1.png", "strong-img2.png"}, downloadedFiles(t, env.dir))
}

func TestPipeline_Run_DetailFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.breakDetail = "strong"
	env := newTestEnv(t, f)
	ctx := context.Background()

	report, err := env.pipeline.Run(ctx)
	require.NoError(t, err, "one broken detail should not fail the pass")
	for _, res := range report.Results {
		assert.Equal(t, StatusSucceeded, res.Status, "stage %s", res.Name)
	}

	strong, err := env.store.GetPost(ctx, "strong")
	require.NoError(t, err)
	assert.Equal(t, int64(10), strong.Score, "the listing score should stand when the detail fetch fails")

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Posts)
	assert.Equal(t, int64(1), stats.Comments, "only the intact post contributes records")
	assert.Equal(t, int64(1), stats.ImageRefs)
	assert.Equal(t, int64(0), stats.Downloaded)
}

func TestPipeline_Run_ListingFailureSkipsDownstream(t *testing.T) {
	f := newFixture(t)
	f.failListing = true
	env := newTestEnv(t, f)

	report, err := env.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, reddit.ErrPermanentFetch)

	res, ok := report.Result(StageHotPosts)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, res.Status)

	res, ok = report.Result(StageStorePosts)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, StageHotPosts, res.BlockedOn)

	res, ok = report.Result(StageDownloadImages)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, res.Status)

	stats, err := env.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Posts)
}

func TestPipeline_Run_TopCommentsZeroKeepsNone(t *testing.T) {
	f := newFixture(t)
	env := newTestEnv(t, f, WithTopComments(0))
	ctx := context.Background()

	_, err := env.pipeline.Run(ctx)
	require.NoError(t, err)

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Comments)
	assert.Zero(t, stats.Downloaded, "no post clears the comment threshold when none are kept")
}

func TestNewPipeline_Validation(t *testing.T) {
	f := newFixture(t)
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := reddit.NewClient(reddit.NewConfig(reddit.WithBaseURL(f.srv.URL)))
	require.NoError(t, err)
	extractor := reddit.NewExtractor(nil, lg)

	backend, err := cache.OpenBackend("", true, lg)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	responseCache, err := cache.New(backend, time.Hour, lg)
	require.NoError(t, err)

	store := memstore.NewStore()
	t.Cleanup(func() { store.Close() })

	selector, err := selection.NewEngine(store, nil)
	require.NoError(t, err)

	downloader, err := download.NewDownloader(nil)
	require.NoError(t, err)
	t.Cleanup(downloader.Release)

	tests := []struct {
		name string
		run  func() (*Pipeline, error)
		want error
	}{
		{name: "nil client", run: func() (*Pipeline, error) {
			return NewPipeline(nil, extractor, responseCache, store, selector, downloader)
		}, want: ErrClientRequired},
		{name: "nil extractor", run: func() (*Pipeline, error) {
			return NewPipeline(client, nil, responseCache, store, selector, downloader)
		}, want: ErrExtractorRequired},
		{name: "nil cache", run: func() (*Pipeline, error) {
			return NewPipeline(client, extractor, nil, store, selector, downloader)
		}, want: ErrCacheRequired},
		{name: "nil store", run: func() (*Pipeline, error) {
			return NewPipeline(client, extractor, responseCache, nil, selector, downloader)
		}, want: ErrStoreRequired},
		{name: "nil selector", run: func() (*Pipeline, error) {
			return NewPipeline(client, extractor, responseCache, store, nil, downloader)
		}, want: ErrSelectorRequired},
		{name: "nil downloader", run: func() (*Pipeline, error) {
			return NewPipeline(client, extractor, responseCache, store, selector, nil)
		}, want: ErrDownloaderRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.run()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
