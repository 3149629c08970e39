package download

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neels-v-Wyk/EntoMLgist/core"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, G: 30, B: 30, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestDownloader(t *testing.T, opts ...ConfigOption) *Downloader {
	t.Helper()

	base := []ConfigOption{
		WithRetry(3, 5*time.Millisecond),
		WithConcurrency(2),
		WithReportEvery(1),
	}
	cfg := NewConfig(append(base, opts...)...)

	d, err := NewDownloader(cfg, WithProgressWriter(io.Discard))
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func newImageServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testRef(id, postID, url, ext string) *core.ImageRef {
	return &core.ImageRef{ID: id, PostID: postID, URL: url, Extension: ext}
}

func TestDownloader_Success(t *testing.T) {
	payload := pngBytes(t)
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	d := newTestDownloader(t)
	dir := t.TempDir()

	path, err := d.Download(context.Background(), testRef("img1", "p1", srv.URL+"/img.png", "png"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "p1-img1.png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err), "no partial file should remain")
}

func TestDownloader_CorruptPayloadRejected(t *testing.T) {
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("these bytes are not an image"))
	})

	d := newTestDownloader(t)
	dir := t.TempDir()

	_, err := d.Download(context.Background(), testRef("img1", "p1", srv.URL+"/img.png", "png"), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected payload must leave nothing behind")
}

func TestDownloader_FormatMismatchRejected(t *testing.T) {
	payload := pngBytes(t)
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	d := newTestDownloader(t)
	dir := t.TempDir()

	// The reference claims jpg but the host serves png bytes.
	_, err := d.Download(context.Background(), testRef("img1", "p1", srv.URL+"/photo.jpg", "jpg"), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloader_PermanentFailureNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})

	d := newTestDownloader(t)

	_, err := d.Download(context.Background(), testRef("img1", "p1", srv.URL+"/gone.png", "png"), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanentTransfer)
	assert.Equal(t, int32(1), hits.Load(), "404 must not be retried")
}

func TestDownloader_RetriesTransientFailures(t *testing.T) {
	payload := pngBytes(t)
	var hits atomic.Int32
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(payload)
	})

	d := newTestDownloader(t)
	dir := t.TempDir()

	path, err := d.Download(context.Background(), testRef("img1", "p1", srv.URL+"/img.png", "png"), dir)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load(), "should succeed on the third attempt")

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestDownloader_TooLarge(t *testing.T) {
	payload := pngBytes(t)
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	d := newTestDownloader(t, WithMaxBytes(16))
	dir := t.TempDir()

	_, err := d.Download(context.Background(), testRef("img1", "p1", srv.URL+"/big.png", "png"), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "oversized payload must leave nothing behind")
}

func TestDownloader_UnescapesStoredURL(t *testing.T) {
	payload := pngBytes(t)
	var gotQuery string
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write(payload)
	})

	d := newTestDownloader(t)

	// Extraction stores URLs with their HTML entities intact.
	ref := testRef("img1", "p1", srv.URL+"/img.png?width=640&amp;s=abc123", "png")
	_, err := d.Download(context.Background(), ref, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "width=640&s=abc123", gotQuery)
}

func TestDownloader_SendsBrowserHeaders(t *testing.T) {
	payload := pngBytes(t)
	var got http.Header
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write(payload)
	})

	d := newTestDownloader(t)

	_, err := d.Download(context.Background(), testRef("img1", "p1", srv.URL+"/img.png", "png"), t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig()
	assert.Equal(t, cfg.UserAgent, got.Get("User-Agent"))
	assert.Equal(t, cfg.Referer, got.Get("Referer"))
	assert.Equal(t, cfg.Accept, got.Get("Accept"))
	assert.Equal(t, cfg.AcceptLanguage, got.Get("Accept-Language"))
}

func TestDownloadAll_IsolatesFailures(t *testing.T) {
	payload := pngBytes(t)
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	})

	d := newTestDownloader(t)
	dir := t.TempDir()

	refs := []*core.ImageRef{
		testRef("ok1", "p1", srv.URL+"/a.png", "png"),
		testRef("bad", "p1", srv.URL+"/missing.png", "png"),
		testRef("ok2", "p2", srv.URL+"/b.png", "png"),
	}

	var mu sync.Mutex
	var marked []string
	mark := func(ctx context.Context, ref *core.ImageRef, localPath string) error {
		mu.Lock()
		defer mu.Unlock()
		marked = append(marked, ref.ID)
		return nil
	}

	res, err := d.DownloadAll(context.Background(), refs, dir, mark)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"ok1", "ok2"}, marked)

	_, err = os.Stat(filepath.Join(dir, "p1-ok1.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "p2-ok2.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "p1-bad.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadAll_MarkErrorNotFatal(t *testing.T) {
	payload := pngBytes(t)
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	d := newTestDownloader(t)

	mark := func(ctx context.Context, ref *core.ImageRef, localPath string) error {
		return assert.AnError
	}

	res, err := d.DownloadAll(context.Background(),
		[]*core.ImageRef{testRef("img1", "p1", srv.URL+"/img.png", "png")},
		t.TempDir(), mark)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 0, res.Failed)
}

func TestDownloadAll_EmptyBatch(t *testing.T) {
	d := newTestDownloader(t)

	res, err := d.DownloadAll(context.Background(), nil, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)
	assert.Equal(t, 0, res.Downloaded)
	assert.Equal(t, 0, res.Failed)
}
