package download

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const testHash = "0123456789abcdef0123456789abcdef"

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func (p *recordingPauser) calls() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.delays...)
}

func pngBytes(t *testing.T, w, h int, transparent bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBA{R: 200, G: 30, B: 30, A: 255}
			if transparent && x < w/2 {
				c.A = 0
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 20, G: 40, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func serveBytes(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}
}

func newTestDownloader(t *testing.T, cfg Config, opts ...Option) *Downloader {
	t.Helper()
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	opts = append([]Option{
		WithPauser(&recordingPauser{}),
		WithRetryPolicy(crawler.NewFixedRetryPolicy(3, time.Second)),
	}, opts...)
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	return d
}

func tempEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetchAcceptsAndRejectsByDimension(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.Handle("/a.jpg", serveBytes("image/jpeg", jpegBytes(t, 400, 600)))
	mux.Handle("/b.jpg", serveBytes("image/jpeg", jpegBytes(t, 40, 40)))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDownloader(t, Config{})

	artifact, err := d.Fetch(context.Background(), srv.URL+"/a.jpg", testHash)
	require.NoError(t, err)
	assert.Equal(t, 400, artifact.Width)
	assert.Equal(t, 600, artifact.Height)
	assert.Equal(t, testHash, artifact.Hash)
	assert.Equal(t, "ycbcr", artifact.ColorMode)
	assert.Equal(t, filepath.Dir(artifact.Path), d.TempDir())
	assert.Equal(t, ".jpg", filepath.Ext(artifact.Path))
	assert.Positive(t, artifact.Bytes)

	_, err = d.Fetch(context.Background(), srv.URL+"/b.jpg", testHash)
	require.ErrorIs(t, err, ErrTooSmall)
	assert.True(t, crawler.IsPermanent(err))

	assert.Equal(t, []string{filepath.Base(artifact.Path)}, tempEntries(t, d.TempDir()),
		"only the accepted artifact may remain")
}

func TestFetchRetriesTimeoutsThenSucceeds(t *testing.T) {
	t.Parallel()

	body := jpegBytes(t, 200, 200)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		serveBytes("image/jpeg", body)(w, r)
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	d := newTestDownloader(t, Config{Timeout: 100 * time.Millisecond}, WithPauser(pauser))

	artifact, err := d.Fetch(context.Background(), srv.URL+"/slow.jpg", testHash)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, pauser.calls())
	assert.Equal(t, 200, artifact.Width)
}

func TestFetchAbandonsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := newTestDownloader(t, Config{Timeout: 50 * time.Millisecond})
	_, err := d.Fetch(context.Background(), srv.URL+"/never.jpg", testHash)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(3), hits.Load())
	assert.Empty(t, tempEntries(t, d.TempDir()))
}

func TestFetchServerErrorsAreTransient(t *testing.T) {
	t.Parallel()

	body := pngBytes(t, 150, 150, false)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		serveBytes("image/png", body)(w, r)
	}))
	defer srv.Close()

	d := newTestDownloader(t, Config{})
	_, err := d.Fetch(context.Background(), srv.URL+"/x.png", testHash)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	d := newTestDownloader(t, Config{})
	_, err := d.Fetch(context.Background(), srv.URL+"/gone.jpg", testHash)
	var status *crawler.HTTPStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchValidationFailures(t *testing.T) {
	t.Parallel()

	tooBig := bytes.Repeat([]byte{0xff}, 2048)
	mux := http.NewServeMux()
	mux.Handle("/declared-large.jpg", serveBytes("image/jpeg", tooBig))
	mux.HandleFunc("/chunked-large.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		for range 4 {
			_, _ = w.Write(tooBig)
			w.(http.Flusher).Flush()
		}
	})
	mux.Handle("/page.html", serveBytes("text/html; charset=utf-8", []byte("<html></html>")))
	mux.Handle("/corrupt.jpg", serveBytes("image/jpeg", []byte("definitely not a jpeg")))

	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDownloader(t, Config{MaxBytes: 1024})
	cases := map[string]error{
		"/declared-large.jpg": ErrTooLarge,
		"/chunked-large.jpg":  ErrTooLarge,
		"/page.html":          ErrNotImage,
		"/corrupt.jpg":        ErrCorrupt,
	}
	for path, want := range cases {
		_, err := d.Fetch(context.Background(), srv.URL+path, testHash)
		require.ErrorIs(t, err, want, path)
		assert.True(t, crawler.IsPermanent(err), path)
	}
	assert.Empty(t, tempEntries(t, d.TempDir()))
}

func TestFetchDownscalesAndFlattens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(serveBytes("", pngBytes(t, 600, 300, true)))
	defer srv.Close()

	d := newTestDownloader(t, Config{MinDimension: 50, MaxDimension: 300})
	artifact, err := d.Fetch(context.Background(), srv.URL+"/wide.png", testHash)
	require.NoError(t, err)
	assert.Equal(t, 300, artifact.Width)
	assert.Equal(t, 150, artifact.Height)
	assert.Equal(t, "rgba", artifact.ColorMode)

	f, err := os.Open(artifact.Path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	// The transparent left half must come out white, not black.
	r, g, b, _ := img.At(10, 75).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(serveBytes("image/png", pngBytes(t, 120, 120, false)))
	defer srv.Close()

	d := newTestDownloader(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Fetch(ctx, srv.URL+"/x.png", testHash)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
	assert.Empty(t, tempEntries(t, d.TempDir()))
}

func TestSweepRemovesStaleFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.part", "b.jpg", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	d := newTestDownloader(t, Config{TempDir: dir})
	removed, err := d.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"keep.txt"}, tempEntries(t, dir))
}

func TestNewRejectsInvertedBounds(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MinDimension: 500, MaxDimension: 100, TempDir: t.TempDir()})
	require.Error(t, err)
}

func TestImageContentType(t *testing.T) {
	t.Parallel()

	assert.True(t, imageContentType(""))
	assert.True(t, imageContentType("image/webp"))
	assert.True(t, imageContentType("application/octet-stream"))
	assert.False(t, imageContentType("text/html; charset=utf-8"))
	assert.False(t, imageContentType("not a / type;;"))
}
