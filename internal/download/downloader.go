// Package download fetches discovered image URLs and normalizes them into
// uniform JPEG artifacts in a temporary directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Validation sentinels. They are always wrapped with crawler.Permanent so a
// retry policy never spends attempts on them.
var (
	ErrTooLarge = errors.New("image exceeds size ceiling")
	ErrTooSmall = errors.New("image below minimum dimension")
	ErrNotImage = errors.New("response is not an image")
	ErrCorrupt  = errors.New("image does not decode")
)

// ErrRetriesExhausted is returned once transient failures use up the attempt budget.
var ErrRetriesExhausted = errors.New("download retries exhausted")

const (
	partSuffix  = ".part"
	imageSuffix = ".jpg"
)

// Config bounds a single image download.
type Config struct {
	Timeout      time.Duration
	MaxBytes     int64
	MinDimension int
	MaxDimension int
	JPEGQuality  int
	UserAgent    string
	TempDir      string
}

// DefaultConfig returns the limits the pipeline ships with.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		MaxBytes:     10 << 20,
		MinDimension: 100,
		MaxDimension: 2000,
		JPEGQuality:  95,
	}
}

// Downloader fetches one image at a time; callers run several for parallelism.
type Downloader struct {
	cfg    Config
	client *http.Client
	retry  crawler.RetryPolicy
	pauser crawler.Pauser
	logger *zap.Logger
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) { d.client = client }
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(policy crawler.RetryPolicy) Option {
	return func(d *Downloader) { d.retry = policy }
}

// WithPauser replaces the backoff sleeper.
func WithPauser(pauser crawler.Pauser) Option {
	return func(d *Downloader) { d.pauser = pauser }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Downloader) { d.logger = logger }
}

// New validates cfg, creates the temp directory and builds a Downloader.
func New(cfg Config, opts ...Option) (*Downloader, error) {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}
	if cfg.MinDimension <= 0 {
		cfg.MinDimension = defaults.MinDimension
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = defaults.MaxDimension
	}
	if cfg.MinDimension > cfg.MaxDimension {
		return nil, fmt.Errorf("min dimension %d exceeds max dimension %d", cfg.MinDimension, cfg.MaxDimension)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = defaults.JPEGQuality
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	d := &Downloader{
		cfg:    cfg,
		client: &http.Client{Transport: newHTTPTransport()},
		retry:  crawler.NewFixedRetryPolicy(3, time.Second),
		pauser: crawler.TimerPauser{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d, nil
}

// TempDir returns the directory artifacts are written to.
func (d *Downloader) TempDir() string {
	return d.cfg.TempDir
}

// Fetch downloads rawURL and returns a normalized artifact. hash names the
// temp files; the artifact is owned by the caller, who must move or remove it.
// No temp file survives an error return.
func (d *Downloader) Fetch(ctx context.Context, rawURL, hash string) (crawler.DownloadedArtifact, error) {
	start := time.Now()
	defer func() { metrics.ObserveDownloadDuration(time.Since(start)) }()

	for attempt := 1; ; attempt++ {
		artifact, err := d.attempt(ctx, rawURL, hash)
		if err == nil {
			metrics.ObserveDownloadAttempt("ok")
			return artifact, nil
		}
		metrics.ObserveDownloadAttempt(attemptLabel(err))

		if ctx.Err() != nil {
			return crawler.DownloadedArtifact{}, fmt.Errorf("download %s: %w", rawURL, ctx.Err())
		}
		if crawler.IsPermanent(err) {
			return crawler.DownloadedArtifact{}, err
		}
		if !d.retry.ShouldRetry(err, attempt) {
			return crawler.DownloadedArtifact{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		d.logger.Debug("retrying image download",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		d.pauser.Pause(ctx, d.retry.Backoff(attempt))
	}
}

func (d *Downloader) attempt(ctx context.Context, rawURL, hash string) (crawler.DownloadedArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return crawler.DownloadedArtifact{}, crawler.Permanent(fmt.Errorf("build request: %w", err))
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return crawler.DownloadedArtifact{}, fmt.Errorf("get image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return crawler.DownloadedArtifact{}, &crawler.HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > d.cfg.MaxBytes {
		return crawler.DownloadedArtifact{}, crawler.Permanent(
			fmt.Errorf("%w: content-length %d > %d", ErrTooLarge, resp.ContentLength, d.cfg.MaxBytes))
	}
	if ct := resp.Header.Get("Content-Type"); !imageContentType(ct) {
		return crawler.DownloadedArtifact{}, crawler.Permanent(fmt.Errorf("%w: content-type %q", ErrNotImage, ct))
	}

	partPath, size, err := d.spool(resp.Body, hash)
	if err != nil {
		return crawler.DownloadedArtifact{}, err
	}
	defer removeQuietly(partPath)

	artifact, err := d.normalize(partPath, hash)
	if err != nil {
		return crawler.DownloadedArtifact{}, err
	}
	artifact.URL = rawURL
	artifact.Hash = hash
	artifact.ContentLength = resp.ContentLength
	if artifact.ContentLength < 0 {
		artifact.ContentLength = size
	}
	return artifact, nil
}

// spool streams body to a .part file, enforcing the byte ceiling even when
// Content-Length was absent or wrong.
func (d *Downloader) spool(body io.Reader, hash string) (string, int64, error) {
	f, err := os.CreateTemp(d.cfg.TempDir, tempPrefix(hash)+"*"+partSuffix)
	if err != nil {
		return "", 0, fmt.Errorf("create part file: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(body, d.cfg.MaxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		removeQuietly(f.Name())
		return "", 0, fmt.Errorf("read image body: %w", copyErr)
	case closeErr != nil:
		removeQuietly(f.Name())
		return "", 0, fmt.Errorf("close part file: %w", closeErr)
	case n > d.cfg.MaxBytes:
		removeQuietly(f.Name())
		return "", 0, crawler.Permanent(fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, d.cfg.MaxBytes))
	case n == 0:
		removeQuietly(f.Name())
		return "", 0, errors.New("empty image body")
	}
	return f.Name(), n, nil
}

// Sweep removes temp files left behind by an earlier crashed run.
func (d *Downloader) Sweep() (int, error) {
	entries, err := os.ReadDir(d.cfg.TempDir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, partSuffix) || strings.HasSuffix(name, imageSuffix)) {
			continue
		}
		if err := os.Remove(filepath.Join(d.cfg.TempDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove stale temp file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func imageContentType(header string) bool {
	if header == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return true
	case mediaType == "application/octet-stream", mediaType == "binary/octet-stream":
		return true
	default:
		return false
	}
}

func attemptLabel(err error) string {
	var netErr net.Error
	var status *crawler.HTTPStatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &status):
		return "http_" + strconv.Itoa(status.StatusCode)
	case crawler.IsPermanent(err):
		return "invalid"
	default:
		return "error"
	}
}

func tempPrefix(hash string) string {
	if len(hash) > 16 {
		hash = hash[:16]
	}
	if hash == "" {
		return "img-"
	}
	return hash + "-"
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		zap.L().Warn("failed to remove temp file", zap.String("path", path), zap.Error(err))
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
