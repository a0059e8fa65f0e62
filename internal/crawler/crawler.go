package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Config holds the budgets of a crawl. It is decoupled from Viper so the
// crawler can be tested on its own.
type Config struct {
	MaxDepth          int
	MaxPagesPerDomain int
	MaxImages         int
	PageTimeout       time.Duration
	UserAgent         string
}

// DefaultConfig mirrors the limits the pipeline ships with.
func DefaultConfig() Config {
	return Config{
		MaxDepth:          5,
		MaxPagesPerDomain: 6,
		MaxImages:         200,
		PageTimeout:       15 * time.Second,
	}
}

// SeedResult summarizes the crawl of one seed.
type SeedResult struct {
	Seed         string
	PagesCrawled int
	PagesFailed  int
	Images       []string
}

// ImageFunc receives every newly discovered image URL in canonical form.
type ImageFunc func(imageURL string)

// Crawler walks a site breadth-first from a seed, one page at a time.
type Crawler struct {
	cfg      Config
	fetcher  Fetcher
	headless Fetcher
	detector HeadlessDetector
	robots   RobotsPolicy
	limiter  Limiter
	retry    RetryPolicy
	pauser   Pauser
	blocker  *hostBlocker
	blocked  *hostPatterns
	logger   *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithHeadless enables promotion of thin pages to a rendering fetcher.
func WithHeadless(fetcher Fetcher, detector HeadlessDetector) Option {
	return func(c *Crawler) {
		c.headless = fetcher
		c.detector = detector
	}
}

// WithRobots sets the robots policy.
func WithRobots(policy RobotsPolicy) Option {
	return func(c *Crawler) { c.robots = policy }
}

// WithLimiter sets the politeness limiter applied before each page fetch.
func WithLimiter(limiter Limiter) Option {
	return func(c *Crawler) { c.limiter = limiter }
}

// WithRetryPolicy sets the page fetch retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Crawler) { c.retry = policy }
}

// WithPauser replaces the timer used for retry backoff.
func WithPauser(pauser Pauser) Option {
	return func(c *Crawler) { c.pauser = pauser }
}

// WithBlockedHosts drops discovered images and links whose host matches
// one of patterns ("host" or "*.suffix").
func WithBlockedHosts(patterns []string) Option {
	return func(c *Crawler) { c.blocked = newHostPatterns(patterns) }
}

// New builds a Crawler.
func New(cfg Config, fetcher Fetcher, logger *zap.Logger, opts ...Option) *Crawler {
	defaults := DefaultConfig()
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = defaults.MaxDepth
	}
	if cfg.MaxPagesPerDomain <= 0 {
		cfg.MaxPagesPerDomain = defaults.MaxPagesPerDomain
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaults.MaxImages
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaults.PageTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		robots:  AllowAll{},
		retry:   NewFixedRetryPolicy(1, 0),
		pauser:  TimerPauser{},
		blocker: newHostBlocker(defaultForbiddenAttempts),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CrawlAll crawls each seed with a fresh frontier. Per-page failures are
// contained; only cancellation stops the run early.
func (c *Crawler) CrawlAll(ctx context.Context, seeds []string, onImage ImageFunc) ([]SeedResult, error) {
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}
	results := make([]SeedResult, 0, len(seeds))
	for _, seed := range seeds {
		res, err := c.Crawl(ctx, seed, onImage)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Crawl runs a breadth-first crawl from seed until the queue drains or a budget is hit.
func (c *Crawler) Crawl(ctx context.Context, seed string, onImage ImageFunc) (SeedResult, error) {
	result := SeedResult{Seed: seed}
	frontier := NewFrontier(seed)
	seedURL := Canonicalize(seed)
	logger := c.logger.With(zap.String("seed", seedURL))
	logger.Info("starting seed crawl")

	for {
		if err := ctx.Err(); err != nil {
			result.Images = frontier.Images()
			return result, fmt.Errorf("crawl %s: %w", seedURL, err)
		}
		if result.PagesCrawled >= c.cfg.MaxPagesPerDomain || frontier.ImageCount() >= c.cfg.MaxImages {
			break
		}
		task, ok := frontier.Pop()
		if !ok {
			break
		}
		if frontier.Visited(task.URL) || task.Depth > c.cfg.MaxDepth {
			continue
		}
		if !c.robots.Allowed(ctx, task.URL) {
			frontier.MarkVisited(task.URL)
			logger.Debug("page disallowed by robots", zap.String("url", task.URL))
			continue
		}
		host := hostOf(task.URL)
		if c.blocker.IsBlocked(host) {
			logger.Warn("host blocked after repeated refusals", zap.String("host", host))
			break
		}

		frontier.MarkVisited(task.URL)
		result.PagesCrawled++
		logger.Info("crawling page",
			zap.String("url", task.URL),
			zap.Int("depth", task.Depth),
			zap.Int("page", result.PagesCrawled),
			zap.Int("max_pages", c.cfg.MaxPagesPerDomain),
		)

		resp, err := c.fetchPage(ctx, task)
		if err != nil {
			result.PagesFailed++
			c.noteRefusal(host, err)
			logger.Warn("page fetch failed", zap.String("url", task.URL), zap.Error(err))
			continue
		}
		c.expand(frontier, task, seedURL, resp, onImage, logger)
	}

	result.Images = frontier.Images()
	logger.Info("seed crawl complete",
		zap.Int("pages_crawled", result.PagesCrawled),
		zap.Int("pages_failed", result.PagesFailed),
		zap.Int("images", len(result.Images)),
	)
	return result, nil
}

func (c *Crawler) expand(
	frontier *Frontier,
	task CrawlTask,
	seedURL string,
	resp FetchResponse,
	onImage ImageFunc,
	logger *zap.Logger,
) {
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = task.URL
	}
	links, err := ExtractLinks(pageURL, resp.Body)
	if err != nil {
		logger.Warn("page parse failed", zap.String("url", task.URL), zap.Error(err))
		return
	}

	found := 0
	for _, img := range links.Images {
		if frontier.ImageCount() >= c.cfg.MaxImages {
			break
		}
		if !IsImageURL(img) || c.blocked.Matches(img) || !frontier.AddImage(img) {
			continue
		}
		found++
		if onImage != nil {
			onImage(img)
		}
	}

	queued := 0
	if task.Depth < c.cfg.MaxDepth {
		for _, link := range links.Links {
			if !SameHost(link, seedURL) || !IsPageURL(link) || c.blocked.Matches(link) || frontier.Visited(link) {
				continue
			}
			frontier.Push(CrawlTask{URL: link, Depth: task.Depth + 1})
			queued++
		}
	}
	logger.Debug("page expanded",
		zap.String("url", task.URL),
		zap.Int("images_found", found),
		zap.Int("links_queued", queued),
	)
}

func (c *Crawler) fetchPage(ctx context.Context, task CrawlTask) (FetchResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, task.URL); err != nil {
			return FetchResponse{}, fmt.Errorf("politeness wait: %w", err)
		}
	}
	for attempt := 1; ; attempt++ {
		resp, err := c.fetchOnce(ctx, task)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !c.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, err
		}
		c.logger.Debug("retrying page fetch", zap.String("url", task.URL), zap.Int("attempt", attempt), zap.Error(err))
		c.pauser.Pause(ctx, c.retry.Backoff(attempt))
	}
}

func (c *Crawler) fetchOnce(ctx context.Context, task CrawlTask) (FetchResponse, error) {
	pageCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	req := FetchRequest{URL: task.URL, Depth: task.Depth}
	if c.cfg.UserAgent != "" {
		req.Headers = http.Header{"User-Agent": {c.cfg.UserAgent}}
	}
	resp, err := c.fetcher.Fetch(pageCtx, req)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("fetch page: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return FetchResponse{}, &HTTPStatusError{URL: task.URL, StatusCode: resp.StatusCode}
	}
	if c.headless == nil || c.detector == nil || !c.detector.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := c.headless.Fetch(pageCtx, req)
	if err != nil {
		c.logger.Warn("headless render failed; keeping plain fetch", zap.String("url", task.URL), zap.Error(err))
		return resp, nil
	}
	c.logger.Debug("headless promotion applied", zap.String("url", task.URL))
	return rendered, nil
}

func (c *Crawler) noteRefusal(host string, err error) {
	var status *HTTPStatusError
	if !errors.As(err, &status) {
		return
	}
	if status.StatusCode == http.StatusForbidden || status.StatusCode == http.StatusTooManyRequests {
		c.blocker.MarkForbidden(host)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
