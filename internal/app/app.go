// Package app builds the long-lived pipeline services from configuration and
// owns their shutdown. Commands construct one App per invocation.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/collaborator"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/coordinator"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dedup"
	"github.com/JakeFAU/catalog-crawler/internal/download"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/handoff"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

// CrawlSummary totals a crawl pass.
type CrawlSummary struct {
	Seeds        int
	PagesCrawled int
	PagesFailed  int
	Images       int
}

// App holds the services shared by one command invocation.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	runID   string
	clock   crawler.Clock
	tracker *api.Tracker
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New tags the logger with a fresh run ID and prepares the status tracker.
// Stores are opened lazily by the pass that needs them.
func New(cfg config.Config, logger *zap.Logger, command string) (*App, error) {
	return newWithIDs(cfg, logger, command, uuid.New())
}

func newWithIDs(cfg config.Config, logger *zap.Logger, command string, ids crawler.IDGenerator) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	metrics.Init()

	clock := system.New()
	return &App{
		cfg:     cfg,
		logger:  logging.ForRun(logger, command, runID),
		runID:   runID,
		clock:   clock,
		tracker: api.NewTracker(runID, command, clock),
	}, nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID returns the identifier stamped on every log line of this run.
func (a *App) RunID() string { return a.runID }

// Tracker returns the status tracker served on /v1/status.
func (a *App) Tracker() *api.Tracker { return a.tracker }

// StartServer runs the operator HTTP listener in the background when
// metrics.addr is set. It stops when ctx is done.
func (a *App) StartServer(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	srv := api.NewServer(a.tracker, a.logger.Named("api"))
	go func() {
		if err := srv.Serve(ctx, addr); err != nil {
			a.logger.Error("operator http server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

// Crawl walks every seed and appends discovered image URLs to the handoff file.
func (a *App) Crawl(ctx context.Context) (CrawlSummary, error) {
	seeds, err := crawler.LoadSeeds(a.cfg.Crawler.SeedsFile)
	if err != nil {
		return CrawlSummary{}, fmt.Errorf("load seeds: %w", err)
	}
	for _, bad := range seeds.Invalid {
		a.logger.Warn("skipping invalid seed", zap.String("seed", bad))
	}

	links, err := handoff.Open(a.cfg.HandoffPath())
	if err != nil {
		return CrawlSummary{}, err
	}
	c := a.buildCrawler()

	a.tracker.SetPhase(api.PhaseCrawling)
	a.tracker.MarkReady()

	results, err := c.CrawlAll(ctx, seeds.URLs, a.recordTo(links))
	summary := CrawlSummary{Seeds: len(seeds.URLs)}
	for _, res := range results {
		summary.PagesCrawled += res.PagesCrawled
		summary.PagesFailed += res.PagesFailed
		summary.Images += len(res.Images)
	}
	a.logger.Info("crawl finished",
		zap.Int("seeds", summary.Seeds),
		zap.Int("pages_crawled", summary.PagesCrawled),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Int("images", summary.Images),
		zap.String("handoff", links.Path()),
	)
	if err != nil {
		return summary, fmt.Errorf("crawl seeds: %w", err)
	}
	return summary, nil
}

// recordTo returns the crawl callback that hands each discovered image URL to
// sink. A failed append is logged and the crawl goes on.
func (a *App) recordTo(sink crawler.LinkSink) func(string) {
	return func(imageURL string) {
		metrics.ObserveImageDiscovered(imageURL)
		if err := sink.Append(imageURL); err != nil {
			a.logger.Warn("failed to record image url", zap.String("url", imageURL), zap.Error(err))
		}
	}
}

func (a *App) buildCrawler() *crawler.Crawler {
	cc := a.cfg.Crawler
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cc.UserAgent,
		Timeout:   cc.PageTimeout,
	})
	opts := []crawler.Option{
		crawler.WithRobots(crawler.NewRobotsPolicy(
			cc.RespectRobots,
			cc.UserAgent,
			&http.Client{Timeout: cc.PageTimeout},
			a.logger.Named("robots"),
		)),
		crawler.WithLimiter(ratelimit.New(ratelimit.Config{Delay: cc.Delay})),
		crawler.WithRetryPolicy(crawler.NewFixedRetryPolicy(cc.PageMaxAttempts, cc.Delay)),
		crawler.WithBlockedHosts(cc.BlockedHosts),
	}
	if cc.RenderJS {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       1,
			UserAgent:         cc.UserAgent,
			NavigationTimeout: cc.RenderTimeout,
		})
		if err != nil {
			a.logger.Warn("headless renderer unavailable; crawling without it", zap.Error(err))
		} else {
			opts = append(opts, crawler.WithHeadless(renderer, detector.NewHeuristic(0)))
			a.onClose("headless renderer", func() error {
				renderer.Close()
				return nil
			})
		}
	}

	cfg := crawler.Config{
		MaxDepth:          cc.MaxDepth,
		MaxPagesPerDomain: cc.MaxPagesPerDomain,
		MaxImages:         cc.MaxImagesPerSeed,
		PageTimeout:       cc.PageTimeout,
		UserAgent:         cc.UserAgent,
	}
	return crawler.New(cfg, fetcher, a.logger.Named("crawler"), opts...)
}

// Download runs the coordinator over every URL in the handoff file.
func (a *App) Download(ctx context.Context) (coordinator.Report, error) {
	links, err := handoff.Open(a.cfg.HandoffPath())
	if err != nil {
		return coordinator.Report{}, err
	}
	urls, err := links.Load()
	if err != nil {
		return coordinator.Report{}, fmt.Errorf("load handoff file: %w", err)
	}

	coord, err := a.buildCoordinator(ctx, links)
	if err != nil {
		return coordinator.Report{}, err
	}
	a.tracker.Attach(func() any { return coord.Report() })
	a.tracker.SetPhase(api.PhaseDownloading)
	a.tracker.MarkReady()

	a.logger.Info("download pass starting", zap.Int("urls", len(urls)), zap.String("handoff", links.Path()))
	return coord.ProcessAll(ctx, urls)
}

func (a *App) buildCoordinator(ctx context.Context, links *handoff.File) (*coordinator.Coordinator, error) {
	dc := a.cfg.Download
	downloader, err := download.New(download.Config{
		Timeout:      dc.Timeout,
		MaxBytes:     dc.MaxBytes,
		MinDimension: dc.MinDimension,
		MaxDimension: dc.MaxDimension,
		JPEGQuality:  dc.JPEGQuality,
		UserAgent:    a.cfg.Crawler.UserAgent,
		TempDir:      a.cfg.TempDir(),
	},
		download.WithRetryPolicy(crawler.NewFixedRetryPolicy(dc.MaxAttempts, dc.Backoff)),
		download.WithLogger(a.logger.Named("download")),
	)
	if err != nil {
		return nil, fmt.Errorf("init downloader: %w", err)
	}
	if swept, sweepErr := downloader.Sweep(); sweepErr != nil {
		a.logger.Warn("temp directory sweep failed", zap.Error(sweepErr))
	} else if swept > 0 {
		a.logger.Info("removed leftover temp files", zap.Int("files", swept))
	}

	store, err := dedup.Open(dedup.Config{
		Backend:   a.cfg.Dedup.Backend,
		Path:      a.cfg.Dedup.Path,
		RedisAddr: a.cfg.Dedup.RedisAddr,
		RedisKey:  a.cfg.Dedup.RedisKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	a.onClose("dedup store", store.Close)

	writer, err := catalog.Open(ctx, catalog.Config{
		Backend:       a.cfg.Catalog.Backend,
		Path:          a.cfg.Catalog.Path,
		PostgresDSN:   a.cfg.Catalog.PostgresDSN,
		PostgresTable: a.cfg.Catalog.PostgresTable,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.onClose("catalog", writer.Close)

	opts := []coordinator.Option{
		coordinator.WithCollaborators(a.collaborators()),
		coordinator.WithLinkRemover(links),
		coordinator.WithClock(a.clock),
		coordinator.WithLogger(a.logger.Named("coordinator")),
	}
	mirror, err := a.openMirror(ctx)
	if err != nil {
		return nil, err
	}
	if mirror != nil {
		opts = append(opts, coordinator.WithBlobStore(mirror, a.cfg.Storage.Prefix))
	}
	if a.cfg.PubSub.TopicName != "" {
		pub, pubErr := pubsubpublisher.Open(ctx, pubsubpublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			TopicName: a.cfg.PubSub.TopicName,
		})
		if pubErr != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", pubErr)
		}
		a.onClose("pubsub publisher", pub.Close)
		opts = append(opts, coordinator.WithPublisher(pub, a.cfg.PubSub.TopicName))
	}

	coord, err := coordinator.New(coordinator.Config{
		Workers:       dc.Workers,
		MinConfidence: a.cfg.Classifier.MinConfidence,
		FinalDir:      a.cfg.FinalDir(),
	}, sha256.New(), store, writer, downloader, opts...)
	if err != nil {
		return nil, fmt.Errorf("init coordinator: %w", err)
	}
	return coord, nil
}

// collaborators always names colors; the filters and the classifier are opt-in.
func (a *App) collaborators() coordinator.Collaborators {
	collab := coordinator.Collaborators{
		Colors: collaborator.NewPaletteExtractor(a.cfg.Colors.Count),
	}
	if a.cfg.Filters.SkinTone {
		collab.BodyFilter = collaborator.NewSkinToneFilter(a.cfg.Filters.SkinRatio)
	}
	if a.cfg.Filters.Text {
		collab.TextFilter = collaborator.NewTextFilter(a.cfg.Filters.TextMin)
	}
	if a.cfg.Classifier.Endpoint != "" {
		collab.Classifier = collaborator.NewHTTPClassifier(a.cfg.Classifier.Endpoint, a.cfg.Classifier.Timeout)
	}
	return collab
}

func (a *App) openMirror(ctx context.Context) (crawler.BlobStore, error) {
	switch {
	case a.cfg.Storage.GCSBucket != "":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs mirror: %w", err)
		}
		a.onClose("gcs mirror", store.Close)
		a.logger.Info("mirroring accepted images to gcs", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case a.cfg.Storage.MirrorDir != "":
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.MirrorDir})
		if err != nil {
			return nil, fmt.Errorf("open local mirror: %w", err)
		}
		a.logger.Info("mirroring accepted images locally", zap.String("dir", a.cfg.Storage.MirrorDir))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases services in reverse order of opening and marks the run done.
func (a *App) Close() error {
	a.tracker.SetPhase(api.PhaseDone)
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
