// Package coordinator drives each discovered image URL through dedup,
// download, collaborator review and the accept tail.
//
// Downloads and collaborator calls fan out across a bounded worker pool. The
// accept tail (move into final storage, catalog append, dedup commit) runs on
// a single committer goroutine that owns the catalog writer and dedup store,
// so every acceptance is serialized without an explicit lock.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/download"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// ImageFetcher downloads and normalizes one image.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL, hash string) (crawler.DownloadedArtifact, error)
}

// Collaborators are the optional single-image functions consulted before accepting.
type Collaborators struct {
	BodyFilter crawler.ContentFilter
	TextFilter crawler.ContentFilter
	Classifier crawler.Classifier
	Colors     crawler.ColorExtractor
}

// Config tunes the coordinator.
type Config struct {
	Workers       int
	MinConfidence float64
	FinalDir      string
	FSAttempts    int
	FSDelay       time.Duration
}

// DefaultConfig mirrors the limits the pipeline ships with.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		MinConfidence: 0.65,
		FSAttempts:    3,
		FSDelay:       200 * time.Millisecond,
	}
}

// Coordinator processes image URLs. Create one per run.
type Coordinator struct {
	cfg        Config
	hasher     crawler.Hasher
	dedup      crawler.DedupStore
	catalog    crawler.CatalogWriter
	fetcher    ImageFetcher
	collab     Collaborators
	remover    crawler.LinkRemover
	blob       crawler.BlobStore
	blobPrefix string
	publisher  crawler.Publisher
	topic      string
	clock      crawler.Clock
	pauser     crawler.Pauser
	logger     *zap.Logger

	// Swapped in tests to simulate cross-device moves.
	rename func(oldpath, newpath string) error
	remove func(name string) error

	cpu     *semaphore.Weighted
	claimMu sync.Mutex
	claims  map[string]struct{}
	report  recorder
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithCollaborators enables content filters, classification and color naming.
func WithCollaborators(collab Collaborators) Option {
	return func(c *Coordinator) { c.collab = collab }
}

// WithLinkRemover removes committed URLs from the handoff file.
func WithLinkRemover(remover crawler.LinkRemover) Option {
	return func(c *Coordinator) { c.remover = remover }
}

// WithBlobStore mirrors accepted images under prefix.
func WithBlobStore(store crawler.BlobStore, prefix string) Option {
	return func(c *Coordinator) {
		c.blob = store
		c.blobPrefix = prefix
	}
}

// WithPublisher announces accepted items on topic.
func WithPublisher(publisher crawler.Publisher, topic string) Option {
	return func(c *Coordinator) {
		c.publisher = publisher
		c.topic = topic
	}
}

// WithClock overrides the clock used for catalog dates.
func WithClock(clock crawler.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithPauser replaces the sleeper used between filesystem retries.
func WithPauser(pauser crawler.Pauser) Option {
	return func(c *Coordinator) { c.pauser = pauser }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New builds a Coordinator and creates the final image directory.
func New(
	cfg Config,
	hasher crawler.Hasher,
	dedup crawler.DedupStore,
	catalog crawler.CatalogWriter,
	fetcher ImageFetcher,
	opts ...Option,
) (*Coordinator, error) {
	if hasher == nil || dedup == nil || catalog == nil || fetcher == nil {
		return nil, errors.New("coordinator requires a hasher, dedup store, catalog writer and fetcher")
	}
	if cfg.FinalDir == "" {
		return nil, errors.New("final image directory is required")
	}
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaults.MinConfidence
	}
	if cfg.FSAttempts <= 0 {
		cfg.FSAttempts = defaults.FSAttempts
	}
	if cfg.FSDelay < 0 {
		cfg.FSDelay = 0
	}
	if err := os.MkdirAll(cfg.FinalDir, 0o755); err != nil {
		return nil, fmt.Errorf("create final image dir: %w", err)
	}

	c := &Coordinator{
		cfg:     cfg,
		hasher:  hasher,
		dedup:   dedup,
		catalog: catalog,
		fetcher: fetcher,
		clock:   system.New(),
		pauser:  crawler.TimerPauser{},
		logger:  zap.NewNop(),
		rename:  os.Rename,
		remove:  os.Remove,
		cpu:     semaphore.NewWeighted(int64(min(cfg.Workers, runtime.GOMAXPROCS(0)))),
		claims:  make(map[string]struct{}),
		report:  newRecorder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Report returns a snapshot of the counters so far.
func (c *Coordinator) Report() Report {
	return c.report.snapshot()
}

// ProcessAll runs every URL in urls through the pipeline.
func (c *Coordinator) ProcessAll(ctx context.Context, urls []string) (Report, error) {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, u := range urls {
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return c.Run(ctx, ch)
}

// Run consumes urls until the channel closes or ctx is done, processing up to
// Workers images at a time. Per-item failures never abort the run; the only
// error returned is the context's.
func (c *Coordinator) Run(ctx context.Context, urls <-chan string) (Report, error) {
	commits := make(chan acceptRequest)
	committerDone := make(chan struct{})
	go func() {
		defer close(committerDone)
		c.commitLoop(ctx, commits)
	}()

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case rawURL, ok := <-urls:
			if !ok {
				break loop
			}
			g.Go(func() error {
				c.handle(ctx, rawURL, commits)
				return nil
			})
		}
	}
	_ = g.Wait()
	close(commits)
	<-committerDone

	report := c.Report()
	report.Log(c.logger)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("pipeline interrupted: %w", err)
	}
	return report, nil
}

func (c *Coordinator) handle(ctx context.Context, rawURL string, commits chan<- acceptRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome := c.process(ctx, rawURL, commits)
	c.report.record(outcome)
	metrics.ObserveOutcome(outcome.Kind.String())

	fields := []zap.Field{
		zap.String("url", outcome.URL),
		zap.String("hash", outcome.Hash),
		zap.Stringer("outcome", outcome.Kind),
	}
	if outcome.Reason != "" {
		fields = append(fields, zap.String("reason", outcome.Reason))
	}
	switch outcome.Kind {
	case crawler.OutcomeAccepted:
		c.logger.Info("image accepted", append(fields, zap.String("file", outcome.Item.ImageFilename))...)
		c.announce(ctx, *outcome.Item)
	case crawler.OutcomeFailed, crawler.OutcomeAbandoned:
		c.logger.Warn("image not processed", append(fields, zap.Error(outcome.Err))...)
	default:
		c.logger.Info("image skipped", fields...)
	}
}

// process returns the terminal outcome for one URL.
func (c *Coordinator) process(ctx context.Context, rawURL string, commits chan<- acceptRequest) crawler.Outcome {
	canonical := crawler.Canonicalize(rawURL)
	outcome := crawler.Outcome{URL: canonical}

	hash, err := crawler.HashURL(c.hasher, canonical)
	if err != nil {
		outcome.Kind, outcome.Err = crawler.OutcomeFailed, err
		return outcome
	}
	outcome.Hash = hash

	if !c.claim(hash) {
		outcome.Kind, outcome.Reason = crawler.OutcomeDuplicate, "already claimed in this run"
		return outcome
	}
	seen, err := c.dedup.Seen(ctx, hash)
	if err != nil {
		outcome.Kind, outcome.Err = crawler.OutcomeFailed, fmt.Errorf("dedup lookup: %w", err)
		return outcome
	}
	if seen {
		outcome.Kind, outcome.Reason = crawler.OutcomeDuplicate, "already downloaded"
		return outcome
	}

	artifact, err := c.fetcher.Fetch(ctx, canonical, hash)
	if err != nil {
		return downloadOutcome(outcome, err)
	}

	verdict := c.evaluate(ctx, artifact)
	if verdict.Kind != crawler.OutcomeAccepted {
		c.discard(artifact.Path)
		verdict.URL, verdict.Hash = outcome.URL, outcome.Hash
		return verdict
	}

	reply := make(chan crawler.Outcome, 1)
	commits <- acceptRequest{artifact: artifact, item: *verdict.Item, reply: reply}
	return <-reply
}

// claim records hash as in flight for this run; false means another worker got there first.
func (c *Coordinator) claim(hash string) bool {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()
	if _, ok := c.claims[hash]; ok {
		return false
	}
	c.claims[hash] = struct{}{}
	return true
}

func downloadOutcome(outcome crawler.Outcome, err error) crawler.Outcome {
	outcome.Err = err
	outcome.Reason = err.Error()
	var status *crawler.HTTPStatusError
	switch {
	case errors.Is(err, download.ErrRetriesExhausted):
		outcome.Kind = crawler.OutcomeAbandoned
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome.Kind, outcome.Reason = crawler.OutcomeFailed, "canceled"
	case errors.Is(err, download.ErrTooLarge), errors.Is(err, download.ErrTooSmall),
		errors.Is(err, download.ErrNotImage), errors.Is(err, download.ErrCorrupt):
		outcome.Kind = crawler.OutcomeRejectedValidation
	case errors.As(err, &status):
		outcome.Kind = crawler.OutcomeAbandoned
	case crawler.IsPermanent(err):
		outcome.Kind = crawler.OutcomeRejectedValidation
	default:
		outcome.Kind = crawler.OutcomeFailed
	}
	return outcome
}

// announce mirrors and publishes an accepted item. Both are best effort.
func (c *Coordinator) announce(ctx context.Context, item crawler.CatalogItem) {
	if c.blob != nil {
		if err := c.mirror(ctx, item); err != nil {
			c.logger.Warn("mirror accepted image failed", zap.String("file", item.ImageFilename), zap.Error(err))
		}
	}
	if c.publisher != nil && c.topic != "" {
		if _, err := c.publisher.Publish(ctx, c.topic, item); err != nil {
			c.logger.Warn("publish accepted item failed", zap.String("file", item.ImageFilename), zap.Error(err))
		}
	}
}

func (c *Coordinator) mirror(ctx context.Context, item crawler.CatalogItem) error {
	f, err := os.Open(c.finalPath(item.ImageFilename))
	if err != nil {
		return fmt.Errorf("open final image: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := c.blob.PutObject(ctx, path.Join(c.blobPrefix, item.ImageFilename), "image/jpeg", f); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
