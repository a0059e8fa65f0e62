package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrUnclassifiable is returned by a Classifier that cannot label an image.
var ErrUnclassifiable = errors.New("image is unclassifiable")

// Fetcher fetches a page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a rendered fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RobotsPolicy reports whether a page may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RetryPolicy decides whether and when a failed attempt is retried.
// Attempts are numbered from 1.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Pauser blocks for a delay or until the context finishes.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Limiter throttles page fetches.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// DedupStore is the persisted set of URL hashes already downloaded.
type DedupStore interface {
	Seen(ctx context.Context, hash string) (bool, error)
	Commit(ctx context.Context, hash string) error
	Close() error
}

// CatalogWriter appends accepted items to the catalog.
type CatalogWriter interface {
	Append(ctx context.Context, item CatalogItem) error
	Close() error
}

// LinkSink receives image URLs discovered by the crawler.
type LinkSink interface {
	Append(rawURL string) error
}

// LinkRemover drops handed-off image URLs once they are committed.
type LinkRemover interface {
	Remove(canonicalURLs ...string) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ContentFilter reports whether the image at path contains disallowed content.
type ContentFilter interface {
	Detect(ctx context.Context, path string) (bool, error)
}

// Classifier labels the image at path. It returns ErrUnclassifiable when no label applies.
type Classifier interface {
	Classify(ctx context.Context, path string) (Classification, error)
}

// ColorExtractor names the dominant colors of the image at path, primary first.
type ColorExtractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
}
