package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type acceptRequest struct {
	artifact crawler.DownloadedArtifact
	item     crawler.CatalogItem
	reply    chan<- crawler.Outcome
}

// removeBatch is how many committed URLs are collected before the handoff
// file is rewritten. URLs committed but not yet removed are skipped as
// duplicates on the next run.
const removeBatch = 256

// commitLoop owns the dedup store and catalog writer for the run. Requests
// already sent are always finished, even after ctx is canceled, so a row is
// never written without its hash (or the other way around).
func (c *Coordinator) commitLoop(ctx context.Context, requests <-chan acceptRequest) {
	ctx = context.WithoutCancel(ctx)
	var committed []string
	for req := range requests {
		outcome := c.accept(ctx, req.artifact, req.item)
		if outcome.Kind == crawler.OutcomeAccepted && c.remover != nil {
			committed = append(committed, outcome.URL)
			if len(committed) >= removeBatch {
				c.removeCommitted(committed)
				committed = committed[:0]
			}
		}
		req.reply <- outcome
	}
	c.removeCommitted(committed)
}

func (c *Coordinator) removeCommitted(urls []string) {
	if c.remover == nil || len(urls) == 0 {
		return
	}
	if err := c.remover.Remove(urls...); err != nil {
		c.logger.Warn("failed to remove committed urls from handoff", zap.Int("urls", len(urls)), zap.Error(err))
	}
}

// accept moves the artifact into final storage, appends the catalog row and
// commits the hash, in that order.
func (c *Coordinator) accept(ctx context.Context, artifact crawler.DownloadedArtifact, item crawler.CatalogItem) crawler.Outcome {
	outcome := crawler.Outcome{URL: artifact.URL, Hash: artifact.Hash}

	// A worker may have passed Seen before an earlier commit of the same hash
	// by another process sharing the store.
	seen, err := c.dedup.Seen(ctx, artifact.Hash)
	if err != nil {
		c.discard(artifact.Path)
		outcome.Kind, outcome.Err = crawler.OutcomeFailed, fmt.Errorf("dedup lookup: %w", err)
		return outcome
	}
	if seen {
		c.discard(artifact.Path)
		outcome.Kind, outcome.Reason = crawler.OutcomeDuplicate, "already downloaded"
		return outcome
	}

	final := c.finalPath(item.ImageFilename)
	if err := c.retryFS(ctx, "move image", func() error { return c.moveFile(artifact.Path, final) }); err != nil {
		c.discard(artifact.Path)
		outcome.Kind, outcome.Reason, outcome.Err = crawler.OutcomeFailed, "filesystem", err
		return outcome
	}

	if err := c.retryFS(ctx, "append catalog row", func() error { return c.catalog.Append(ctx, item) }); err != nil {
		c.discard(final)
		outcome.Kind, outcome.Reason, outcome.Err = crawler.OutcomeFailed, "catalog", err
		return outcome
	}

	if err := c.retryFS(ctx, "commit hash", func() error { return c.dedup.Commit(ctx, artifact.Hash) }); err != nil {
		// The row and file exist; the next run will see a duplicate row at worst.
		c.logger.Error("dedup commit failed after catalog append",
			zap.String("hash", artifact.Hash),
			zap.String("file", item.ImageFilename),
			zap.Error(err),
		)
	}

	outcome.Kind = crawler.OutcomeAccepted
	outcome.Item = &item
	return outcome
}

func (c *Coordinator) finalPath(filename string) string {
	return filepath.Join(c.cfg.FinalDir, filename)
}

// retryFS runs op up to FSAttempts times with a fixed pause between attempts.
func (c *Coordinator) retryFS(ctx context.Context, what string, op func() error) error {
	var err error
	for attempt := 1; attempt <= c.cfg.FSAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt < c.cfg.FSAttempts {
			c.logger.Debug("retrying filesystem operation",
				zap.String("op", what),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			c.pauser.Pause(ctx, c.cfg.FSDelay)
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, c.cfg.FSAttempts, err)
}

// moveFile renames src to dst, copying across filesystems when rename cannot.
// dst is never left partially written, and a failed move never leaves both
// copies behind.
func (c *Coordinator) moveFile(src, dst string) error {
	err := c.rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename image: %w", err)
	}

	tmp := dst + ".part"
	if err := copyFile(src, tmp); err != nil {
		_ = c.remove(tmp)
		return err
	}
	if err := c.rename(tmp, dst); err != nil {
		_ = c.remove(tmp)
		return fmt.Errorf("rename copied image: %w", err)
	}
	if err := c.remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		if rmErr := c.remove(dst); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Error("moved image left in two places", zap.String("src", src), zap.String("dst", dst), zap.Error(rmErr))
		}
		return fmt.Errorf("remove moved image: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create image copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy image: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync image copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close image copy: %w", err)
	}
	return nil
}
