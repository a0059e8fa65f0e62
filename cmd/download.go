package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download, validate and catalog the image URLs in the handoff file",
		Long: `Reads the handoff file written by "crawl", skips images already in the dedup store,
downloads and validates the rest with a bounded worker pool, and appends every accepted
image to the catalog. Committed URLs are removed from the handoff file.`,
		Args: cobra.NoArgs,
		RunE: withApp(download),
	}
}

func download(ctx context.Context, appInstance App) error {
	if _, err := appInstance.Download(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.Logger().Warn("download interrupted")
			return nil
		}
		return fmt.Errorf("run download: %w", err)
	}
	appInstance.Logger().Info("download command finished")
	return nil
}
