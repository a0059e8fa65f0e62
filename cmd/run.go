package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl, then download and catalog, in one process",
		Args:  cobra.NoArgs,
		RunE:  withApp(runPipeline),
	}
}

func runPipeline(ctx context.Context, appInstance App) error {
	if _, err := appInstance.Crawl(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.Logger().Warn("crawl interrupted; skipping download")
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	return download(ctx, appInstance)
}
