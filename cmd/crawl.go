package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the seed sites and record discovered image URLs",
		Long: `Walks every seed breadth-first within the configured depth, page and image budgets
and appends each discovered image URL to the handoff file under output.dir. Run
"download" afterwards to fetch and catalog them.`,
		Args: cobra.NoArgs,
		RunE: withApp(crawl),
	}
}

func crawl(ctx context.Context, appInstance App) error {
	if _, err := appInstance.Crawl(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.Logger().Warn("crawl interrupted")
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	appInstance.Logger().Info("crawl command finished")
	return nil
}
