package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/coordinator"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the wiring layer.
// Tests inject a fake through newApp.
type App interface {
	Crawl(ctx context.Context) (app.CrawlSummary, error)
	Download(ctx context.Context) (coordinator.Report, error)
	StartServer(ctx context.Context)
	Logger() *zap.Logger
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfg config.Config, logger *zap.Logger, command string) (App, error) {
	return app.New(cfg, logger, command)
}

// withApp resolves the App for a RunE and shuts it down afterwards,
// whether or not fn fails.
func withApp(fn func(ctx context.Context, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := appInstance.Close(); cerr != nil {
				appInstance.Logger().Warn("error shutting down services", zap.Error(cerr))
			}
			_ = appInstance.Logger().Sync()
		}()
		return fn(cmd.Context(), appInstance)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
