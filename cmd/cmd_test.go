package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/coordinator"
)

type fakeApp struct {
	calls       []string
	crawlErr    error
	downloadErr error
	closed      bool
}

func (f *fakeApp) Crawl(context.Context) (app.CrawlSummary, error) {
	f.calls = append(f.calls, "crawl")
	return app.CrawlSummary{}, f.crawlErr
}

func (f *fakeApp) Download(context.Context) (coordinator.Report, error) {
	f.calls = append(f.calls, "download")
	return coordinator.Report{}, f.downloadErr
}

func (f *fakeApp) StartServer(context.Context) { f.calls = append(f.calls, "server") }
func (f *fakeApp) Logger() *zap.Logger         { return zap.NewNop() }

func (f *fakeApp) Close() error {
	f.closed = true
	return nil
}

// useFakeApp swaps the factory for the duration of the test and records
// the config and command each invocation was built with.
func useFakeApp(t *testing.T, fake *fakeApp) (*config.Config, *string) {
	t.Helper()
	t.Setenv("CRAWLER_OUTPUT_DIR", t.TempDir())
	t.Setenv("CRAWLER_LOGGING_DEVELOPMENT", "false")

	var gotCfg config.Config
	var gotCommand string
	orig := newApp
	newApp = func(cfg config.Config, _ *zap.Logger, command string) (App, error) {
		gotCfg, gotCommand = cfg, command
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotCfg, &gotCommand
}

func execute(args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestRunCrawlsThenDownloads(t *testing.T) {
	fake := &fakeApp{}
	_, command := useFakeApp(t, fake)

	require.NoError(t, execute("run"))
	assert.Equal(t, []string{"server", "crawl", "download"}, fake.calls)
	assert.Equal(t, "run", *command)
	assert.True(t, fake.closed)
}

func TestCrawlAndDownloadCommands(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	require.NoError(t, execute("crawl"))
	require.NoError(t, execute("download"))
	assert.Equal(t, []string{"server", "crawl", "server", "download"}, fake.calls)
}

func TestCrawlFailureSkipsDownload(t *testing.T) {
	fake := &fakeApp{crawlErr: errors.New("no valid seed urls")}
	useFakeApp(t, fake)

	err := execute("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run crawl")
	assert.NotContains(t, fake.calls, "download")
	assert.True(t, fake.closed, "services are closed even when the command fails")
}

func TestCancellationIsNotAFailure(t *testing.T) {
	fake := &fakeApp{downloadErr: errors.Join(errors.New("pipeline interrupted"), context.Canceled)}
	useFakeApp(t, fake)

	require.NoError(t, execute("download"))
}

func TestSeedsFlagOverridesConfig(t *testing.T) {
	fake := &fakeApp{}
	cfg, _ := useFakeApp(t, fake)

	seeds := filepath.Join(t.TempDir(), "shops.txt")
	require.NoError(t, execute("crawl", "--seeds", seeds))
	assert.Equal(t, seeds, cfg.Crawler.SeedsFile)
}

func TestInvalidConfigFailsBeforeWiring(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)
	t.Setenv("CRAWLER_DEDUP_BACKEND", "bolt")

	err := execute("download")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
	assert.Empty(t, fake.calls)
}
