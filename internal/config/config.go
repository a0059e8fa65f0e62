// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// AppName names the default data directory under XDG_DATA_HOME.
const AppName = "catalog-crawler"

// Derived output layout.
const (
	TempImagesDir  = "tmp_images"
	FinalImagesDir = "images"
	HandoffFile    = "image_links.txt"
	DedupFile      = ".downloaded_hashes.txt"
	DedupDBFile    = ".downloaded_hashes.db"
	CatalogFile    = "scraped-items.csv"
)

// Config captures every configuration knob loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Download   DownloadConfig   `mapstructure:"download"`
	Output     OutputConfig     `mapstructure:"output"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Filters    FiltersConfig    `mapstructure:"filters"`
	Colors     ColorsConfig     `mapstructure:"colors"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the page crawl.
type CrawlerConfig struct {
	SeedsFile         string        `mapstructure:"seeds_file"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxPagesPerDomain int           `mapstructure:"max_pages_per_domain"`
	MaxImagesPerSeed  int           `mapstructure:"max_images_per_seed"`
	Delay             time.Duration `mapstructure:"delay"`
	PageTimeout       time.Duration `mapstructure:"page_timeout"`
	PageMaxAttempts   int           `mapstructure:"page_max_attempts"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RenderJS          bool          `mapstructure:"render_js"`
	RenderTimeout     time.Duration `mapstructure:"render_timeout"`
	BlockedHosts      []string      `mapstructure:"blocked_hosts"`
}

// DownloadConfig bounds image downloads and the worker pool.
type DownloadConfig struct {
	Workers      int           `mapstructure:"workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	MinDimension int           `mapstructure:"min_dimension"`
	MaxDimension int           `mapstructure:"max_dimension"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      time.Duration `mapstructure:"backoff"`
	JPEGQuality  int           `mapstructure:"jpeg_quality"`
}

// OutputConfig is the root of every file the pipeline writes.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// DedupConfig selects the persisted hash store.
type DedupConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// CatalogConfig selects the catalog writer.
type CatalogConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// ClassifierConfig points at the clothing classifier service.
type ClassifierConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinConfidence float64       `mapstructure:"min_confidence"`
}

// FiltersConfig toggles the local content filters.
type FiltersConfig struct {
	SkinTone  bool    `mapstructure:"skin_tone"`
	SkinRatio float64 `mapstructure:"skin_ratio"`
	Text      bool    `mapstructure:"text"`
	TextMin   int     `mapstructure:"text_min_regions"`
}

// ColorsConfig sets how many colors are named per image.
type ColorsConfig struct {
	Count int `mapstructure:"count"`
}

// StorageConfig configures the optional accepted-image mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	MirrorDir string `mapstructure:"mirror_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for accept notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig enables the operator HTTP listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from an optional file plus CRAWLER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.deriveOutputPaths()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultOutputDir is $XDG_DATA_HOME/catalog-crawler.
func DefaultOutputDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)

	v.SetDefault("crawler.seeds_file", "scrape-urls.txt")
	v.SetDefault("crawler.user_agent", "catalog-crawler/1.0 (+https://github.com/JakeFAU/catalog-crawler)")
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.max_pages_per_domain", 6)
	v.SetDefault("crawler.max_images_per_seed", 200)
	v.SetDefault("crawler.delay", 500*time.Millisecond)
	v.SetDefault("crawler.page_timeout", 15*time.Second)
	v.SetDefault("crawler.page_max_attempts", 2)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.render_js", false)
	v.SetDefault("crawler.render_timeout", 20*time.Second)
	v.SetDefault("crawler.blocked_hosts", crawler.DefaultBlockedHosts)

	v.SetDefault("download.workers", 4)
	v.SetDefault("download.timeout", 15*time.Second)
	v.SetDefault("download.max_bytes", 10<<20)
	v.SetDefault("download.min_dimension", 100)
	v.SetDefault("download.max_dimension", 2000)
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.backoff", time.Second)
	v.SetDefault("download.jpeg_quality", 95)

	v.SetDefault("output.dir", DefaultOutputDir())

	v.SetDefault("dedup.backend", "file")
	v.SetDefault("dedup.redis_key", "catalog-crawler:downloaded")
	v.SetDefault("catalog.backend", "csv")
	v.SetDefault("catalog.postgres_table", "catalog_items")

	v.SetDefault("classifier.timeout", 30*time.Second)
	v.SetDefault("classifier.min_confidence", 0.65)

	v.SetDefault("filters.skin_tone", false)
	v.SetDefault("filters.skin_ratio", 0.05)
	v.SetDefault("filters.text", false)
	v.SetDefault("filters.text_min_regions", 10)

	v.SetDefault("colors.count", 3)
	v.SetDefault("storage.prefix", "images")

	// Empty defaults register the keys so CRAWLER_* variables reach Unmarshal.
	for _, key := range []string{
		"dedup.path", "dedup.redis_addr",
		"catalog.path", "catalog.postgres_dsn",
		"classifier.endpoint",
		"storage.gcs_bucket", "storage.mirror_dir",
		"pubsub.project_id", "pubsub.topic_name",
		"metrics.addr",
	} {
		v.SetDefault(key, "")
	}
}

// deriveOutputPaths fills store paths that default to files under output.dir.
func (c *Config) deriveOutputPaths() {
	if c.Dedup.Path == "" {
		name := DedupFile
		if strings.EqualFold(c.Dedup.Backend, "sqlite") {
			name = DedupDBFile
		}
		c.Dedup.Path = filepath.Join(c.Output.Dir, name)
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.Output.Dir, CatalogFile)
	}
}

// TempDir is where in-flight artifacts live.
func (c Config) TempDir() string { return filepath.Join(c.Output.Dir, TempImagesDir) }

// FinalDir is where accepted images are moved.
func (c Config) FinalDir() string { return filepath.Join(c.Output.Dir, FinalImagesDir) }

// HandoffPath is the file the crawl phase appends image URLs to.
func (c Config) HandoffPath() string { return filepath.Join(c.Output.Dir, HandoffFile) }

// CollaboratorsEnabled reports whether any collaborator beyond color naming runs.
func (c Config) CollaboratorsEnabled() bool {
	return c.Classifier.Endpoint != "" || c.Filters.SkinTone || c.Filters.Text
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Output.Dir) == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	if c.Crawler.MaxPagesPerDomain <= 0 {
		errs = append(errs, errors.New("crawler.max_pages_per_domain must be > 0"))
	}
	if c.Crawler.MaxImagesPerSeed <= 0 {
		errs = append(errs, errors.New("crawler.max_images_per_seed must be > 0"))
	}
	if c.Crawler.PageTimeout <= 0 {
		errs = append(errs, errors.New("crawler.page_timeout must be > 0"))
	}
	if c.Crawler.PageMaxAttempts <= 0 {
		errs = append(errs, errors.New("crawler.page_max_attempts must be > 0"))
	}
	if c.Crawler.Delay < 0 {
		errs = append(errs, errors.New("crawler.delay must be >= 0"))
	}
	if c.Download.Workers <= 0 {
		errs = append(errs, errors.New("download.workers must be > 0"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download.timeout must be > 0"))
	}
	if c.Download.MaxBytes <= 0 {
		errs = append(errs, errors.New("download.max_bytes must be > 0"))
	}
	if c.Download.MinDimension <= 0 || c.Download.MaxDimension < c.Download.MinDimension {
		errs = append(errs, fmt.Errorf("download dimensions invalid: min %d, max %d",
			c.Download.MinDimension, c.Download.MaxDimension))
	}
	if c.Download.MaxAttempts <= 0 {
		errs = append(errs, errors.New("download.max_attempts must be > 0"))
	}
	if c.Download.JPEGQuality < 1 || c.Download.JPEGQuality > 100 {
		errs = append(errs, errors.New("download.jpeg_quality must be within 1..100"))
	}

	switch strings.ToLower(c.Dedup.Backend) {
	case "file", "sqlite":
	case "redis":
		if c.Dedup.RedisAddr == "" {
			errs = append(errs, errors.New("dedup.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("dedup.backend %q is not one of file, sqlite, redis", c.Dedup.Backend))
	}
	switch strings.ToLower(c.Catalog.Backend) {
	case "csv":
	case "postgres":
		if c.Catalog.PostgresDSN == "" {
			errs = append(errs, errors.New("catalog.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.backend %q is not one of csv, postgres", c.Catalog.Backend))
	}

	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		errs = append(errs, errors.New("classifier.min_confidence must be within 0..1"))
	}
	if c.Filters.SkinRatio <= 0 || c.Filters.SkinRatio > 1 {
		errs = append(errs, errors.New("filters.skin_ratio must be within (0, 1]"))
	}
	if c.Colors.Count <= 0 {
		errs = append(errs, errors.New("colors.count must be > 0"))
	}
	if c.Storage.GCSBucket != "" && c.Storage.MirrorDir != "" {
		errs = append(errs, errors.New("set at most one of storage.gcs_bucket and storage.mirror_dir"))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name must be set together"))
	}
	return errors.Join(errs...)
}
