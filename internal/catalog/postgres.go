package catalog

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const defaultTable = "catalog_items"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for catalog rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresWriter inserts catalog rows into Postgres. Rows are keyed by the
// source URL hash so a replayed append never produces a second row.
type PostgresWriter struct {
	pool  execCloser
	table string
}

// NewPostgresWriter connects to Postgres and ensures the catalog table exists.
func NewPostgresWriter(ctx context.Context, cfg PostgresConfig) (*PostgresWriter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	w, err := NewPostgresWriterWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := w.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriterWithPool constructs a writer from an existing pool (primarily for testing).
func NewPostgresWriterWithPool(pool execCloser, table string) (*PostgresWriter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresWriter{pool: pool, table: table}, nil
}

// EnsureSchema creates the catalog table when absent.
func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	hash             TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	clothing_type    TEXT NOT NULL,
	category         TEXT NOT NULL,
	brand            TEXT NOT NULL DEFAULT '',
	size             TEXT NOT NULL DEFAULT '',
	primary_color    TEXT NOT NULL,
	secondary_colors TEXT[] NOT NULL DEFAULT '{}',
	style_tags       TEXT[] NOT NULL DEFAULT '{}',
	weather_tags     TEXT[] NOT NULL DEFAULT '{}',
	season           TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL,
	image_filename   TEXT NOT NULL UNIQUE,
	privacy          TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	added_at         TIMESTAMPTZ NOT NULL
)`, w.table)
	if _, err := w.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create catalog table: %w", err)
	}
	return nil
}

// Append inserts a row for item.
func (w *PostgresWriter) Append(ctx context.Context, item crawler.CatalogItem) error {
	if item.Hash == "" {
		return fmt.Errorf("catalog item hash is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	hash,
	name,
	clothing_type,
	category,
	brand,
	size,
	primary_color,
	secondary_colors,
	style_tags,
	weather_tags,
	season,
	description,
	image_filename,
	privacy,
	source_url,
	added_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
) ON CONFLICT (hash) DO NOTHING`, w.table)

	args := []any{
		item.Hash,
		item.Name,
		item.ClothingType,
		item.Category,
		item.Brand,
		item.Size,
		item.PrimaryColor,
		nonNil(item.SecondaryColors),
		nonNil(item.StyleTags),
		nonNil(item.WeatherTags),
		item.Season,
		item.Description,
		item.ImageFilename,
		item.Visibility,
		item.SourceURL,
		item.AddedAt,
	}
	if _, err := w.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert catalog item: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (w *PostgresWriter) Close() error {
	if w == nil || w.pool == nil {
		return nil
	}
	w.pool.Close()
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
