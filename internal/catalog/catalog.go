// Package catalog appends accepted items to the durable catalog.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Backend names accepted by Open.
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
)

// Header is the fixed column set of the catalog file.
var Header = []string{
	"name",
	"clothing_type",
	"category",
	"brand",
	"size",
	"primary_color",
	"secondary_colors",
	"style_tags",
	"weather_tags",
	"season",
	"description",
	"image_filename",
	"privacy",
}

const listSeparator = "|"

// Config selects and configures a writer backend.
type Config struct {
	Backend       string
	Path          string
	PostgresDSN   string
	PostgresTable string
}

// Open builds the configured writer.
func Open(ctx context.Context, cfg Config) (crawler.CatalogWriter, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendCSV:
		w, err := OpenCSV(cfg.Path)
		if err != nil {
			return nil, err
		}
		return w, nil
	case BackendPostgres:
		w, err := NewPostgresWriter(ctx, PostgresConfig{DSN: cfg.PostgresDSN, Table: cfg.PostgresTable})
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.Backend)
	}
}

// Row flattens item into Header order.
func Row(item crawler.CatalogItem) []string {
	return []string{
		item.Name,
		item.ClothingType,
		item.Category,
		item.Brand,
		item.Size,
		item.PrimaryColor,
		strings.Join(item.SecondaryColors, listSeparator),
		strings.Join(item.StyleTags, listSeparator),
		strings.Join(item.WeatherTags, listSeparator),
		item.Season,
		item.Description,
		item.ImageFilename,
		item.Visibility,
	}
}

// FromRow is the inverse of Row. Fields outside the header come back empty.
func FromRow(row []string) (crawler.CatalogItem, error) {
	if len(row) != len(Header) {
		return crawler.CatalogItem{}, fmt.Errorf("catalog row has %d fields, want %d", len(row), len(Header))
	}
	return crawler.CatalogItem{
		Name:            row[0],
		ClothingType:    row[1],
		Category:        row[2],
		Brand:           row[3],
		Size:            row[4],
		PrimaryColor:    row[5],
		SecondaryColors: splitList(row[6]),
		StyleTags:       splitList(row[7]),
		WeatherTags:     splitList(row[8]),
		Season:          row[9],
		Description:     row[10],
		ImageFilename:   row[11],
		Visibility:      row[12],
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}
