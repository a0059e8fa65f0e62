// Package dedup persists the set of image URL hashes that have already been
// downloaded and cataloged, so no image is fetched twice across runs.
//
// Stores are safe for concurrent use, but the pipeline funnels every Commit
// through its single committer goroutine so the catalog row and the dedup
// entry change together.
package dedup

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a store backend.
type Config struct {
	Backend   string
	Path      string
	RedisAddr string
	RedisKey  string
}

// Open builds the configured store.
func Open(cfg Config) (crawler.DedupStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		s, err := OpenFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Backend)
	}
}
