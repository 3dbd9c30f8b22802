// Package cache keeps each tool's remote version listing on disk so that
// repeated fuzzy resolution does not hit upstream every time.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/zvm/internal/adapter"
	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
)

// Entry is the persisted form of one tool's listing.
type Entry struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Listing   []adapter.Version `json:"listing"`
}

// FetchFunc retrieves a fresh listing from upstream.
type FetchFunc func(ctx context.Context) ([]adapter.Version, error)

// Cache stores listings as <dir>/<tool>.json.
type Cache struct {
	dir    string
	clock  config.Clock
	logger config.Logger
}

// New returns a cache rooted at dir. A nil clock uses wall time.
func New(dir string, clock config.Clock, logger config.Logger) *Cache {
	if clock == nil {
		clock = config.RealClock{}
	}
	return &Cache{dir: dir, clock: clock, logger: config.OrNop(logger)}
}

// Path returns the cache file for tool.
func (c *Cache) Path(tool string) string {
	return filepath.Join(c.dir, tool+".json")
}

// Load returns the cached entry for tool. Missing or corrupt files yield
// (nil, false).
func (c *Cache) Load(tool string) (*Entry, bool) {
	data, err := os.ReadFile(c.Path(tool))
	if err != nil {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Debug("Ignoring corrupt version cache", "tool", tool, "error", err)
		return nil, false
	}
	return &e, true
}

// Store writes listing with the current time.
func (c *Cache) Store(tool string, listing []adapter.Version) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(Entry{FetchedAt: c.clock.Now().UTC(), Listing: listing}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+tool+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpPath, c.Path(tool)); err != nil {
		return fmt.Errorf("replace cache entry: %w", err)
	}
	return nil
}

// Invalidate removes the cached entry for tool.
func (c *Cache) Invalidate(tool string) error {
	if err := os.Remove(c.Path(tool)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// GetOrFetch returns the cached listing when it is younger than ttl.
// Otherwise it calls fetch and persists the result. If fetch fails and a
// stale entry exists, the stale listing is returned instead of the error.
func (c *Cache) GetOrFetch(ctx context.Context, tool string, ttl time.Duration, fetch FetchFunc) ([]adapter.Version, error) {
	entry, ok := c.Load(tool)
	if ok && c.clock.Now().Sub(entry.FetchedAt) < ttl {
		return entry.Listing, nil
	}

	listing, err := fetch(ctx)
	if err != nil {
		if ok {
			c.logger.Warn("Using stale version listing",
				"tool", tool,
				"fetched_at", entry.FetchedAt,
				"error", err)
			return entry.Listing, nil
		}
		return nil, err
	}

	if err := c.Store(tool, listing); err != nil {
		// the listing is still good for this run
		c.logger.Warn("Failed to persist version listing", "tool", tool, "error", err)
	}
	return listing, nil
}
