package assignee

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// memberCache persists fetched member directories per list so short-lived
// runs do not refetch the roster every time.
type memberCache struct {
	path   string
	logger *zap.Logger
}

type cacheFile struct {
	Lists map[string]cacheEntry `json:"lists"`
}

type cacheEntry struct {
	FetchedAt time.Time          `json:"fetched_at"`
	Members   map[string][]int64 `json:"members"`
}

// load returns the cached directory for listID if the entry exists, decodes
// cleanly, and was fetched within ttl. Anything else is a miss.
func (c *memberCache) load(listID string, ttl time.Duration, now time.Time) (Directory, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}

	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		c.logger.Warn("Member cache is corrupted, refetching", zap.String("path", c.path), zap.Error(err))
		return nil, false
	}

	entry, ok := cache.Lists[listID]
	if !ok || entry.Members == nil {
		return nil, false
	}
	if now.Sub(entry.FetchedAt) > ttl {
		return nil, false
	}
	return Directory(entry.Members), true
}

// save writes the directory for listID, preserving entries for other
// lists. Failures are logged and swallowed; the cache is an optimization.
func (c *memberCache) save(listID string, dir Directory, now time.Time) {
	var cache cacheFile
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json.Unmarshal(data, &cache); err != nil {
			cache = cacheFile{}
		}
	}
	if cache.Lists == nil {
		cache.Lists = make(map[string]cacheEntry)
	}
	cache.Lists[listID] = cacheEntry{
		FetchedAt: now,
		Members:   dir,
	}

	if err := c.write(&cache); err != nil {
		c.logger.Warn("Failed to save member cache", zap.String("path", c.path), zap.Error(err))
	}
}

// write persists the cache atomically via a temp file rename.
func (c *memberCache) write(cache *cacheFile) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}
