package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// cacheRetentionPeriod is how long cache files are kept before cleanup.
	cacheRetentionPeriod = 30 * 24 * time.Hour
	cacheDirPerms        = 0o700
	cacheFilePerms       = 0o600
	diskCleanupInterval  = time.Hour
)

// HitType indicates where a cached value was found.
type HitType string

// Lookup outcomes.
const (
	HitMemory HitType = "memory"
	HitDisk   HitType = "disk"
	Miss      HitType = "miss"
)

// diskEntry represents a cache entry on disk with TTL.
type diskEntry struct {
	Value      json.RawMessage `json:"value"`
	Expiration time.Time       `json:"expiration"`
	CachedAt   time.Time       `json:"cached_at"`
}

// Disk provides two-tier caching: in-memory + disk persistence.
// Values must round-trip through encoding/json.
type Disk[V any] struct {
	mem      *Cache[V]
	cacheDir string
	enabled  bool
}

// NewDisk creates a cache with disk persistence under cacheDir.
// If cacheDir is empty, it is memory-only.
func NewDisk[V any](ctx context.Context, ttl time.Duration, maxSize int, cacheDir string) (*Disk[V], error) {
	dc := &Disk[V]{
		mem:     New[V](ctx, ttl, maxSize),
		enabled: cacheDir != "",
	}
	if !dc.enabled {
		return dc, nil
	}

	cleanPath := filepath.Clean(cacheDir)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("cache directory must be absolute path")
	}
	if err := os.MkdirAll(cleanPath, cacheDirPerms); err != nil {
		slog.Warn("Failed to create cache directory, falling back to memory-only", "error", err, "path", cleanPath)
		dc.enabled = false
		return dc, nil
	}
	dc.cacheDir = cleanPath
	go dc.cleanOldFiles(ctx, diskCleanupInterval)
	return dc, nil
}

// Get retrieves a value (memory first, then disk).
func (c *Disk[V]) Get(key string) (V, bool) {
	value, hit := c.Lookup(key)
	return value, hit != Miss
}

// Lookup retrieves a value and reports where it was found.
func (c *Disk[V]) Lookup(key string) (V, HitType) {
	var zero V
	if value, found := c.mem.Get(key); found {
		return value, HitMemory
	}
	if !c.enabled {
		return zero, Miss
	}

	var e diskEntry
	if !c.loadFromDisk(key, &e) {
		return zero, Miss
	}
	if time.Now().After(e.Expiration) {
		slog.Debug("Disk cache entry expired", "key", key, "expired_at", e.Expiration)
		c.removeFromDisk(key)
		return zero, Miss
	}

	var value V
	if err := json.Unmarshal(e.Value, &value); err != nil {
		slog.Warn("Failed to unmarshal disk cache entry", "key", key, "error", err)
		c.removeFromDisk(key)
		return zero, Miss
	}

	slog.Debug("Disk cache hit", "key", key, "cached_at", e.CachedAt, "ttl_remaining", time.Until(e.Expiration))
	c.mem.SetWithTTL(key, value, time.Until(e.Expiration))
	return value, HitDisk
}

// Set stores a value in memory and on disk with the default TTL.
func (c *Disk[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.mem.ttl)
}

// SetWithTTL stores a value in memory and on disk.
func (c *Disk[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mem.SetWithTTL(key, value, ttl)
	if !c.enabled {
		return
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		slog.Debug("Failed to marshal value for disk cache", "key", key, "error", err)
		return
	}
	now := time.Now()
	if err := c.saveToDisk(key, diskEntry{Value: valueJSON, Expiration: now.Add(ttl), CachedAt: now}); err != nil {
		slog.Debug("Failed to save to disk cache", "key", key, "error", err)
	}
}

// fileName hashes the key so any key is a safe file name.
func (c *Disk[V]) fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(c.cacheDir, hex.EncodeToString(hash[:])+".json")
}

func (c *Disk[V]) loadFromDisk(key string, v any) bool {
	path := c.fileName(key)
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Failed to open disk cache file", "error", err, "path", path)
		}
		return false
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Debug("Failed to close disk cache file", "error", err, "path", path)
		}
	}()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		slog.Debug("Failed to decode disk cache file", "error", err, "path", path)
		return false
	}
	return true
}

// saveToDisk writes through a temp file and rename.
func (c *Disk[V]) saveToDisk(key string, v any) error {
	path := c.fileName(key)
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, cacheFilePerms)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	if err := json.NewEncoder(file).Encode(v); err != nil {
		_ = file.Close()       //nolint:errcheck // already failing
		_ = os.Remove(tmpPath) //nolint:errcheck // best effort
		return fmt.Errorf("encoding cache data: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best effort
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best effort
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

func (c *Disk[V]) removeFromDisk(key string) {
	path := c.fileName(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("Failed to remove disk cache file", "error", err, "path", path)
	}
}

// cleanOldFiles periodically removes cache files past the retention period.
func (c *Disk[V]) cleanOldFiles(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.removeOlderThan(time.Now().Add(-cacheRetentionPeriod))
		}
	}
}

func (c *Disk[V]) removeOlderThan(cutoff time.Time) int {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		slog.Error("Failed to read cache directory", "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.cacheDir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Debug("Failed to remove old cache file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Cleaned old cache files", "removed", removed)
	}
	return removed
}
