package blame

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/mention-bot/pkg/cache"
	"github.com/codeGROOVE-dev/mention-bot/pkg/types"
)

// Blame at a fixed commit never changes, so entries can be kept for a long time.
const (
	DefaultCacheTTL  = 24 * time.Hour
	DefaultCacheSize = 10000
)

// Cached wraps a Source with a cache keyed by repository, commit, path and ranges.
// Failed lookups are not cached.
type Cached struct {
	source Source
	cache  cache.Store[[]types.BlameEntry]
}

// NewCached creates a Source backed by an in-memory cache.
func NewCached(ctx context.Context, source Source, ttl time.Duration, maxSize int) *Cached {
	return NewCachedStore(source, cache.New[[]types.BlameEntry](ctx, ttl, maxSize))
}

// NewCachedStore creates a Source backed by store, e.g. a cache.Disk that survives restarts.
func NewCachedStore(source Source, store cache.Store[[]types.BlameEntry]) *Cached {
	return &Cached{source: source, cache: store}
}

// OpenStore returns a blame cache persisted under dir, or an in-memory one when
// dir is empty or unusable.
func OpenStore(ctx context.Context, ttl time.Duration, dir string) cache.Store[[]types.BlameEntry] {
	if dir == "" {
		return cache.New[[]types.BlameEntry](ctx, ttl, DefaultCacheSize)
	}
	abs, err := filepath.Abs(dir)
	if err == nil {
		var disk *cache.Disk[[]types.BlameEntry]
		if disk, err = cache.NewDisk[[]types.BlameEntry](ctx, ttl, DefaultCacheSize, abs); err == nil {
			return disk
		}
	}
	slog.WarnContext(ctx, "Failed to open blame cache directory (continuing in memory)", "dir", dir, "error", err)
	return cache.New[[]types.BlameEntry](ctx, ttl, DefaultCacheSize)
}

// Blame implements Source.
func (c *Cached) Blame(ctx context.Context, repositoryURL, commitID, path string, ranges []types.LineRange) ([]types.BlameEntry, error) {
	key := cacheKey(repositoryURL, commitID, path, ranges)
	if entries, ok := c.cache.Get(key); ok {
		slog.DebugContext(ctx, "Blame cache hit", "path", path, "commit", commitID)
		return entries, nil
	}

	entries, err := c.source.Blame(ctx, repositoryURL, commitID, path, ranges)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, entries)
	return entries, nil
}

func cacheKey(repositoryURL, commitID, path string, ranges []types.LineRange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s:%s:", repositoryURL, commitID, path)
	if ranges == nil {
		b.WriteString("*")
	}
	for _, r := range ranges {
		fmt.Fprintf(&b, "%d+%d,", r.Start, r.Len)
	}
	return b.String()
}
