package feed

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"autoliker/internal/domain"

	"golang.org/x/sync/singleflight"
)

type ContentFetcher interface {
	RecentContent(ctx context.Context, fid uint64, limit int) ([]domain.ContentItem, error)
}

// CycleCache memoizes fetch results per target for the lifetime of one
// dispatch cycle. Concurrent misses for the same target share one fetch.
// Failed fetches yield an empty result and are not stored.
type CycleCache struct {
	mu      sync.Mutex
	entries map[uint64][]domain.ContentItem
	group   singleflight.Group
	fetcher ContentFetcher
	log     *slog.Logger
}

func NewCycleCache(fetcher ContentFetcher, log *slog.Logger) *CycleCache {
	return &CycleCache{
		entries: make(map[uint64][]domain.ContentItem),
		fetcher: fetcher,
		log:     log,
	}
}

func (c *CycleCache) Fetch(ctx context.Context, fid uint64, limit int) []domain.ContentItem {
	if items, ok := c.get(fid); ok {
		c.log.DebugContext(ctx, "Using cached content",
			"fid", fid,
			"items", len(items))

		return items
	}

	v, _, _ := c.group.Do(strconv.FormatUint(fid, 10), func() (any, error) {
		if items, ok := c.get(fid); ok {
			return items, nil
		}

		items, err := c.fetcher.RecentContent(ctx, fid, limit)
		if err != nil {
			c.log.ErrorContext(ctx, "Failed to fetch content",
				"error", err,
				"fid", fid)

			return []domain.ContentItem(nil), nil
		}

		c.mu.Lock()
		c.entries[fid] = items
		c.mu.Unlock()

		c.log.InfoContext(ctx, "Content is fetched",
			"fid", fid,
			"items", len(items))

		return items, nil
	})

	items, _ := v.([]domain.ContentItem)

	return slices.Clone(items)
}

func (c *CycleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Clear drops every entry and returns how many there were.
func (c *CycleCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	clear(c.entries)

	return n
}

func (c *CycleCache) get(fid uint64) ([]domain.ContentItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, ok := c.entries[fid]
	if !ok {
		return nil, false
	}

	return slices.Clone(items), true
}
