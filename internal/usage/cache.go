package usage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"mycloud/internal/models"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultSize = 1000
)

// Cache stores per-owner usage totals. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, ownerID string) (models.UsageStats, bool, error)
	Set(ctx context.Context, ownerID string, stats models.UsageStats) error
	Invalidate(ctx context.Context, ownerID string) error
	Close() error
}

// MemoryCache is a process-local LRU with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, models.UsageStats]
}

// NewMemoryCache creates a MemoryCache holding at most size owners for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[string, models.UsageStats](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, ownerID string) (models.UsageStats, bool, error) {
	stats, ok := c.lru.Get(ownerID)
	return stats, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, ownerID string, stats models.UsageStats) error {
	c.lru.Add(ownerID, stats)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, ownerID string) error {
	c.lru.Remove(ownerID)
	return nil
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}

// NoopCache never stores anything; every lookup recomputes.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (models.UsageStats, bool, error) {
	return models.UsageStats{}, false, nil
}
func (NoopCache) Set(context.Context, string, models.UsageStats) error { return nil }
func (NoopCache) Invalidate(context.Context, string) error             { return nil }
func (NoopCache) Close() error                                         { return nil }
