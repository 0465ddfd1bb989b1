// Package usage computes per-account storage totals and caches them.
package usage

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mycloud/internal/apperrors"
	"mycloud/internal/models"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycloud_usage_cache_hits_total",
		Help: "Usage lookups served from the cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycloud_usage_cache_misses_total",
		Help: "Usage lookups recomputed from the registry.",
	})
	cacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycloud_usage_cache_errors_total",
		Help: "Usage cache operations that failed.",
	})
)

// Source supplies the authoritative totals.
type Source interface {
	OwnerUsage(ctx context.Context, ownerID string) (models.UsageStats, error)
	ListAccountUsage(ctx context.Context, filter models.AccountFilter, order models.AccountOrder) ([]models.AccountUsage, error)
}

// Aggregator serves usage statistics. Per-owner totals may be stale by up to
// the cache TTL unless invalidated.
type Aggregator struct {
	source Source
	cache  Cache
	logger *slog.Logger
}

// NewAggregator constructs an Aggregator. A nil cache disables caching.
func NewAggregator(source Source, cache Cache, logger *slog.Logger) *Aggregator {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Aggregator{source: source, cache: cache, logger: logger}
}

func (a *Aggregator) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

// StatsFor returns the visible file count and byte total of one owner.
// Cache failures fall back to the registry.
func (a *Aggregator) StatsFor(ctx context.Context, ownerID string) (models.UsageStats, error) {
	stats, ok, err := a.cache.Get(ctx, ownerID)
	if err != nil {
		cacheErrorsTotal.Inc()
		a.log().Warn("usage cache get failed", "owner_id", ownerID, "err", err)
	}
	if ok {
		cacheHitsTotal.Inc()
		return stats, nil
	}
	cacheMissesTotal.Inc()

	stats, err = a.source.OwnerUsage(ctx, ownerID)
	if err != nil {
		return models.UsageStats{}, apperrors.Internal(err, "compute usage")
	}
	if err := a.cache.Set(ctx, ownerID, stats); err != nil {
		cacheErrorsTotal.Inc()
		a.log().Warn("usage cache set failed", "owner_id", ownerID, "err", err)
	}
	return stats, nil
}

// Invalidate drops the cached totals of one owner.
func (a *Aggregator) Invalidate(ctx context.Context, ownerID string) {
	if err := a.cache.Invalidate(ctx, ownerID); err != nil {
		cacheErrorsTotal.Inc()
		a.log().Warn("usage cache invalidate failed", "owner_id", ownerID, "err", err)
	}
}

// AdminList aggregates usage for every account matching filter. It always
// reads the registry.
func (a *Aggregator) AdminList(ctx context.Context, filter models.AccountFilter, order models.AccountOrder) ([]models.AccountUsage, error) {
	rows, err := a.source.ListAccountUsage(ctx, filter, order)
	if err != nil {
		return nil, apperrors.Internal(err, "list account usage")
	}
	return rows, nil
}

// Close releases the cache.
func (a *Aggregator) Close() error {
	return a.cache.Close()
}
