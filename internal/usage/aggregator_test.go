package usage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"mycloud/internal/apperrors"
	"mycloud/internal/models"
)

type fakeSource struct {
	stats map[string]models.UsageStats
	calls int
	err   error
}

func (f *fakeSource) OwnerUsage(_ context.Context, ownerID string) (models.UsageStats, error) {
	f.calls++
	if f.err != nil {
		return models.UsageStats{}, f.err
	}
	return f.stats[ownerID], nil
}

func (f *fakeSource) ListAccountUsage(context.Context, models.AccountFilter, models.AccountOrder) ([]models.AccountUsage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.AccountUsage{{Account: models.Account{ID: "u1"}, FileCount: 1, TotalBytes: 10}}, nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (models.UsageStats, bool, error) {
	return models.UsageStats{}, false, errors.New("cache down")
}
func (brokenCache) Set(context.Context, string, models.UsageStats) error { return errors.New("cache down") }
func (brokenCache) Invalidate(context.Context, string) error             { return errors.New("cache down") }
func (brokenCache) Close() error                                         { return nil }

func TestStatsForCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{stats: map[string]models.UsageStats{"u1": {FileCount: 1, TotalBytes: 10}}}
	agg := NewAggregator(source, NewMemoryCache(10, time.Minute), nil)

	for i := 0; i < 3; i++ {
		stats, err := agg.StatsFor(ctx, "u1")
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.FileCount != 1 || stats.TotalBytes != 10 {
			t.Fatalf("unexpected stats %+v", stats)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected one registry read, got %d", source.calls)
	}

	source.stats["u1"] = models.UsageStats{FileCount: 2, TotalBytes: 25}
	agg.Invalidate(ctx, "u1")
	stats, err := agg.StatsFor(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalBytes != 25 || source.calls != 2 {
		t.Fatalf("expected recompute after invalidate, got %+v after %d calls", stats, source.calls)
	}
}

func TestStatsForExpires(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{stats: map[string]models.UsageStats{}}
	agg := NewAggregator(source, NewMemoryCache(10, 20*time.Millisecond), nil)

	if _, err := agg.StatsFor(ctx, "u1"); err != nil {
		t.Fatalf("stats: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := agg.StatsFor(ctx, "u1"); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected expiry to force a recompute, got %d calls", source.calls)
	}
}

func TestStatsForSurvivesCacheFailures(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{stats: map[string]models.UsageStats{"u1": {FileCount: 3, TotalBytes: 30}}}
	agg := NewAggregator(source, brokenCache{}, nil)

	stats, err := agg.StatsFor(ctx, "u1")
	if err != nil {
		t.Fatalf("expected cache failure to be tolerated, got %v", err)
	}
	if stats.TotalBytes != 30 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	agg.Invalidate(ctx, "u1")
}

func TestStatsForSourceFailure(t *testing.T) {
	agg := NewAggregator(&fakeSource{err: errors.New("db locked")}, nil, nil)
	_, err := agg.StatsFor(context.Background(), "u1")
	if apperrors.KindOf(err) != apperrors.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if _, err := agg.AdminList(context.Background(), models.AccountFilter{}, models.DefaultAccountOrder); apperrors.KindOf(err) != apperrors.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	source := &fakeSource{stats: map[string]models.UsageStats{}}
	agg := NewAggregator(source, NoopCache{}, nil)
	for i := 0; i < 2; i++ {
		if _, err := agg.StatsFor(context.Background(), "u1"); err != nil {
			t.Fatalf("stats: %v", err)
		}
	}
	if source.calls != 2 {
		t.Fatalf("expected every lookup to hit the source, got %d", source.calls)
	}
}

func TestAdminList(t *testing.T) {
	agg := NewAggregator(&fakeSource{}, nil, nil)
	rows, err := agg.AdminList(context.Background(), models.AccountFilter{}, models.DefaultAccountOrder)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(rows) != 1 || rows[0].TotalBytes != 10 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("MYCLOUD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MYCLOUD_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "mycloud:test:" + time.Now().Format("150405.000000") + ":"
	cache, err := NewRedisCache(ctx, RedisOptions{Addr: addr, Prefix: prefix, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cache.Close()

	if _, ok, err := cache.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	want := models.UsageStats{FileCount: 4, TotalBytes: 4096}
	if err := cache.Set(ctx, "u1", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "u1")
	if err != nil || !ok || got != want {
		t.Fatalf("expected %+v, got %+v ok=%v err=%v", want, got, ok, err)
	}
	if err := cache.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "u1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestNewRedisCacheRequiresAddress(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), RedisOptions{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestNewRedisCacheDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	cache := newRedisCache(client, "", 0)
	if cache.prefix != DefaultRedisPrefix || cache.ttl != DefaultTTL {
		t.Fatalf("unexpected defaults prefix=%q ttl=%v", cache.prefix, cache.ttl)
	}
	if cache.key("u1") != DefaultRedisPrefix+"u1" {
		t.Fatalf("unexpected key %q", cache.key("u1"))
	}
}
