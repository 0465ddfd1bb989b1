package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mycloud/internal/models"
)

const (
	DefaultRedisPrefix = "mycloud:usage:"
	redisOpTimeout     = 2 * time.Second
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache keeps usage totals in Redis as JSON so several server
// instances share one view.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return newRedisCache(client, opts.Prefix, opts.TTL), nil
}

func newRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(ownerID string) string {
	return c.prefix + ownerID
}

func (c *RedisCache) Get(ctx context.Context, ownerID string) (models.UsageStats, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, c.key(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.UsageStats{}, false, nil
	}
	if err != nil {
		return models.UsageStats{}, false, err
	}
	var stats models.UsageStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return models.UsageStats{}, false, fmt.Errorf("decode cached usage: %w", err)
	}
	return stats, true, nil
}

func (c *RedisCache) Set(ctx context.Context, ownerID string, stats models.UsageStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return c.client.Set(ctx, c.key(ownerID), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return c.client.Del(ctx, c.key(ownerID)).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
