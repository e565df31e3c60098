package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSettingsCacheTTL bounds how long a cached setting may be served.
	DefaultSettingsCacheTTL = 5 * time.Minute
	settingsCachePrefix     = "flowdesk:setting:"
)

// RedisSettingsCache is a read-through Redis cache in front of a SettingsStore.
// Writes and deletes go to the backing store first and then invalidate the key.
// Values are cached as the backing store returns them, so sealed secrets stay sealed.
type RedisSettingsCache struct {
	next SettingsStore
	rdb  *redis.Client
	ttl  time.Duration
}

var _ SettingsStore = (*RedisSettingsCache)(nil)

// NewRedisSettingsCache wraps next with a cache on rdb. A non-positive ttl uses DefaultSettingsCacheTTL.
func NewRedisSettingsCache(next SettingsStore, rdb *redis.Client, ttl time.Duration) *RedisSettingsCache {
	if ttl <= 0 {
		ttl = DefaultSettingsCacheTTL
	}
	return &RedisSettingsCache{next: next, rdb: rdb, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (c *RedisSettingsCache) GetSetting(ctx context.Context, key string) (string, error) {
	cacheKey := settingsCachePrefix + key
	value, err := c.rdb.Get(ctx, cacheKey).Result()
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, redis.Nil) {
		// cache trouble never fails a read
		slog.Warn("RedisSettingsCache.GetSetting: cache read failed, using store", "key", key, "error", err)
	}

	value, err = c.next.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, cacheKey, value, c.ttl).Err(); err != nil {
		slog.Warn("RedisSettingsCache.GetSetting: cache fill failed", "key", key, "error", err)
	}
	return value, nil
}

func (c *RedisSettingsCache) SetSetting(ctx context.Context, key, value string) error {
	if err := c.next.SetSetting(ctx, key, value); err != nil {
		return err
	}
	return c.invalidate(ctx, key)
}

func (c *RedisSettingsCache) DeleteSetting(ctx context.Context, key string) error {
	if err := c.next.DeleteSetting(ctx, key); err != nil {
		return err
	}
	return c.invalidate(ctx, key)
}

func (c *RedisSettingsCache) invalidate(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, settingsCachePrefix+key).Err(); err != nil {
		slog.Error("RedisSettingsCache.invalidate: failed", "key", key, "error", err)
		return fmt.Errorf("failed to invalidate cached setting %s: %w", key, err)
	}
	return nil
}
