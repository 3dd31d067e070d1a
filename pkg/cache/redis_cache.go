package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// RedisCache is a namespaced JSON cache on Redis.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

type RedisCacheConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "serpassist"
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}),
		prefix:     prefix,
		defaultTTL: ttl,
	}, nil
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

// Get loads a value into out. It reports false on a cache miss.
func (c *RedisCache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode cached value %s: %w", key, err)
	}
	return true, nil
}

// Set stores a JSON-encoded value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.client.Set(ctx, c.key(key), raw, ttl).Err()
}

// Delete removes one key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// Exists reports whether a key is present.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear drops every key under the cache prefix using SCAN, so it stays safe
// on a shared Redis.
func (c *RedisCache) Clear(ctx context.Context) (int64, error) {
	var dropped int64
	var cursor uint64
	pattern := c.prefix + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return dropped, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			dropped += n
			if err != nil {
				return dropped, err
			}
		}
		cursor = next
		if cursor == 0 {
			return dropped, nil
		}
	}
}

// GetMany fetches several keys in one round trip. Missing keys are absent
// from the result map; values stay raw JSON.
func (c *RedisCache) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.key(k)
	}
	values, err := c.client.MGet(ctx, namespaced...).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			result[keys[i]] = s
		}
	}
	return result, nil
}

// SetMany stores several values in one pipeline, all with the same TTL.
func (c *RedisCache) SetMany(ctx context.Context, values map[string]any, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	pipe := c.client.TxPipeline()
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode cache value %s: %w", k, err)
		}
		pipe.Set(ctx, c.key(k), raw, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
