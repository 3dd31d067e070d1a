package cache

import (
	"context"
	"time"
)

// Cache stores JSON-serializable values under namespaced string keys.
// A zero TTL means the implementation's default expiry.
type Cache interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes every key under the cache's namespace and returns the
	// number of keys dropped.
	Clear(ctx context.Context) (int64, error)
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	SetMany(ctx context.Context, values map[string]any, ttl time.Duration) error
}
