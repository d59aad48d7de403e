// Package cache stores JSON-encoded query results and whole GET responses in
// the key-value store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkwell-labs/forum/pkg/kvstore"
)

// DefaultTTL applies when Set is called with a zero ttl.
const DefaultTTL = 300 * time.Second

// Cache is a JSON cache over a kvstore.Store.
type Cache struct {
	kv kvstore.Store
}

// New creates a cache over kv.
func New(kv kvstore.Store) *Cache {
	return &Cache{kv: kv}
}

// Get decodes the value at key into dst. A miss or an undecodable entry
// reports false.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, nil
	}
	return true, nil
}

// Set stores v at key for ttl (DefaultTTL when zero).
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.kv.Set(ctx, key, string(raw), ttl)
}

// Delete removes keys. It is a no-op on a nil cache.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil {
		return nil
	}
	return c.kv.Delete(ctx, keys...)
}

// GetOrLoad returns the cached value at key, calling load and caching its
// result on a miss. Cache failures fall through to load.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c != nil {
		if ok, err := c.Get(ctx, key, &v); err == nil && ok {
			return v, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		_ = c.Set(ctx, key, v, ttl)
	}
	return v, nil
}
