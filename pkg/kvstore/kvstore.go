// Package kvstore is the short-lived key-value layer: confirmation codes,
// API tokens, view counters and cached query results.
package kvstore

import (
	"context"
	"time"
)

// Store is the subset of Redis the application relies on.
// A missing key is reported as ok=false, never as an error.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	GetInt(ctx context.Context, key string) (int64, bool, error)
	SAdd(ctx context.Context, key, member string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
