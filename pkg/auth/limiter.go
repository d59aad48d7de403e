package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy bounds how often an actor may hit a throttled endpoint.
type Policy struct {
	RPM   int
	Burst int
}

// LimiterStore holds the token buckets.
type LimiterStore interface {
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

func (p Policy) ratePerSec() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		r = 1.0
	}
	return r
}

// tokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] bucket key; ARGV rate/s, capacity, cost, now (s).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return {allowed, tostring(tokens)}
`)

// RedisLimiter shares buckets between server instances.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a limiter on client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error) {
	key := "throttle:" + actorID
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, policy.ratePerSec(), policy.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	results, ok := res.([]any)
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	// full is when the bucket refills to capacity and can be forgotten.
	full time.Time
}

// MemoryLimiter keeps buckets in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(policy.Burst)
	b, ok := l.buckets[actorID]
	if !ok {
		b = &bucket{tokens: capacity, lastRefill: now}
		l.buckets[actorID] = b
	}
	b.tokens += now.Sub(b.lastRefill).Seconds() * policy.ratePerSec()
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now

	allowed := b.tokens >= float64(cost)
	if allowed {
		b.tokens -= float64(cost)
	}
	refill := (capacity - b.tokens) / policy.ratePerSec()
	b.full = now.Add(time.Duration(refill * float64(time.Second)))
	return allowed, nil
}

// Sweep forgets buckets that have refilled to capacity, since a missing
// bucket starts full.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for id, b := range l.buckets {
		if !now.Before(b.full) {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}
