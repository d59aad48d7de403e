package auth

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Refill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	policy := Policy{RPM: 60, Burst: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a", policy, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a", policy, 1)
	assert.False(t, ok)

	now = now.Add(time.Second)
	ok, _ = l.Allow(ctx, "a", policy, 1)
	assert.True(t, ok, "one token per second at 60 RPM")
}

func TestMemoryLimiter_SweepForgetsRefilledBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	policy := Policy{RPM: 60, Burst: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Allow(ctx, "a", policy, 1)
		require.NoError(t, err)
	}
	_, err := l.Allow(ctx, "b", policy, 1)
	require.NoError(t, err)

	now = now.Add(time.Second)
	assert.Equal(t, 1, l.Sweep(), "b refilled after one second")
	ok, _ := l.Allow(ctx, "a", policy, 1)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, l.Sweep())
	assert.Empty(t, l.buckets)

	ok, _ = l.Allow(ctx, "a", policy, 2)
	assert.True(t, ok, "a forgotten bucket starts full")
}

// TestRedisLimiter_Integration requires a running Redis and skips otherwise.
func TestRedisLimiter_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	l := NewRedisLimiter(client)
	policy := Policy{RPM: 60, Burst: 1}
	actor := "test-redis-actor-" + time.Now().Format(time.RFC3339Nano)
	defer client.Del(ctx, "throttle:"+actor)

	ok, err := l.Allow(ctx, actor, policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, actor, policy, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(1100 * time.Millisecond)
	ok, err = l.Allow(ctx, actor, policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
