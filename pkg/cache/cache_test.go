package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCacheTests(t *testing.T, c Cache, expire func(time.Duration)) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hit", func(t *testing.T) {
		entry := &Entry{Outputs: map[string]any{"answer": "42"}, Ports: []int{1}}
		require.NoError(t, c.Set(ctx, "k", entry, time.Minute))

		got, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "42", got.Outputs["answer"])
		assert.Equal(t, []int{1}, got.Ports)
	})

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", &Entry{Outputs: map[string]any{}}, time.Second))
		expire(2 * time.Second)

		_, ok, err := c.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryCache(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	runCacheTests(t, c, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	runCacheTests(t, NewRedisCache(client), mr.FastForward)
}

func TestKey(t *testing.T) {
	t.Parallel()

	a, err := Key("g", "n", "h", map[string]any{"x": 1, "y": "two"})
	require.NoError(t, err)
	b, err := Key("g", "n", "h", map[string]any{"y": "two", "x": 1})
	require.NoError(t, err)
	c, err := Key("g", "n", "h", map[string]any{"x": 2, "y": "two"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = Key("g", "n", "h", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}
