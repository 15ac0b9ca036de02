package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int](0).(*ttlCache[string, int])
	c.now = func() time.Time { return now }

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire at its deadline")

	_, ok = c.Get("b")
	assert.True(t, ok, "zero ttl never expires")

	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestTTLCacheCapacity(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int](2).(*ttlCache[string, int])
	c.now = func() time.Time { return now }

	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Hour)
	c.Set("c", 3, time.Hour)
	_, ok := c.Get("c")
	assert.False(t, ok, "write beyond capacity is dropped")

	now = now.Add(2 * time.Second)
	c.Set("c", 3, time.Hour)
	_, ok = c.Get("c")
	assert.True(t, ok, "expired entries make room")
}

func TestNewStoreWithoutRedisIsInMemory(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Set(ctx, "k", time.Minute))
	exists, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	store := NewStore(client)
	_, err := store.Exists(context.Background(), "k")
	assert.Error(t, err)
}

func TestNilLockerGrantsLease(t *testing.T) {
	var locker *Locker
	token, ok, err := locker.TryLock(context.Background(), "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
	assert.NoError(t, locker.Release(context.Background(), "job", token))

	_, _, err = locker.TryLock(context.Background(), "", time.Minute)
	assert.Error(t, err)
}
