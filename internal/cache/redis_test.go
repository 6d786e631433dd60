// ABOUTME: Tests for the Redis cache implementation using miniredis
// ABOUTME: Covers get/set/del/exists, SETNX lock semantics and TTL expiry

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

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisFromClient(client, "test:")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedis_GetSet(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestRedis_Del(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Del(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_Exists(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_SetIfAbsent(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	ok, err := c.SetIfAbsent(ctx, "lock", "1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "first acquisition should win")

	ok, err = c.SetIfAbsent(ctx, "lock", "2", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquisition must fail while the lock is held")

	require.NoError(t, c.Del(ctx, "lock"))
	ok, err = c.SetIfAbsent(ctx, "lock", "3", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock is acquirable again after release")
}

func TestRedis_TTLExpiry(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "marker", "seen", time.Second))
	ok, err := c.Exists(ctx, "marker")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = c.Exists(ctx, "marker")
	require.NoError(t, err)
	assert.False(t, ok, "marker must be gone after TTL eviction")
}

func TestNoop_FailsOpen(t *testing.T) {
	c := NewNoop()
	ctx := context.Background()

	_, err := c.Get(ctx, "anything")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "noop cache never remembers")

	acquired, err := c.SetIfAbsent(ctx, "lock", "1", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired, "noop lock always grants")

	assert.NoError(t, c.Close())
}
