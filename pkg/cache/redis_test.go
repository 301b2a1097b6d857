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

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "folio:", ttl)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	_, ok, err := store.Get(ctx, "/search.json?q=dune")
	require.NoError(t, err)
	assert.False(t, ok, "missing key must not be reported present")

	require.NoError(t, store.Set(ctx, "/search.json?q=dune", []byte(`{"docs":[]}`)))

	got, ok, err := store.Get(ctx, "/search.json?q=dune")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"docs":[]}`, string(got))

	// keys live under the prefix
	raw, err := mr.Get("folio:/search.json?q=dune")
	require.NoError(t, err)
	assert.Equal(t, `{"docs":[]}`, raw)
}

func TestRedisStoreExpires(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	assert.Equal(t, time.Minute, mr.TTL("folio:k"))

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "folio:", time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	mr.Close()

	ctx := context.Background()
	assert.Error(t, store.Ping(ctx))
	_, ok, err := store.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore("not a url", "folio:", time.Minute)
	assert.Error(t, err)
}
