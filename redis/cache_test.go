package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisLib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redisLib.NewClient(&redisLib.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), s
}

type payload struct {
	Name string `json:"name"`
}

func TestCache_SetGet(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", payload{Name: "draft"}, time.Minute))

	var got payload
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "draft", got.Name)
}

func TestCache_Miss(t *testing.T) {
	cache, _ := setupCache(t)

	var got payload
	found, err := cache.Get(context.Background(), "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Expiry(t *testing.T) {
	cache, s := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", payload{Name: "x"}, time.Second))
	s.FastForward(2 * time.Second)

	var got payload
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Versions(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	assert.Equal(t, int64(0), cache.GetVersion(ctx, "v"))
	require.NoError(t, cache.IncrementVersion(ctx, "v"))
	require.NoError(t, cache.IncrementVersion(ctx, "v"))
	assert.Equal(t, int64(2), cache.GetVersion(ctx, "v"))
}

func TestCache_NilIsMiss(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "k", payload{}, time.Minute))
	found, err := cache.Get(ctx, "k", &payload{})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(0), cache.GetVersion(ctx, "v"))
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := NewClient(addr)
	assert.Error(t, err)
}
