package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nutrishelf/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache returns a cache whose clock is advanced by the returned func
func newTestCache(t *testing.T) (*MemoryCache, func(time.Duration)) {
	t.Helper()
	cache := NewMemoryCache(time.Hour)
	t.Cleanup(func() { cache.Close() })

	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	return cache, advance
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{name: "string", key: "k1", value: "test-value"},
		{name: "bytes", key: "k2", value: []byte(`{"productId":"1"}`)},
		{name: "struct", key: "k3", value: domain.SimilarProduct{ProductID: "1", Score: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, _ := newTestCache(t)
			ctx := context.Background()

			require.NoError(t, cache.Set(ctx, tt.key, tt.value, time.Minute))

			got, err := cache.Get(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestMemoryCache_CopiesBytes(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, cache.Set(ctx, "k", value, time.Minute))
	value[0] = 'x'

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryCache_Expiration(t *testing.T) {
	cache, advance := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", "value", time.Second))
	advance(2 * time.Second)

	_, err := cache.Get(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	exists, err := cache.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, exists)

	// Expired entries stay until swept
	assert.Equal(t, 1, cache.Size())
	cache.sweep()
	assert.Zero(t, cache.Size())
}

func TestMemoryCache_Get_CacheMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.Get(context.Background(), "non-existent-key")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestMemoryCache_Delete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "delete-test", "value", time.Minute))
	require.NoError(t, cache.Delete(ctx, "delete-test"))

	_, err := cache.Get(ctx, "delete-test")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestMemoryCache_Exists(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	exists, err := cache.Exists(ctx, "exists-test")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, cache.Set(ctx, "exists-test", "value", time.Minute))

	exists, err = cache.Exists(ctx, "exists-test")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryCache_SizeAndClear(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("key-%d", i), i, time.Minute))
	}
	assert.Equal(t, 5, cache.Size())

	require.NoError(t, cache.Delete(ctx, "key-0"))
	assert.Equal(t, 4, cache.Size())

	cache.Clear()
	assert.Zero(t, cache.Size())
	_, err := cache.Get(ctx, "key-1")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", id)
			assert.NoError(t, cache.Set(ctx, key, id, time.Minute))
			got, err := cache.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, id, got)
		}(i)
	}
	wg.Wait()
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	cache := NewMemoryCache(time.Millisecond)
	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())
}

func TestNew(t *testing.T) {
	c, err := New(context.Background(), Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
	require.NoError(t, c.Close())

	_, err = New(context.Background(), Config{Type: "memcached"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Type: "redis", RedisURL: "not a url"})
	assert.Error(t, err)
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{name: "string", value: "plain", expected: "plain"},
		{name: "bytes", value: []byte("raw"), expected: "raw"},
		{name: "struct", value: domain.SimilarProduct{ProductID: "1", Score: 1}, expected: `{"productId":"1","score":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodeValue(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}
