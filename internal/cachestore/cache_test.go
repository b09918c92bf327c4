package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(10)

	require.NoError(t, s.Set(ctx, "k1", "v1", 0))
	v, found, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", v)
}

func TestGetMissing(t *testing.T) {
	s := New(10)
	v, found, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := New(10)
	require.NoError(t, s.Set(ctx, "k1", "v1", 1))

	s.mu.Lock()
	s.entries["k1"].expiresAt = time.Now().Add(-time.Second)
	s.mu.Unlock()

	_, found, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	s := New(2)

	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Set(ctx, "b", 2, 0))
	// touch "a" so "b" becomes the least-recently-used entry
	_, _, _ = s.Get(ctx, "a")
	require.NoError(t, s.Set(ctx, "c", 3, 0))

	_, found, _ := s.Get(ctx, "b")
	assert.False(t, found, "b should have been evicted as LRU")

	_, found, _ = s.Get(ctx, "a")
	assert.True(t, found)
	_, found, _ = s.Get(ctx, "c")
	assert.True(t, found)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := New(10)
	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Set(ctx, "b", 2, 0))

	require.NoError(t, s.Delete(ctx, "a"))
	_, found, _ := s.Get(ctx, "a")
	assert.False(t, found)

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Stats().Size)
}

func TestStatsCounters(t *testing.T) {
	ctx := context.Background()
	s := New(10)
	require.NoError(t, s.Set(ctx, "a", 1, 0))
	_, _, _ = s.Get(ctx, "a")
	_, _, _ = s.Get(ctx, "missing")

	stats := s.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
}
