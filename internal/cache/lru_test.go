package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex/internal/resource"
)

func byteLen(b []byte) int64 { return int64(len(b)) }

func TestLRU_Basic(t *testing.T) {
	c := NewLRU[string](30, byteLen, nil)

	require.True(t, c.Set("a", make([]byte, 10)))
	require.True(t, c.Set("b", make([]byte, 10)))
	require.True(t, c.Set("c", make([]byte, 10)))
	assert.Equal(t, int64(30), c.Size())

	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	require.True(t, c.Set("d", make([]byte, 10)))
	_, ok = c.Get("b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}

	hits, misses := c.Stats()
	assert.Equal(t, int64(4), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_EdgeCases(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRU[int](50, byteLen, rc)

	// Item larger than capacity.
	assert.False(t, c.Set(1, make([]byte, 60)))
	_, ok := c.Get(1)
	assert.False(t, ok)

	// Replacing a key adjusts size and controller usage.
	require.True(t, c.Set(1, make([]byte, 10)))
	require.True(t, c.Set(1, make([]byte, 20)))
	assert.Equal(t, int64(20), c.Size())
	assert.Equal(t, int64(20), rc.MemoryUsage())
	require.True(t, c.Set(1, make([]byte, 5)))
	assert.Equal(t, int64(5), c.Size())
	assert.Equal(t, int64(5), rc.MemoryUsage())

	// The controller refuses when another consumer holds the memory.
	require.NoError(t, rc.AcquireMemory(90))
	assert.False(t, c.Set(2, make([]byte, 10)))
	assert.Equal(t, int64(95), rc.MemoryUsage())
	rc.ReleaseMemory(90)

	c.Remove(1)
	assert.Zero(t, c.Size())
	assert.Zero(t, rc.MemoryUsage())
}

func TestLRU_InvalidateAndPurge(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	c := NewLRU[string](100, byteLen, rc)
	for _, k := range []string{"seg-1", "seg-2", "other"} {
		require.True(t, c.Set(k, make([]byte, 10)))
	}

	c.Invalidate(func(k string) bool { return k[:3] == "seg" })
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(10), rc.MemoryUsage())

	c.Purge()
	assert.Zero(t, c.Len())
	assert.Zero(t, rc.MemoryUsage())
}
