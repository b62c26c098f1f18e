package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSet(t *testing.T) {
	c := NewMemory(16)
	ctx := context.Background()

	_, err := c.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	data, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

func TestMemory_Expiry(t *testing.T) {
	c := NewMemory(16)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_Overwrite(t *testing.T) {
	c := NewMemory(16)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("old"), time.Minute))
	require.NoError(t, c.Set(ctx, "k", []byte("new"), time.Minute))

	data, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestMemory_LRUEviction(t *testing.T) {
	c := NewMemory(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, err := c.Get(ctx, "k0")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k3", []byte("v"), time.Minute))

	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "k0")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "k3")
	assert.NoError(t, err)
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemory(16)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, c.Delete(ctx, "a", "missing"))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestMemory_DeleteByPrefix(t *testing.T) {
	c := NewMemory(16)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "coverage:cep:01310100", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "coverage:pt:-23.5500:-46.6000", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "geocode:cep:01310100", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "coverage:"))

	_, err := c.Get(ctx, "coverage:cep:01310100")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "coverage:pt:-23.5500:-46.6000")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get(ctx, "geocode:cep:01310100")
	assert.NoError(t, err)
}

func TestMemory_Stats(t *testing.T) {
	c := NewMemory(16)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "absent")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}
