package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "snap/a.bin", strings.NewReader("hello"), 5))
	require.NoError(t, s.Put(ctx, "snap/b.bin", strings.NewReader("world"), -1))
	require.NoError(t, s.Put(ctx, "other/c.bin", strings.NewReader("!"), 1))

	rc, err := s.Get(ctx, "snap/a.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	names, err := s.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/a.bin", "snap/b.bin"}, names)

	require.NoError(t, s.Delete(ctx, "snap/a.bin"))
	require.NoError(t, s.Delete(ctx, "snap/a.bin"))
	_, err = s.Get(ctx, "snap/a.bin")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_SizeMismatch(t *testing.T) {
	s := NewMemoryStore()
	err := s.Put(context.Background(), "x", strings.NewReader("abc"), 10)
	require.Error(t, err)
	assert.Zero(t, s.Len())
}

func TestMemoryStore_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	assert.ErrorIs(t, s.Put(ctx, "x", strings.NewReader(""), 0), context.Canceled)
	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
