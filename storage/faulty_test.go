package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultyStore_CrashAt(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	f := NewFaultyStore(inner, 7)

	f.CrashAt(OpWriteText, 2)

	require.NoError(t, f.WriteTextAtomic(ctx, "one", "1"))
	err := f.WriteTextAtomic(ctx, "two", "2")
	assert.ErrorIs(t, err, ErrInjectedCrash)
	assert.True(t, f.Crashed())

	// Everything fails until recovery.
	_, err = f.ReadText(ctx, "one")
	assert.ErrorIs(t, err, ErrInjectedCrash)

	f.Recover()
	text, err := f.ReadText(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "1", text)

	ok, err := inner.Exists(ctx, "two")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, f.Calls(OpWriteText))
}

func TestFaultyStore_PatternAndPartial(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	f := NewFaultyStore(inner, 1)

	f.AddFault(Fault{Op: OpWriteBinary, Pattern: ".bin", Partial: 3})

	err := f.WriteBinaryAtomic(ctx, "seg/1.bin", []byte("abcdef"))
	assert.ErrorIs(t, err, ErrInjectedFault)
	assert.False(t, f.Crashed())

	got, err := inner.ReadBinary(ctx, "seg/1.bin")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	// Non-sticky faults fire once.
	require.NoError(t, f.WriteBinaryAtomic(ctx, "seg/1.bin", []byte("abcdef")))
}

func TestFaultyStore_RenameFailure(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	f := NewFaultyStore(inner, 1)
	boom := errors.New("rename refused")

	require.NoError(t, inner.WriteTextAtomic(ctx, "a", "x"))
	f.AddFault(Fault{Op: OpRename, Err: boom, Sticky: true})

	assert.ErrorIs(t, f.RenameAtomic(ctx, "a", "b"), boom)
	assert.ErrorIs(t, f.RenameAtomic(ctx, "a", "b"), boom)

	f.Reset()
	require.NoError(t, f.RenameAtomic(ctx, "a", "b"))
}

func TestFaultyStore_CorruptReads(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	f := NewFaultyStore(inner, 42)

	orig := []byte("0123456789")
	require.NoError(t, inner.WriteBinaryAtomic(ctx, "segments/s.bin", orig))
	f.CorruptReads("segments/", 1)

	got, err := f.ReadBinary(ctx, "segments/s.bin")
	require.NoError(t, err)
	assert.NotEqual(t, orig, got)

	clean, err := inner.ReadBinary(ctx, "segments/s.bin")
	require.NoError(t, err)
	assert.Equal(t, orig, clean)
}
