package writer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/integrity"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/storage"
)

var model3 = manifest.Model{ID: "m", Dims: 3, DType: segment.DTypeF32}

func metaLines(t *testing.T, n int) []string {
	t.Helper()
	lines := make([]string, n)
	for i := range lines {
		l, err := segment.MarshalMeta(segment.Meta{Path: fmt.Sprintf("doc%d.md", i), ChunkID: fmt.Sprintf("c%d", i), Len: 1})
		require.NoError(t, err)
		lines[i] = l
	}
	return lines
}

func newWriter(st storage.Adapter) (*Writer, *manifest.Store) {
	ms := manifest.NewStore(st, "idx", nil)
	return New(st, ms, WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })), ms
}

func TestCommit_FirstSegment(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	w, ms := newWriter(st)

	m, err := w.Commit(ctx, Request{
		ID:        "s1",
		Vectors:   segment.Float32s{0, 0, 1, 1, 0, 0},
		MetaLines: metaLines(t, 2),
		Model:     model3,
	})
	require.NoError(t, err)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, "s1", m.Segments[0].ID)
	assert.Equal(t, 2, m.Segments[0].Rows)
	assert.Equal(t, "segments/s1.bin", m.Segments[0].Bin)
	assert.Equal(t, "meta/s1.jsonl", m.Segments[0].Meta)
	assert.Equal(t, manifest.Stats{Rows: 2, Segments: 1}, m.Stats)

	loaded, err := ms.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	data, err := st.ReadBinary(ctx, "idx/segments/s1.bin")
	require.NoError(t, err)
	seg, err := segment.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, seg.CRC, m.Segments[0].CRC)

	names, err := st.ListDir(ctx, "idx/tmp")
	require.NoError(t, err)
	assert.Empty(t, names)

	report := integrity.Verify(ctx, st, ms)
	assert.True(t, report.OK, report.Issues)
	assert.Empty(t, report.Orphans)
}

func TestCommit_AppendsAndKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	w, _ := newWriter(st)

	m1, err := w.Commit(ctx, Request{ID: "a", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 1), Model: model3})
	require.NoError(t, err)

	w.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	m2, err := w.Commit(ctx, Request{ID: "b", Vectors: segment.Float32s{1, 2, 3, 4, 5, 6}, MetaLines: metaLines(t, 2), Model: model3, Prev: m1})
	require.NoError(t, err)

	assert.Equal(t, m1.CreatedAt, m2.CreatedAt)
	assert.Equal(t, manifest.Stats{Rows: 3, Segments: 2}, m2.Stats)
	assert.Len(t, m1.Segments, 1)

	// Without Prev the current manifest is read.
	m3, err := w.Commit(ctx, Request{ID: "c", Vectors: segment.Float32s{0, 0, 0}, MetaLines: metaLines(t, 1), Model: model3})
	require.NoError(t, err)
	assert.Equal(t, manifest.Stats{Rows: 4, Segments: 3}, m3.Stats)
}

func TestCommit_ModelMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	w, _ := newWriter(st)

	_, err := w.Commit(ctx, Request{ID: "a", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 1), Model: model3})
	require.NoError(t, err)
	before := st.Files()

	other := manifest.Model{ID: "m", Dims: 2, DType: segment.DTypeF32}
	_, err = w.Commit(ctx, Request{ID: "b", Vectors: segment.Float32s{1, 2}, MetaLines: metaLines(t, 1), Model: other})
	assert.ErrorIs(t, err, errs.ErrModelMismatch)

	other = manifest.Model{ID: "m2", Dims: 3, DType: segment.DTypeF32}
	_, err = w.Commit(ctx, Request{ID: "b", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 1), Model: other})
	assert.ErrorIs(t, err, errs.ErrModelMismatch)

	assert.Equal(t, before, st.Files())
}

func TestCommit_Preconditions(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	w, _ := newWriter(st)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"partial row", Request{ID: "x", Vectors: segment.Float32s{1, 2}, MetaLines: metaLines(t, 1), Model: model3}, errs.ErrInvalidArgument},
		{"meta count", Request{ID: "x", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 2), Model: model3}, errs.ErrInvalidArgument},
		{"bad id", Request{ID: "../x", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 1), Model: model3}, errs.ErrInvalidArgument},
		{"dtype", Request{ID: "x", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 1), Model: manifest.Model{ID: "m", Dims: 3, DType: segment.DTypeF16}}, errs.ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Commit(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := w.Commit(ctx, Request{ID: "x", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 1), Model: model3})
	require.NoError(t, err)
	_, err = w.Commit(ctx, Request{ID: "x", Vectors: segment.Float32s{1, 2, 3}, MetaLines: metaLines(t, 1), Model: model3})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

// TestCommit_CrashAtEveryBoundary injects a crash at each atomic write and
// rename of a commit and checks that the surviving state is consistent.
func TestCommit_CrashAtEveryBoundary(t *testing.T) {
	ops := map[storage.Op]int{
		storage.OpWriteBinary: 1, // staged binary
		storage.OpWriteText:   2, // staged metadata, manifest scratch
		storage.OpExists:      1, // manifest presence check
		storage.OpRename:      4, // binary, metadata, manifest backup, manifest swap
	}

	for op, n := range ops {
		for i := 1; i <= n; i++ {
			t.Run(fmt.Sprintf("%s-%d", op, i), func(t *testing.T) {
				ctx := context.Background()
				mem := storage.NewMemoryStore()
				w0, _ := newWriter(mem)
				_, err := w0.Commit(ctx, Request{ID: "s0", Vectors: segment.Float32s{1, 0, 0}, MetaLines: metaLines(t, 1), Model: model3})
				require.NoError(t, err)

				faulty := storage.NewFaultyStore(mem, 1)
				faulty.CrashAt(op, i)
				w, _ := newWriter(faulty)
				_, err = w.Commit(ctx, Request{ID: "s1", Vectors: segment.Float32s{0, 1, 0, 0, 0, 1}, MetaLines: metaLines(t, 2), Model: model3})
				require.ErrorIs(t, err, storage.ErrInjectedCrash)

				// Restart on the surviving state.
				ms := manifest.NewStore(mem, "idx", nil)
				m, err := ms.Load(ctx)
				require.NoError(t, err)
				require.NotNil(t, m)
				assert.Len(t, m.Segments, 1, "pre-commit state")
				assert.Equal(t, manifest.Stats{Rows: 1, Segments: 1}, m.Stats)

				report := integrity.Verify(ctx, mem, ms)
				assert.True(t, report.OK, report.Issues)

				// Cleanup is idempotent and never touches published state.
				New(mem, ms).CleanupTmp(ctx)
				New(mem, ms).CleanupTmp(ctx)
				report = integrity.Verify(ctx, mem, ms)
				assert.True(t, report.OK, report.Issues)
			})
		}
	}
}

func TestCleanupTmp(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	w, _ := newWriter(st)

	require.NoError(t, st.WriteBinaryAtomic(ctx, "idx/tmp/SEG-x.bin", []byte{1}))
	require.NoError(t, st.WriteTextAtomic(ctx, "idx/tmp/SEG-x.jsonl", "{}"))

	assert.Equal(t, 2, w.CleanupTmp(ctx))
	assert.Equal(t, 0, w.CleanupTmp(ctx))
}
