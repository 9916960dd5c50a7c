package wal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/storage"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAppendAndEntries(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	w := Open(st, "idx", DefaultOptions())

	entries, err := w.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, w.Append(ctx, Entry{ID: "a", Path: "a.md", Status: StatusPending, EnqAt: 1}))
	require.NoError(t, w.Append(ctx, Entry{ID: "b", Path: "b.md", Status: StatusPending, EnqAt: 2}))

	entries, err = w.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)

	text, err := st.ReadText(ctx, "idx/"+FileName)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a","path":"a.md","status":"pending","enq_at":1}`+"\n"+
		`{"id":"b","path":"b.md","status":"pending","enq_at":2}`+"\n", text)
}

func TestEntries_SkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	w := Open(st, "idx", DefaultOptions())

	raw := `{"id":"a","status":"pending","enq_at":1}` + "\n" +
		`{"id":"b","stat` + "\n" +
		`not json at all` + "\n" +
		`{"status":"done"}` + "\n" +
		`{"id":"c","status":"started","enq_at":3}`
	require.NoError(t, st.WriteTextAtomic(ctx, "idx/"+FileName, raw))

	entries, err := w.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "c", entries[1].ID)

	// Appending after a tail without newline keeps lines separate.
	require.NoError(t, w.Append(ctx, Entry{ID: "d", Status: StatusPending, EnqAt: 4}))
	entries, err = w.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPending_FoldsByGreatestEnqAt(t *testing.T) {
	ctx := context.Background()
	w := Open(storage.NewMemoryStore(), "idx", DefaultOptions())
	now := time.UnixMilli(10_000)

	a := Entry{ID: "a", Path: "a.md", Status: StatusPending, EnqAt: 100}
	b := Entry{ID: "b", Path: "b.md", Status: StatusPending, EnqAt: 200}
	c := Entry{ID: "c", Path: "c.md", Status: StatusPending, EnqAt: 300}

	for _, e := range []Entry{
		a, b, c,
		a.Transition(StatusStarted, now, nil),
		a.Transition(StatusDone, now, nil),
		b.Transition(StatusStarted, now, nil),
		c.Transition(StatusFailed, now, errors.New("boom")),
		// A stale line with a smaller enq_at does not override.
		{ID: "c", Status: StatusPending, EnqAt: 1},
	} {
		require.NoError(t, w.Append(ctx, e))
	}

	pending, err := w.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
	assert.Equal(t, StatusStarted, pending[0].Status)
}

func TestTransition(t *testing.T) {
	now := time.UnixMilli(5000)
	e := Entry{ID: "x", EnqAt: 1, Status: StatusPending}

	started := e.Transition(StatusStarted, now, nil)
	assert.Equal(t, int64(0), started.DoneAt)
	assert.Equal(t, int64(1), started.EnqAt)

	failed := started.Transition(StatusFailed, now, errors.New("disk full"))
	assert.Equal(t, int64(5000), failed.DoneAt)
	assert.Equal(t, "disk full", failed.Err)
	assert.Equal(t, StatusPending, e.Status)
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	st := storage.NewMemoryStore()
	w := Open(st, "idx", Options{Now: fixedClock(now)})

	old := now.Add(-48 * time.Hour).UnixMilli()
	recent := now.Add(-time.Hour).UnixMilli()

	for _, e := range []Entry{
		{ID: "old-done", Status: StatusPending, EnqAt: old},
		{ID: "old-done", Status: StatusDone, EnqAt: old, DoneAt: old},
		{ID: "old-failed", Status: StatusFailed, EnqAt: old, DoneAt: old, Err: "x"},
		{ID: "old-pending", Status: StatusPending, EnqAt: old},
		{ID: "old-started", Status: StatusStarted, EnqAt: old},
		{ID: "recent-done", Status: StatusDone, EnqAt: recent, DoneAt: recent},
		{ID: "no-done-at", Status: StatusDone, EnqAt: old},
	} {
		require.NoError(t, w.Append(ctx, e))
	}

	removed, err := w.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	entries, err := w.Entries(ctx)
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"old-pending", "old-started", "recent-done"}, ids)

	// Compaction is idempotent.
	removed, err = w.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestAppend_WriteFailureIsIOError(t *testing.T) {
	ctx := context.Background()
	st := storage.NewFaultyStore(storage.NewMemoryStore(), 1)
	w := Open(st, "idx", DefaultOptions())

	require.NoError(t, w.Append(ctx, Entry{ID: "a", Status: StatusPending, EnqAt: 1}))

	st.CrashAt(storage.OpWriteText, 2)
	err := w.Append(ctx, Entry{ID: "b", Status: StatusPending, EnqAt: 2})
	assert.ErrorIs(t, err, errs.ErrIO)
	assert.ErrorIs(t, err, storage.ErrInjectedCrash)

	st.Recover()
	entries, err := w.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFold_TieGoesToLaterEntry(t *testing.T) {
	out := Fold([]Entry{
		{ID: "a", Status: StatusPending, EnqAt: 5},
		{ID: "b", Status: StatusPending, EnqAt: 5},
		{ID: "a", Status: StatusDone, EnqAt: 5},
	})
	require.Len(t, out, 2)
	assert.Equal(t, StatusDone, out[0].Status)
	assert.Equal(t, "b", out[1].ID)
}
