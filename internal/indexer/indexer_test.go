package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex/embed"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/scheduler"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/internal/wal"
	"github.com/hupe1980/semindex/lexical/bm25"
	"github.com/hupe1980/semindex/storage"
)

type failingEmbedder struct{}

func (failingEmbedder) EmbedBatch(context.Context, []string) (embed.Result, error) {
	return embed.Result{}, errors.New("model exploded")
}

type env struct {
	t     *testing.T
	docs  *storage.MemoryStore
	store *storage.MemoryStore
	sched *scheduler.Scheduler
	ix    *Indexer
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Model = manifest.Model{ID: "hash", Dims: 8, DType: segment.DTypeF32}
	cfg.ReconcileInterval = 0
	return cfg
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{t: t, docs: storage.NewMemoryStore(), store: storage.NewMemoryStore()}
	e.open(nil, testConfig())
	return e
}

func (e *env) open(emb Embedder, cfg Config) {
	e.t.Helper()
	if emb == nil {
		m := embed.NewManager(embed.NewHashBackend(8), embed.Config{ModelID: "hash", Dims: 8})
		require.NoError(e.t, m.Start(context.Background()))
		emb = m
	}
	e.sched = scheduler.New(scheduler.Options{})
	e.t.Cleanup(func() { _ = e.sched.Close() })

	ix, err := New(e.docs, e.store, emb, e.sched, cfg)
	require.NoError(e.t, err)
	require.NoError(e.t, ix.Start(context.Background()))
	e.ix = ix
}

func (e *env) write(p, text string) {
	e.t.Helper()
	require.NoError(e.t, e.docs.WriteTextAtomic(context.Background(), p, text))
}

func (e *env) enqueue(p string) bool {
	e.t.Helper()
	ok, err := e.ix.Enqueue(context.Background(), p)
	require.NoError(e.t, err)
	return ok
}

func (e *env) wait() {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(e.t, e.sched.WaitIdle(ctx))
}

func (e *env) lexicalPaths(query string) []string {
	e.t.Helper()
	res, err := e.ix.Lexical().Search(query, 10)
	require.NoError(e.t, err)
	var out []string
	for _, r := range res {
		out = append(out, r.Path)
	}
	return out
}

func TestIndexer_EnqueueAndProcess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("notes/a.md", "# Cats\n\nCats purr and sleep all day.\n")
	e.write("b.md", "Dogs bark at the mailman.\n")

	assert.True(t, e.enqueue("notes/a.md"))
	assert.True(t, e.enqueue("b.md"))
	e.wait()

	m := e.ix.Manifest()
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Stats.Segments)
	assert.Equal(t, []string{"notes/a.md"}, e.lexicalPaths("cats"))
	assert.Equal(t, []string{"b.md", "notes/a.md"}, e.ix.Liveness().Paths())

	entries, err := e.ix.WAL().Entries(ctx)
	require.NoError(t, err)
	for _, en := range wal.Fold(entries) {
		assert.Equal(t, wal.StatusDone, en.Status, en.Path)
	}

	text, err := e.store.ReadText(ctx, m.Segments[0].Meta)
	require.NoError(t, err)
	meta, err := segment.ParseMeta(segment.Lines(text)[0])
	require.NoError(t, err)
	assert.Equal(t, "Cats", meta.Heading)
	assert.Contains(t, meta.Hash, "sha256:")

	report := e.ix.Verify(ctx)
	assert.True(t, report.OK, report.Issues)
	assert.Empty(t, report.Orphans)

	// Unchanged documents are not queued again.
	assert.False(t, e.enqueue("notes/a.md"))
}

func TestIndexer_ReindexSupersedesRows(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", "first version about apples")
	e.enqueue("a.md")
	e.wait()

	e.write("a.md", "second version about bananas and more")
	assert.True(t, e.enqueue("a.md"))
	e.wait()

	m := e.ix.Manifest()
	require.Len(t, m.Segments, 2)
	seg, ok := e.ix.Liveness().Segment("a.md")
	require.True(t, ok)
	assert.Equal(t, m.Segments[1].ID, seg)
	assert.False(t, e.ix.Liveness().IsLive(m.Segments[0].ID, 0))

	assert.Empty(t, e.lexicalPaths("apples"))
	assert.Equal(t, []string{"a.md"}, e.lexicalPaths("bananas"))
}

func TestIndexer_TouchOnlyRefreshesLedger(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.docs.SetClock(func() time.Time { return time.Unix(100, 0) })
	e.write("a.md", "same text")
	e.enqueue("a.md")
	e.wait()

	e.docs.SetClock(func() time.Time { return time.Unix(200, 0) })
	e.write("a.md", "same text")
	assert.False(t, e.enqueue("a.md"))

	entry, ok, err := e.ix.Ledger().Get(ctx, "a.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200_000), entry.MtimeMs)
	assert.Len(t, e.ix.Manifest().Segments, 1)
}

func TestIndexer_AcceptsAndEmptyDocuments(t *testing.T) {
	e := newEnv(t)
	assert.False(t, e.ix.Accepts(".obsidian/plugin.md"))
	assert.False(t, e.ix.Accepts("node_modules/pkg/readme.md"))
	assert.False(t, e.ix.Accepts("notes.txt"))
	assert.True(t, e.ix.Accepts("Notes/Upper.MD"))

	e.write("notes.txt", "text")
	assert.False(t, e.enqueue("notes.txt"))
	assert.False(t, e.enqueue("missing.md"))

	e.write("blank.md", "   \n\n  ")
	assert.True(t, e.enqueue("blank.md"))
	e.wait()
	assert.Nil(t, e.ix.Manifest())
	_, ok, err := e.ix.Ledger().Get(context.Background(), "blank.md")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIndexer_Remove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("a.md", "alpha words")
	e.write("b.md", "beta words")
	e.enqueue("a.md")
	e.enqueue("b.md")
	e.wait()

	require.NoError(t, e.ix.Remove(ctx, "b.md"))
	e.wait()

	_, ok, err := e.ix.Ledger().Get(ctx, "b.md")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"a.md"}, e.ix.Lexical().Paths())
	assert.Equal(t, []string{"a.md"}, e.ix.Liveness().Paths())
}

func TestIndexer_Rename(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("old.md", "renamed content")
	e.enqueue("old.md")
	e.wait()

	require.NoError(t, e.docs.RenameAtomic(ctx, "old.md", "new.md"))
	require.NoError(t, e.ix.Rename(ctx, "old.md", "new.md"))
	e.wait()

	all, err := e.ix.Ledger().ReadAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "new.md")
	assert.NotContains(t, all, "old.md")
	assert.Equal(t, []string{"new.md"}, e.ix.Lexical().Paths())
	assert.Equal(t, []string{"new.md"}, e.ix.Liveness().Paths())
}

func TestIndexer_RenameMovesLedgerInTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("old.md", "pending content")

	e.sched.Pause()
	assert.True(t, e.enqueue("old.md"))
	require.NoError(t, e.docs.RenameAtomic(ctx, "old.md", "new.md"))
	require.NoError(t, e.ix.Rename(ctx, "old.md", "new.md"))

	// Nothing changes until the scheduler runs the rename.
	all, err := e.ix.Ledger().ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	e.sched.Resume()
	e.wait()

	all, err = e.ix.Ledger().ReadAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "new.md")
	assert.NotContains(t, all, "old.md")
	assert.Equal(t, []string{"new.md"}, e.ix.Liveness().Paths())
	assert.Equal(t, []string{"new.md"}, e.lexicalPaths("pending"))
}

func TestIndexer_EnqueueDetectsRename(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("old.md", "moved content")
	e.enqueue("old.md")
	e.wait()

	require.NoError(t, e.docs.RenameAtomic(ctx, "old.md", "dir/moved.md"))
	assert.True(t, e.enqueue("dir/moved.md"))
	e.wait()

	all, err := e.ix.Ledger().ReadAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, "old.md")
	assert.Contains(t, all, "dir/moved.md")
	assert.Equal(t, []string{"dir/moved.md"}, e.ix.Liveness().Paths())
}

func TestIndexer_FailedJobLeavesIndexUnchanged(t *testing.T) {
	e := &env{t: t, docs: storage.NewMemoryStore(), store: storage.NewMemoryStore()}
	e.open(failingEmbedder{}, testConfig())
	ctx := context.Background()

	e.write("a.md", "some text")
	assert.True(t, e.enqueue("a.md"))
	e.wait()

	assert.Nil(t, e.ix.Manifest())
	assert.Equal(t, uint64(1), e.sched.Metrics().Failed)

	entries, err := e.ix.WAL().Entries(ctx)
	require.NoError(t, err)
	folded := wal.Fold(entries)
	require.Len(t, folded, 1)
	assert.Equal(t, wal.StatusFailed, folded[0].Status)
	assert.Contains(t, folded[0].Err, "model exploded")

	pending, err := e.ix.WAL().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, ok, err := e.ix.Ledger().Get(ctx, "a.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexer_ModelMismatchFails(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", "text")
	e.enqueue("a.md")
	e.wait()

	// Reopen with a different model id against the same root.
	cfg := testConfig()
	cfg.Model.ID = "other"
	e.open(nil, cfg)
	e.write("b.md", "more text")
	e.enqueue("b.md")
	e.wait()

	assert.Equal(t, uint64(1), e.sched.Metrics().Failed)
	assert.Len(t, e.ix.Manifest().Segments, 1)
}

func TestIndexer_ResumesPendingJobsOnStart(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", "resumed text")

	e.sched.Pause()
	assert.True(t, e.enqueue("a.md"))
	require.NoError(t, e.sched.Close())

	e.open(nil, testConfig())
	e.wait()

	m := e.ix.Manifest()
	require.NotNil(t, m)
	assert.Len(t, m.Segments, 1)
	assert.Equal(t, []string{"a.md"}, e.lexicalPaths("resumed"))
}

func TestIndexer_LexicalRestore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("a.md", "zebra stripes")
	e.write("b.md", "giraffe necks")
	e.enqueue("a.md")
	e.enqueue("b.md")
	e.wait()

	// No bm25.json yet: the lexical index is rebuilt from the documents.
	exists, err := e.store.Exists(ctx, bm25.FileName)
	require.NoError(t, err)
	assert.False(t, exists)

	e.open(nil, testConfig())
	assert.Equal(t, []string{"a.md", "b.md"}, e.ix.Lexical().Paths())

	// Stop persists; a stale snapshot path is dropped on restart.
	require.NoError(t, e.ix.Stop(ctx))
	exists, err = e.store.Exists(ctx, bm25.FileName)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, e.ix.Ledger().Remove(ctx, "b.md"))

	e.open(nil, testConfig())
	assert.Equal(t, []string{"a.md"}, e.ix.Lexical().Paths())
	assert.Equal(t, []string{"a.md"}, e.ix.Liveness().Paths())
	assert.Equal(t, []string{"a.md"}, e.lexicalPaths("zebra"))
}

func TestIndexer_LexicalRestoreReplacesOutdatedChunks(t *testing.T) {
	e := &env{t: t, docs: storage.NewMemoryStore(), store: storage.NewMemoryStore()}
	cfg := testConfig()
	cfg.PersistEvery = 1
	e.open(nil, cfg)

	e.write("a.md", "zebra giraffe elephant")
	e.write("b.md", "otter beaver")
	e.enqueue("a.md")
	e.enqueue("b.md")
	e.wait()

	// Reopen without Stop, so bm25.json keeps the first version of a.md.
	cfg.PersistEvery = 10
	e.open(nil, cfg)
	e.write("a.md", "penguin walrus seal")
	e.enqueue("a.md")
	e.wait()
	assert.Empty(t, e.lexicalPaths("zebra"))

	e.open(nil, cfg)
	assert.Empty(t, e.lexicalPaths("zebra"))
	assert.Equal(t, []string{"a.md"}, e.lexicalPaths("penguin"))
	assert.Equal(t, []string{"b.md"}, e.lexicalPaths("otter"))
	assert.Equal(t, []string{"a.md", "b.md"}, e.ix.Lexical().Paths())
}

func TestIndexer_PersistEvery(t *testing.T) {
	e := &env{t: t, docs: storage.NewMemoryStore(), store: storage.NewMemoryStore()}
	cfg := testConfig()
	cfg.PersistEvery = 2
	e.open(nil, cfg)
	ctx := context.Background()

	e.write("a.md", "one")
	e.enqueue("a.md")
	e.wait()
	exists, err := e.store.Exists(ctx, bm25.FileName)
	require.NoError(t, err)
	assert.False(t, exists)

	e.write("b.md", "two")
	e.enqueue("b.md")
	e.wait()
	exists, err = e.store.Exists(ctx, bm25.FileName)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIndexer_Reconcile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("a.md", "kept document")
	e.write("b.md", "deleted document")
	e.enqueue("a.md")
	e.enqueue("b.md")
	e.wait()

	require.NoError(t, e.docs.Remove(ctx, "b.md"))
	e.write("c.md", "new document")
	e.write(".obsidian/workspace.md", "ignored")

	report, err := e.ix.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 2, Enqueued: 1, Removed: 1}, report)
	e.wait()

	assert.Equal(t, []string{"a.md", "c.md"}, e.ix.Liveness().Paths())
	report, err = e.ix.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 2}, report)
}

func TestIndexer_Rebuild(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write("a.md", "first")
	e.write("b.md", "second")
	e.enqueue("a.md")
	e.enqueue("b.md")
	e.wait()
	e.write("a.md", "first, edited")
	e.enqueue("a.md")
	e.wait()
	require.Len(t, e.ix.Manifest().Segments, 3)

	n, err := e.ix.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	e.wait()

	m := e.ix.Manifest()
	require.NotNil(t, m)
	assert.Len(t, m.Segments, 2)
	report := e.ix.Verify(ctx)
	assert.True(t, report.OK, report.Issues)
	assert.Empty(t, report.Orphans)
	assert.Equal(t, []string{"a.md", "b.md"}, e.ix.Lexical().Paths())
}

func TestNew_Validation(t *testing.T) {
	st := storage.NewMemoryStore()
	s := scheduler.New(scheduler.Options{})
	defer s.Close()

	_, err := New(st, st, nil, s, testConfig())
	assert.Error(t, err)
	_, err = New(st, st, failingEmbedder{}, nil, testConfig())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Chunk.MaxTokens = 0
	_, err = New(st, st, failingEmbedder{}, s, cfg)
	assert.Error(t, err)
}
