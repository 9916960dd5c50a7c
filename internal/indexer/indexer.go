// Package indexer keeps an index root in sync with a document store.
//
// Documents are enqueued, journaled in the WAL and processed on the
// cooperative scheduler: read, chunk, embed, commit one segment per
// document version, then update the lexical index, row liveness and the
// ledger. All index mutations run as scheduler tasks or under the writer
// lock; queries read the published manifest and the concurrency-safe
// lexical index and liveness set.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/hupe1980/semindex/embed"
	"github.com/hupe1980/semindex/internal/chunk"
	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/integrity"
	"github.com/hupe1980/semindex/internal/ledger"
	"github.com/hupe1980/semindex/internal/liveness"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/resource"
	"github.com/hupe1980/semindex/internal/scheduler"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/internal/wal"
	"github.com/hupe1980/semindex/internal/writer"
	"github.com/hupe1980/semindex/lexical/bm25"
	"github.com/hupe1980/semindex/storage"
)

// DefaultIgnore are the ignore globs applied unless configured otherwise.
var DefaultIgnore = []string{".obsidian/**", ".git/**", ".trash/**", "node_modules/**"}

// Embedder produces one embedding per text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (embed.Result, error)
}

// Config configures an Indexer.
type Config struct {
	// Root is the index root inside the index store.
	Root string
	// Model is the expected embedding model. Zero dims accept the width of
	// the first embedding batch.
	Model manifest.Model
	Chunk chunk.Options
	BM25  bm25.Options
	// Ignore holds gitignore-style patterns matched against document paths.
	Ignore []string
	// Extensions limits indexing to these file suffixes. Empty accepts all.
	Extensions        []string
	ReconcileInterval time.Duration
	// PersistEvery writes bm25.json after this many commits.
	PersistEvery int
}

// DefaultConfig returns the defaults of a markdown vault.
func DefaultConfig() Config {
	return Config{
		Model:             manifest.Model{ID: "Xenova/bge-small-en-v1.5", Dims: 384, DType: segment.DTypeF32},
		Chunk:             chunk.DefaultOptions(),
		BM25:              bm25.DefaultOptions(),
		Ignore:            DefaultIgnore,
		Extensions:        []string{".md"},
		ReconcileInterval: 10 * time.Minute,
		PersistEvery:      10,
	}
}

// CommitHook observes every processed document.
type CommitHook func(path string, rows int, d time.Duration, err error)

// Indexer orchestrates indexing of one index root.
type Indexer struct {
	cfg      Config
	docs     storage.Adapter
	store    storage.Adapter
	embedder Embedder
	sched    *scheduler.Scheduler

	manifests  *manifest.Store
	writer     *writer.Writer
	wal        *wal.WAL
	ledger     *ledger.Ledger
	chunker    *chunk.Chunker
	lexical    *bm25.MemoryIndex
	live       *liveness.Set
	ignore     *ignore.GitIgnore
	reconciler *scheduler.Reconciler
	rc         *resource.Controller
	logger     *slog.Logger
	now        func() time.Time
	onCommit   CommitHook

	// writeMu serializes everything that changes the index root.
	writeMu      sync.Mutex
	started      bool
	sincePersist int

	stateMu  sync.RWMutex
	manifest *manifest.Manifest
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithClock sets the clock for WAL, ledger and segment ids.
func WithClock(now func() time.Time) Option {
	return func(ix *Indexer) {
		if now != nil {
			ix.now = now
		}
	}
}

// WithLexical shares a lexical index with the search side.
func WithLexical(idx *bm25.MemoryIndex) Option {
	return func(ix *Indexer) {
		if idx != nil {
			ix.lexical = idx
		}
	}
}

// WithLiveness shares a liveness set with the vector engine.
func WithLiveness(s *liveness.Set) Option {
	return func(ix *Indexer) {
		if s != nil {
			ix.live = s
		}
	}
}

// WithResourceController paces reconcile storage calls.
func WithResourceController(rc *resource.Controller) Option {
	return func(ix *Indexer) {
		ix.rc = rc
	}
}

// WithCommitHook registers a hook called after every processed document.
func WithCommitHook(fn CommitHook) Option {
	return func(ix *Indexer) {
		ix.onCommit = fn
	}
}

// New creates an Indexer. docs holds the documents; store holds the index
// root and may be the same adapter.
func New(docs, store storage.Adapter, embedder Embedder, sched *scheduler.Scheduler, cfg Config, opts ...Option) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", errs.ErrInvalidArgument)
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: scheduler is required", errs.ErrInvalidArgument)
	}
	if !cfg.Model.DType.Valid() {
		return nil, fmt.Errorf("%w: invalid dtype %d", errs.ErrInvalidArgument, uint8(cfg.Model.DType))
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = DefaultConfig().PersistEvery
	}
	if cfg.BM25.K1 == 0 && cfg.BM25.B == 0 {
		cfg.BM25 = bm25.DefaultOptions()
	}
	cfg.Root = storage.Clean(cfg.Root)

	chunker, err := chunk.New(cfg.Chunk)
	if err != nil {
		return nil, err
	}

	ix := &Indexer{
		cfg:      cfg,
		docs:     docs,
		store:    store,
		embedder: embedder,
		sched:    sched,
		chunker:  chunker,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.lexical == nil {
		ix.lexical = bm25.New(cfg.BM25)
	}
	if ix.live == nil {
		ix.live = liveness.New()
	}
	if len(cfg.Ignore) > 0 {
		ix.ignore = ignore.CompileIgnoreLines(cfg.Ignore...)
	}

	ix.manifests = manifest.NewStore(store, cfg.Root, ix.logger)
	ix.writer = writer.New(store, ix.manifests, writer.WithLogger(ix.logger), writer.WithClock(ix.now))
	ix.wal = wal.Open(store, cfg.Root, wal.Options{Now: ix.now, Logger: ix.logger})
	ix.ledger = ledger.Open(store, cfg.Root, ix.logger)
	ix.reconciler = scheduler.NewReconciler(sched, cfg.ReconcileInterval, func(ctx context.Context) error {
		_, err := ix.Reconcile(ctx)
		return err
	})
	return ix, nil
}

// Start recovers the in-memory state from the index root, resumes
// unfinished WAL jobs at high priority and arms periodic reconciliation.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if ix.started {
		return nil
	}

	m, err := ix.manifests.Load(ctx)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	ix.setManifest(m)

	if n := ix.writer.CleanupTmp(ctx); n > 0 {
		ix.logger.InfoContext(ctx, "removed leftover staging files", "count", n)
	}
	chunks, err := ix.restoreLiveness(ctx, m)
	if err != nil {
		return err
	}
	if err := ix.restoreLexical(ctx, chunks); err != nil {
		return err
	}

	pending, err := ix.wal.Pending(ctx)
	if err != nil {
		return err
	}
	for _, e := range pending {
		if err := ix.schedule(e, scheduler.PriorityHigh); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		ix.logger.InfoContext(ctx, "resuming unfinished jobs", "count", len(pending))
	}

	ix.reconciler.Start()
	ix.started = true
	return nil
}

// Stop disarms reconciliation, pauses the scheduler and persists the lexical
// index.
func (ix *Indexer) Stop(ctx context.Context) error {
	ix.reconciler.Stop()

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if !ix.started {
		return nil
	}
	ix.started = false
	return ix.persistLexicalLocked(ctx)
}

// Manifest returns the last published manifest, nil before the first commit.
func (ix *Indexer) Manifest() *manifest.Manifest {
	ix.stateMu.RLock()
	defer ix.stateMu.RUnlock()
	return ix.manifest
}

func (ix *Indexer) setManifest(m *manifest.Manifest) {
	ix.stateMu.Lock()
	ix.manifest = m
	ix.stateMu.Unlock()
}

// Manifests returns the manifest store of the index root.
func (ix *Indexer) Manifests() *manifest.Store { return ix.manifests }

// Lexical returns the lexical index.
func (ix *Indexer) Lexical() *bm25.MemoryIndex { return ix.lexical }

// Liveness returns the row liveness set.
func (ix *Indexer) Liveness() *liveness.Set { return ix.live }

// Ledger returns the ledger.
func (ix *Indexer) Ledger() *ledger.Ledger { return ix.ledger }

// WAL returns the job journal.
func (ix *Indexer) WAL() *wal.WAL { return ix.wal }

// Reconciler returns the periodic reconcile trigger.
func (ix *Indexer) Reconciler() *scheduler.Reconciler { return ix.reconciler }

// Verify runs the integrity verifier on the index root.
func (ix *Indexer) Verify(ctx context.Context) integrity.Report {
	return integrity.Verify(ctx, ix.store, ix.manifests)
}

// PersistLexical writes bm25.json now.
func (ix *Indexer) PersistLexical(ctx context.Context) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	return ix.persistLexicalLocked(ctx)
}

// Freeze runs fn while no write can change the index root. bm25.json is
// persisted first so it matches the manifest fn observes.
func (ix *Indexer) Freeze(ctx context.Context, fn func(context.Context) error) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.persistLexicalLocked(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (ix *Indexer) persistLexicalLocked(ctx context.Context) error {
	data, err := ix.lexical.MarshalJSON()
	if err != nil {
		return err
	}
	p := ix.manifests.Path(bm25.FileName)
	if err := ix.store.WriteTextAtomic(ctx, p, string(data)); err != nil {
		return errs.IO("write", p, err)
	}
	ix.sincePersist = 0
	ix.logger.DebugContext(ctx, "lexical index persisted", "documents", ix.lexical.Len(), "bytes", len(data))
	return nil
}

// Accepts reports whether a document path is indexed at all.
func (ix *Indexer) Accepts(p string) bool {
	p = storage.Clean(p)
	if p == "" || ix.ignored(p) {
		return false
	}
	if len(ix.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range ix.cfg.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func (ix *Indexer) ignored(p string) bool {
	return ix.ignore != nil && ix.ignore.MatchesPath(p)
}

func (ix *Indexer) schedule(e wal.Entry, p scheduler.Priority) error {
	return ix.sched.Enqueue("index "+e.Path, p, func(ctx context.Context) error {
		return ix.process(ctx, e)
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
