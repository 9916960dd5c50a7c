package semindex

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/hupe1980/semindex/embed"
	"github.com/hupe1980/semindex/internal/hybrid"
	"github.com/hupe1980/semindex/internal/indexer"
	"github.com/hupe1980/semindex/internal/integrity"
	"github.com/hupe1980/semindex/internal/liveness"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/resource"
	"github.com/hupe1980/semindex/internal/scheduler"
	"github.com/hupe1980/semindex/internal/vector"
	"github.com/hupe1980/semindex/lexical/bm25"
	"github.com/hupe1980/semindex/storage"
)

type (
	// VerifyReport is the result of Verify.
	VerifyReport = integrity.Report

	// ReconcileReport summarizes one reconcile pass.
	ReconcileReport = indexer.ReconcileReport

	// Model describes the embedding space of an index.
	Model = manifest.Model
)

// Stats is a point-in-time view of an Index.
type Stats struct {
	Segments    int
	Rows        int
	LiveRows    int
	Documents   int
	LexicalDocs int

	QueuedTasks    int
	FailedTasks    uint64
	Paused         bool
	PressureEvents uint64

	MemoryUsage int64
	MemoryLimit int64
	BatchSize   int

	QueryCacheHits     int64
	QueryCacheMisses   int64
	SegmentCacheHits   int64
	SegmentCacheMisses int64
}

// Index is an embedded hybrid search index over one document store.
//
// All methods are safe for concurrent use. Index mutations run one at a
// time on a cooperative scheduler; searches read the last published
// manifest and never observe a half-committed segment.
type Index struct {
	opts    options
	docs    storage.Adapter
	store   storage.Adapter
	logger  *Logger
	metrics MetricsCollector

	rc       *resource.Controller
	sched    *scheduler.Scheduler
	embedder *embed.Manager
	indexer  *indexer.Indexer
	vectors  *vector.Engine
	engine   *hybrid.Engine
	unlock   func() error

	mu     sync.RWMutex
	closed bool
}

type locker interface {
	Lock() error
	Unlock() error
}

// Open opens or creates the index of docs and resumes unfinished jobs.
//
// The index root defaults to DefaultRoot inside docs; use WithIndexStore and
// WithRoot to keep it elsewhere. A LocalStore holding the root is locked for
// the lifetime of the Index.
func Open(ctx context.Context, docs storage.Adapter, optFns ...Option) (*Index, error) {
	if docs == nil {
		return nil, fmt.Errorf("%w: document store is required", ErrInvalidArgument)
	}
	o := applyOptions(optFns)

	store := o.indexStore
	if store == nil {
		store = docs
	}

	idx := &Index{
		opts:    o,
		docs:    docs,
		store:   store,
		logger:  o.logger.WithRoot(o.root),
		metrics: o.metrics,
	}

	if l, ok := store.(locker); ok {
		if err := l.Lock(); err != nil {
			return nil, err
		}
		idx.unlock = l.Unlock
	}

	if err := idx.init(ctx); err != nil {
		_ = idx.release(ctx)
		idx.logger.LogRecovery(ctx, 0, 0, err)
		return nil, err
	}

	m := idx.indexer.Manifest()
	segments := 0
	if m != nil {
		segments = len(m.Segments)
	}
	idx.logger.LogRecovery(ctx, segments, idx.sched.Metrics().Pending(), nil)
	return idx, nil
}

func (idx *Index) init(ctx context.Context) error {
	o := idx.opts
	slogger := idx.logger.Logger

	idx.rc = resource.NewController(resource.Config{
		MemoryLimitBytes: o.memoryLimit,
		IOOpsPerSec:      o.ioOpsPerSec,
	})

	ecfg := o.embedConfig
	ecfg.ModelID = o.modelID
	ecfg.Dims = o.dims
	idx.embedder = embed.NewManager(o.backend, ecfg,
		embed.WithLogger(idx.logger.WithComponent("embed").Logger),
		embed.WithResourceController(idx.rc),
		embed.WithClock(o.now),
	)

	idx.sched = scheduler.New(scheduler.Options{
		SliceBudget:   o.sliceBudget,
		MaxYield:      o.maxYield,
		MemoryUsage:   idx.rc.MemoryUsage,
		MemoryCeiling: o.memoryLimit,
		OnPressure:    idx.onPressure,
		OnTask:        idx.onTask,
	})

	live := liveness.New()
	lex := bm25.New(o.bm25)

	ignore := o.ignore
	if idx.store == idx.docs && o.root != "" {
		ignore = append(append([]string{}, ignore...), path.Join(o.root, "**"))
	}

	ix, err := indexer.New(idx.docs, idx.store, idx.embedder, idx.sched, indexer.Config{
		Root:              o.root,
		Model:             manifest.Model{ID: o.modelID, Dims: o.dims, DType: o.dtype},
		Chunk:             o.chunk,
		BM25:              o.bm25,
		Ignore:            ignore,
		Extensions:        o.extensions,
		ReconcileInterval: o.reconcileInterval,
		PersistEvery:      o.persistEvery,
	},
		indexer.WithLogger(idx.logger.WithComponent("indexer").Logger),
		indexer.WithClock(o.now),
		indexer.WithLexical(lex),
		indexer.WithLiveness(live),
		indexer.WithResourceController(idx.rc),
		indexer.WithCommitHook(idx.onCommit),
	)
	if err != nil {
		return err
	}
	idx.indexer = ix

	idx.vectors = vector.New(idx.store, ix.Manifests(),
		vector.WithLogger(slogger),
		vector.WithLiveness(live),
		vector.WithCache(o.segmentCache, idx.rc),
	)
	idx.engine = hybrid.New(lex, idx.vectors, idx.embedder,
		hybrid.WithLogger(slogger),
		hybrid.WithQueryCache(hybrid.NewQueryCache(0, 0, o.now)),
		hybrid.WithSnippets(idx.docs.ReadText, o.snippetRadius),
	)

	if err := idx.embedder.Start(ctx); err != nil {
		return fmt.Errorf("start embedder: %w", err)
	}
	return ix.Start(ctx)
}

func (idx *Index) onCommit(p string, rows int, d time.Duration, err error) {
	idx.metrics.RecordCommit(rows, d, err)
	idx.logger.LogCommit(context.Background(), p, rows, d, err)
}

func (idx *Index) onTask(name string, p scheduler.Priority, d time.Duration, err error) {
	idx.metrics.RecordTask(p.String(), d, err)
	idx.metrics.RecordQueueDepth(idx.sched.Metrics().Pending())
	if err != nil {
		idx.logger.LogTaskFailed(context.Background(), name, p.String(), err)
	}
}

func (idx *Index) onPressure(usage, ceiling int64) {
	idx.embedder.ReduceBatchSize()
	idx.metrics.RecordMemoryPressure(usage, ceiling)
	idx.logger.Warn("memory pressure",
		"usage", usage,
		"ceiling", ceiling,
		"batch_size", idx.embedder.BatchSize(),
	)
}

func (idx *Index) check() error {
	if idx == nil {
		return ErrClosed
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return ErrClosed
	}
	return nil
}

// Enqueue schedules a document for indexing when it changed since it was
// last indexed and reports whether a job was queued. Ignored paths and
// missing files are skipped.
func (idx *Index) Enqueue(ctx context.Context, p string) (bool, error) {
	if err := idx.check(); err != nil {
		return false, err
	}
	return idx.indexer.Enqueue(ctx, p)
}

// Remove schedules the removal of a document from the index.
func (idx *Index) Remove(ctx context.Context, p string) error {
	if err := idx.check(); err != nil {
		return err
	}
	return idx.indexer.Remove(ctx, p)
}

// Rename moves a document to a new path and reindexes it there.
func (idx *Index) Rename(ctx context.Context, from, to string) error {
	if err := idx.check(); err != nil {
		return err
	}
	return idx.indexer.Rename(ctx, from, to)
}

// Reconcile walks the document store, enqueues changed documents and
// removes vanished ones.
func (idx *Index) Reconcile(ctx context.Context) (ReconcileReport, error) {
	if err := idx.check(); err != nil {
		return ReconcileReport{}, err
	}
	return idx.indexer.Reconcile(ctx)
}

// Rebuild wipes the index root and enqueues every document again. It
// returns the number of queued documents.
func (idx *Index) Rebuild(ctx context.Context) (int, error) {
	if err := idx.check(); err != nil {
		return 0, err
	}
	n, err := idx.indexer.Rebuild(ctx)
	idx.vectors.Invalidate()
	return n, err
}

// Verify cross-checks the manifest, segment files and metadata. Problems are
// reported, never repaired.
func (idx *Index) Verify(ctx context.Context) (VerifyReport, error) {
	if err := idx.check(); err != nil {
		return VerifyReport{}, err
	}
	report := idx.indexer.Verify(ctx)
	idx.logger.LogIntegrity(ctx, report)
	return report, nil
}

// WaitIdle blocks until no task is queued or running.
func (idx *Index) WaitIdle(ctx context.Context) error {
	if err := idx.check(); err != nil {
		return err
	}
	return idx.sched.WaitIdle(ctx)
}

// Pause stops starting queued tasks. Queued tasks are kept.
func (idx *Index) Pause() {
	if idx.check() == nil {
		idx.sched.Pause()
	}
}

// Resume restarts a paused index.
func (idx *Index) Resume() {
	if idx.check() == nil {
		idx.sched.Resume()
	}
}

// Model returns the model descriptor of the published index, or the
// configured one before the first commit.
func (idx *Index) Model() Model {
	if m := idx.indexer.Manifest(); m != nil {
		return m.Model
	}
	return Model{ID: idx.opts.modelID, Dims: idx.embedder.Dims(), DType: idx.opts.dtype}
}

// Store returns the store holding the index root.
func (idx *Index) Store() storage.Adapter { return idx.store }

// Root returns the index root inside Store.
func (idx *Index) Root() string { return idx.opts.root }

// Stats returns a snapshot of counters across the index.
func (idx *Index) Stats(ctx context.Context) (Stats, error) {
	if err := idx.check(); err != nil {
		return Stats{}, err
	}

	var st Stats
	if m := idx.indexer.Manifest(); m != nil {
		st.Segments = m.Stats.Segments
		st.Rows = m.Stats.Rows
	}
	ls := idx.indexer.Liveness().Stats()
	st.LiveRows = ls.Rows - ls.DeadRows

	docs, err := idx.indexer.Ledger().ReadAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.Documents = len(docs)
	st.LexicalDocs = idx.indexer.Lexical().Len()

	sm := idx.sched.Metrics()
	st.QueuedTasks = sm.Pending()
	st.FailedTasks = sm.Failed
	st.Paused = sm.Paused
	st.PressureEvents = sm.PressureEvents

	st.MemoryUsage = idx.rc.MemoryUsage()
	st.MemoryLimit = idx.rc.MemoryLimit()
	st.BatchSize = idx.embedder.BatchSize()
	st.QueryCacheHits, st.QueryCacheMisses = idx.engine.QueryCache().Stats()
	st.SegmentCacheHits, st.SegmentCacheMisses = idx.vectors.CacheStats()
	return st, nil
}

// release tears down whatever init managed to build.
func (idx *Index) release(ctx context.Context) error {
	var errs []error
	if idx.indexer != nil {
		errs = append(errs, idx.indexer.Stop(ctx))
	}
	if idx.sched != nil {
		errs = append(errs, idx.sched.Close())
	}
	if idx.embedder != nil {
		errs = append(errs, idx.embedder.Stop(ctx))
	}
	if idx.unlock != nil {
		errs = append(errs, idx.unlock())
		idx.unlock = nil
	}
	return errors.Join(errs...)
}
