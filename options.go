package semindex

import (
	"log/slog"
	"slices"
	"time"

	"github.com/hupe1980/semindex/embed"
	"github.com/hupe1980/semindex/internal/chunk"
	"github.com/hupe1980/semindex/internal/hybrid"
	"github.com/hupe1980/semindex/internal/indexer"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/lexical/bm25"
	"github.com/hupe1980/semindex/storage"
)

const (
	// DefaultRoot is the index root inside the document store.
	DefaultRoot = ".semindex"

	// DefaultMemoryLimit is the managed memory ceiling.
	DefaultMemoryLimit = 150 << 20

	// HashModelID is the model id of the built-in hashing embedder.
	HashModelID = "semindex/hash"
)

// DType is the storage precision of vector components.
type DType = segment.DType

const (
	DTypeF32 = segment.DTypeF32
	DTypeF16 = segment.DTypeF16
)

// ChunkOptions configures the text chunker.
type ChunkOptions = chunk.Options

// DefaultChunkOptions returns 200/300/50 token windows that respect headings,
// code fences and lists.
func DefaultChunkOptions() ChunkOptions { return chunk.DefaultOptions() }

// DefaultIgnore returns the ignore patterns used unless WithIgnore is given.
func DefaultIgnore() []string { return slices.Clone(indexer.DefaultIgnore) }

type options struct {
	logger     *Logger
	metrics    MetricsCollector
	indexStore storage.Adapter
	root       string

	backend     embed.Backend
	modelID     string
	dims        int
	dtype       DType
	embedConfig embed.Config

	chunk      chunk.Options
	bm25       bm25.Options
	ignore     []string
	extensions []string

	memoryLimit       int64
	ioOpsPerSec       float64
	reconcileInterval time.Duration
	persistEvery      int
	sliceBudget       time.Duration
	maxYield          time.Duration
	segmentCache      int64
	snippetRadius     int

	search SearchOptions
	now    func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithLogger configures structured logging. Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := semindex.NewJSONLogger(slog.LevelInfo)
//	idx, _ := semindex.Open(ctx, docs, semindex.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector. Pass nil to disable
// metrics collection.
//
//	metrics := &semindex.BasicMetricsCollector{}
//	idx, _ := semindex.Open(ctx, docs, semindex.WithMetricsCollector(metrics))
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithIndexStore keeps the index root in a store other than the document
// store.
func WithIndexStore(store storage.Adapter) Option {
	return func(o *options) {
		o.indexStore = store
	}
}

// WithRoot sets the index root inside the index store. The root is never
// indexed as a document.
func WithRoot(root string) Option {
	return func(o *options) {
		o.root = storage.Clean(root)
	}
}

// WithEmbedder sets the embedding backend and the model it implements. dims
// may be zero to accept the width of the first batch.
func WithEmbedder(backend embed.Backend, modelID string, dims int) Option {
	return func(o *options) {
		o.backend = backend
		o.modelID = modelID
		o.dims = dims
	}
}

// WithEmbedConfig tunes batching, timeouts and reloads of the embedding
// manager. ModelID and Dims are taken from WithEmbedder.
func WithEmbedConfig(cfg embed.Config) Option {
	return func(o *options) {
		o.embedConfig = cfg
	}
}

// WithDType stores vectors with the given precision.
func WithDType(dtype DType) Option {
	return func(o *options) {
		o.dtype = dtype
	}
}

// WithChunkOptions configures the chunker.
func WithChunkOptions(opts ChunkOptions) Option {
	return func(o *options) {
		o.chunk = opts
	}
}

// WithBM25 sets the BM25 parameters.
func WithBM25(k1, b float64) Option {
	return func(o *options) {
		o.bm25.K1 = k1
		o.bm25.B = b
	}
}

// WithIgnore replaces the default ignore patterns. Patterns use gitignore
// syntax and are matched against document paths.
func WithIgnore(patterns ...string) Option {
	return func(o *options) {
		o.ignore = patterns
	}
}

// WithExtensions limits indexing to files with these suffixes.
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.extensions = exts
	}
}

// WithMemoryLimit sets the managed memory ceiling. Above it the scheduler
// slows down and the embedder shrinks its batches.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithIORate paces reconcile storage calls to opsPerSec. Zero is unlimited.
func WithIORate(opsPerSec float64) Option {
	return func(o *options) {
		o.ioOpsPerSec = opsPerSec
	}
}

// WithReconcileInterval sets the period of background reconciliation. Zero
// disables it.
func WithReconcileInterval(d time.Duration) Option {
	return func(o *options) {
		o.reconcileInterval = d
	}
}

// WithPersistEvery writes the lexical snapshot after n commits.
func WithPersistEvery(n int) Option {
	return func(o *options) {
		o.persistEvery = n
	}
}

// WithScheduler sets the time slice budget and the maximum yield between
// slices under memory pressure.
func WithScheduler(slice, maxYield time.Duration) Option {
	return func(o *options) {
		o.sliceBudget = slice
		o.maxYield = maxYield
	}
}

// WithSegmentCache bounds the decoded segment cache. Zero disables it.
func WithSegmentCache(bytes int64) Option {
	return func(o *options) {
		o.segmentCache = bytes
	}
}

// WithSnippetRadius sets how many bytes of context surround a snippet.
func WithSnippetRadius(n int) Option {
	return func(o *options) {
		o.snippetRadius = n
	}
}

// WithSearchDefaults sets the defaults applied to every search.
func WithSearchDefaults(opts SearchOptions) Option {
	return func(o *options) {
		o.search = opts
	}
}

// WithClock sets the clock used for journals, ledgers and caches.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(optFns []Option) options {
	cfg := indexer.DefaultConfig()
	o := options{
		logger:            NoopLogger(),
		metrics:           NoopMetricsCollector{},
		root:              DefaultRoot,
		modelID:           HashModelID,
		dims:              cfg.Model.Dims,
		dtype:             cfg.Model.DType,
		embedConfig:       embed.DefaultConfig(),
		chunk:             cfg.Chunk,
		bm25:              cfg.BM25,
		ignore:            cfg.Ignore,
		extensions:        cfg.Extensions,
		memoryLimit:       DefaultMemoryLimit,
		reconcileInterval: cfg.ReconcileInterval,
		persistEvery:      cfg.PersistEvery,
		segmentCache:      32 << 20,
		snippetRadius:     hybrid.DefaultSnippetRadius,
		search:            hybrid.DefaultOptions(),
		now:               time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.backend == nil {
		o.backend = embed.NewHashBackend(o.dims)
		if o.dims <= 0 {
			o.dims = o.backend.(*embed.HashBackend).Dims()
		}
	}
	return o
}
