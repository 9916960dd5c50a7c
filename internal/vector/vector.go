// Package vector implements exact cosine search over published segments.
//
// Every query scans all segments of the current manifest. Decoded segments
// are cached by (segment id, crc) in a byte-bounded LRU so repeated queries
// do not re-read or re-decode immutable files.
package vector

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/semindex/internal/cache"
	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/liveness"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/resource"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/storage"
)

// DefaultCacheBytes bounds the decoded segment cache.
const DefaultCacheBytes = 32 << 20

// Result is a single vector hit.
type Result struct {
	SegmentID string
	Row       int
	Path      string
	ChunkID   string
	Heading   string
	Offset    int
	Length    int
	Score     float64

	order int // manifest position, for deterministic ties
}

// Filter reports whether rows of a path may be returned.
type Filter func(path string) bool

type cacheKey struct {
	id  string
	crc uint32
}

// decoded is a segment ready for scanning. It owns its data.
type decoded struct {
	dims  int
	vecs  []float32
	norms []float32
	metas []segment.Meta
	valid []bool
}

func (d *decoded) bytes() int64 {
	n := int64(4*len(d.vecs) + 4*len(d.norms) + len(d.valid))
	for _, m := range d.metas {
		n += int64(len(m.Path) + len(m.ChunkID) + len(m.Hash) + len(m.Heading) + 64)
	}
	return n
}

// Engine searches the segments of one index root.
type Engine struct {
	store     storage.Adapter
	manifests *manifest.Store
	live      *liveness.Set
	cache     *cache.LRU[cacheKey, *decoded]
	workers   int
	logger    *slog.Logger
}

type options struct {
	logger     *slog.Logger
	live       *liveness.Set
	rc         *resource.Controller
	cacheBytes int64
	workers    int
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLiveness hides rows that the set reports as dead.
func WithLiveness(s *liveness.Set) Option {
	return func(o *options) { o.live = s }
}

// WithCache sets the decoded segment cache size and the controller it is
// charged to. A size of zero disables caching.
func WithCache(bytes int64, rc *resource.Controller) Option {
	return func(o *options) {
		o.cacheBytes = bytes
		o.rc = rc
	}
}

// WithWorkers bounds the number of segments scanned concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// New creates an Engine.
func New(store storage.Adapter, manifests *manifest.Store, opts ...Option) *Engine {
	o := options{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		cacheBytes: DefaultCacheBytes,
		workers:    4,
	}
	for _, fn := range opts {
		fn(&o)
	}

	e := &Engine{
		store:     store,
		manifests: manifests,
		live:      o.live,
		workers:   o.workers,
		logger:    o.logger,
	}
	if o.cacheBytes > 0 {
		e.cache = cache.NewLRU[cacheKey](o.cacheBytes, (*decoded).bytes, o.rc)
	}
	return e
}

// Search loads the current manifest and returns the k rows most similar to
// query. Without a manifest the result is empty.
func (e *Engine) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	m, err := e.manifests.Load(ctx)
	if err != nil {
		return nil, err
	}
	return e.SearchManifest(ctx, m, query, k, filter)
}

// SearchManifest is Search over an already loaded manifest.
func (e *Engine) SearchManifest(ctx context.Context, m *manifest.Manifest, query []float32, k int, filter Filter) ([]Result, error) {
	if m == nil || k <= 0 {
		return []Result{}, nil
	}
	if len(query) != m.Model.Dims {
		return nil, &errs.DimensionMismatchError{Expected: m.Model.Dims, Actual: len(query)}
	}

	q := Normalize(query)

	p := pool.NewWithResults[[]Result]().
		WithContext(ctx).
		WithMaxGoroutines(e.workers).
		WithCancelOnError()

	for i, ref := range m.Segments {
		p.Go(func(ctx context.Context) ([]Result, error) {
			d, err := e.load(ctx, ref, m.Model)
			if err != nil {
				return nil, err
			}
			return e.scan(ref.ID, i, d, q, k, filter), nil
		})
	}

	parts, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, part := range parts {
		out = append(out, part...)
	}
	sortResults(out)
	if len(out) > k {
		out = out[:k]
	}
	if out == nil {
		out = []Result{}
	}
	return out, nil
}

func (e *Engine) scan(id string, order int, d *decoded, q []float32, k int, filter Filter) []Result {
	qv := blas32.Vector{N: len(q), Data: q, Inc: 1}

	var out []Result
	for row, meta := range d.metas {
		if !d.valid[row] {
			continue
		}
		if e.live != nil && !e.live.IsLive(id, uint32(row)) {
			continue
		}
		if filter != nil && !filter(meta.Path) {
			continue
		}

		var score float64
		if norm := d.norms[row]; norm > 0 {
			v := blas32.Vector{N: d.dims, Data: d.vecs[row*d.dims : (row+1)*d.dims], Inc: 1}
			score = float64(blas32.Dot(qv, v) / norm)
		}

		out = append(out, Result{
			SegmentID: id,
			Row:       row,
			Path:      meta.Path,
			ChunkID:   meta.ChunkID,
			Heading:   meta.Heading,
			Offset:    meta.Off,
			Length:    meta.Len,
			Score:     score,
			order:     order,
		})
	}

	sortResults(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func sortResults(rs []Result) {
	slices.SortFunc(rs, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.order, b.order); c != 0 {
			return c
		}
		return cmp.Compare(a.Row, b.Row)
	})
}

// load decodes a segment and checks its header against the manifest. A
// disagreement is an integrity error, never a partial scan.
func (e *Engine) load(ctx context.Context, ref manifest.SegmentRef, model manifest.Model) (*decoded, error) {
	key := cacheKey{id: ref.ID, crc: ref.CRC}
	if e.cache != nil {
		if d, ok := e.cache.Get(key); ok {
			if d.dims != model.Dims {
				return nil, errs.Integrity(ref.ID, "dims %d do not match model dims %d", d.dims, model.Dims)
			}
			return d, nil
		}
	}

	data, err := e.store.ReadBinary(ctx, e.manifests.Path(ref.Bin))
	if err != nil {
		return nil, errs.IO("read", ref.Bin, err)
	}
	seg, err := segment.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", ref.ID, err)
	}
	switch {
	case seg.CRC != ref.CRC:
		return nil, errs.Integrity(ref.ID, "crc %08x does not match manifest crc %08x", seg.CRC, ref.CRC)
	case int(seg.Dims) != model.Dims:
		return nil, errs.Integrity(ref.ID, "dims %d do not match model dims %d", seg.Dims, model.Dims)
	case seg.DType != model.DType:
		return nil, errs.Integrity(ref.ID, "dtype %s does not match model dtype %s", seg.DType, model.DType)
	case seg.ModelID != model.ID:
		return nil, errs.Integrity(ref.ID, "model %q does not match manifest model %q", seg.ModelID, model.ID)
	}

	text, err := e.store.ReadText(ctx, e.manifests.Path(ref.Meta))
	if err != nil {
		return nil, errs.IO("read", ref.Meta, err)
	}
	lines := segment.Lines(text)
	if len(lines) != int(seg.Rows) {
		return nil, errs.Integrity(ref.ID, "%d metadata lines for %d rows", len(lines), seg.Rows)
	}

	d := &decoded{
		dims:  int(seg.Dims),
		vecs:  seg.Vectors(),
		norms: make([]float32, seg.Rows),
		metas: make([]segment.Meta, len(lines)),
		valid: make([]bool, len(lines)),
	}
	for i, line := range lines {
		meta, err := segment.ParseMeta(line)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping row with corrupt metadata",
				"segment_id", ref.ID,
				"error", errs.CorruptRecord(ref.Meta, i+1, err),
			)
			continue
		}
		d.metas[i] = meta
		d.valid[i] = true
		d.norms[i] = blas32.Nrm2(blas32.Vector{N: d.dims, Data: d.vecs[i*d.dims : (i+1)*d.dims], Inc: 1})
	}

	if e.cache != nil {
		e.cache.Set(key, d)
	}
	return d, nil
}

// Invalidate drops every cached segment.
func (e *Engine) Invalidate() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// CacheStats returns cache hits and misses.
func (e *Engine) CacheStats() (hits, misses int64) {
	if e.cache == nil {
		return 0, 0
	}
	return e.cache.Stats()
}

// Normalize returns v scaled to unit L2 length. A zero vector is returned
// as a zero copy.
func Normalize(v []float32) []float32 {
	out := slices.Clone(v)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	blas32.Scal(inv, blas32.Vector{N: len(out), Data: out, Inc: 1})
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero.
func Cosine(a, b []float32) float64 {
	av := blas32.Vector{N: len(a), Data: a, Inc: 1}
	bv := blas32.Vector{N: len(b), Data: b, Inc: 1}
	na, nb := blas32.Nrm2(av), blas32.Nrm2(bv)
	if na == 0 || nb == 0 {
		return 0
	}
	return float64(blas32.Dot(av, bv) / (na * nb))
}
