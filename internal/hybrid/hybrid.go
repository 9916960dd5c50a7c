// Package hybrid combines lexical and vector search with reciprocal rank
// fusion.
//
// In hybrid mode both legs run in parallel, each over-fetching 2k
// candidates, and every hit contributes weight/(fusionK+rank+1) to a score
// keyed by (path, chunk id). Pure lexical and pure dense modes skip fusion
// and map raw scores into [0, 1] instead.
package hybrid

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/vector"
	"github.com/hupe1980/semindex/lexical"
)

// Mode selects which legs run.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeDense   Mode = "dense"
	ModeLexical Mode = "lexical"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHybrid, ModeDense, ModeLexical:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown search mode %q", errs.ErrInvalidArgument, s)
}

// Options controls one search.
type Options struct {
	K             int
	Mode          Mode
	LexicalWeight float64
	DenseWeight   float64
	FusionK       float64
	Filter        Filter
}

// DefaultOptions returns k=20, hybrid mode, equal weights and fusionK=60.
func DefaultOptions() Options {
	return Options{
		K:             20,
		Mode:          ModeHybrid,
		LexicalWeight: 0.5,
		DenseWeight:   0.5,
		FusionK:       60,
	}
}

// Result is one fused hit.
type Result struct {
	Path      string
	ChunkID   string
	Heading   string
	Offset    int
	Length    int
	HasSpan   bool
	Score     float64
	MatchType Mode
	Matches   []string
	Snippet   string
}

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	ModelID() string
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Engine runs searches over a lexical index and a vector engine.
type Engine struct {
	lexical  lexical.Index
	vectors  *vector.Engine
	embedder QueryEmbedder
	cache    *QueryCache
	source   TextSource
	radius   int
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithQueryCache replaces the default query-embedding cache.
func WithQueryCache(c *QueryCache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithSnippets enables snippet extraction from document text.
func WithSnippets(src TextSource, radius int) Option {
	return func(e *Engine) {
		e.source = src
		if radius > 0 {
			e.radius = radius
		}
	}
}

// New creates an Engine. embedder may be nil when only lexical searches run.
func New(lex lexical.Index, vectors *vector.Engine, embedder QueryEmbedder, opts ...Option) *Engine {
	e := &Engine{
		lexical:  lex,
		vectors:  vectors,
		embedder: embedder,
		cache:    NewQueryCache(0, 0, nil),
		radius:   DefaultSnippetRadius,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// QueryCache returns the query-embedding cache.
func (e *Engine) QueryCache() *QueryCache { return e.cache }

// Search runs one query.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.K <= 0 {
		return []Result{}, nil
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	match := opts.Filter.Compile()

	var (
		results []Result
		err     error
	)
	switch opts.Mode {
	case ModeLexical:
		results, err = e.lexicalOnly(query, opts.K, match)
	case ModeDense:
		results, err = e.denseOnly(ctx, query, opts.K, match)
	case ModeHybrid:
		results, err = e.hybrid(ctx, query, opts, match)
	default:
		_, err = ParseMode(string(opts.Mode))
	}
	if err != nil {
		return nil, err
	}

	e.addSnippets(ctx, results)
	return results, nil
}

func (e *Engine) embed(ctx context.Context, query string) ([]float32, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no query embedder configured", errs.ErrInvalidArgument)
	}
	model := e.embedder.ModelID()
	if v, ok := e.cache.Get(model, query); ok {
		return v, nil
	}
	v, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	e.cache.Put(model, query, v)
	return v, nil
}

func (e *Engine) searchLexical(query string, k int, match *Matcher) ([]lexical.Result, error) {
	if e.lexical == nil {
		return nil, nil
	}
	hits, err := e.lexical.Search(query, k)
	if err != nil || match == nil {
		return hits, err
	}
	out := hits[:0:0]
	for _, h := range hits {
		if match.Match(h.Path) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (e *Engine) searchDense(ctx context.Context, emb []float32, k int, match *Matcher) ([]vector.Result, error) {
	var filter vector.Filter
	if match != nil {
		filter = match.Match
	}
	return e.vectors.Search(ctx, emb, k, filter)
}

func (e *Engine) lexicalOnly(query string, k int, match *Matcher) ([]Result, error) {
	hits, err := e.searchLexical(query, k, match)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := fromLexical(h)
		r.Score = NormalizeLexical(h.Score)
		r.MatchType = ModeLexical
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) denseOnly(ctx context.Context, query string, k int, match *Matcher) ([]Result, error) {
	emb, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.searchDense(ctx, emb, k, match)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := fromVector(h)
		r.Score = NormalizeDense(h.Score)
		r.MatchType = ModeDense
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) hybrid(ctx context.Context, query string, opts Options, match *Matcher) ([]Result, error) {
	emb, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var (
		lex   []lexical.Result
		dense []vector.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lex, err = e.searchLexical(query, 2*opts.K, match)
		return err
	})
	g.Go(func() error {
		var err error
		dense, err = e.searchDense(gctx, emb, 2*opts.K, match)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Fuse(lex, dense, opts), nil
}

// Fuse merges ranked lexical and dense hits by reciprocal rank fusion and
// returns the top opts.K.
func Fuse(lex []lexical.Result, dense []vector.Result, opts Options) []Result {
	type fused struct {
		key    string
		score  float64
		result Result
	}
	byKey := make(map[string]*fused, len(lex)+len(dense))

	for rank, h := range lex {
		key := lexical.DocID(h.Path, h.ChunkID)
		contrib := opts.LexicalWeight / (opts.FusionK + float64(rank) + 1)
		if f, ok := byKey[key]; ok {
			f.score += contrib
			continue
		}
		r := fromLexical(h)
		r.MatchType = ModeHybrid
		byKey[key] = &fused{key: key, score: contrib, result: r}
	}

	for rank, h := range dense {
		key := lexical.DocID(h.Path, h.ChunkID)
		contrib := opts.DenseWeight / (opts.FusionK + float64(rank) + 1)
		f, ok := byKey[key]
		if !ok {
			r := fromVector(h)
			r.MatchType = ModeHybrid
			byKey[key] = &fused{key: key, score: contrib, result: r}
			continue
		}
		f.score += contrib
		f.result.Heading = h.Heading
		f.result.Offset, f.result.Length, f.result.HasSpan = h.Offset, h.Length, true
	}

	all := make([]*fused, 0, len(byKey))
	for _, f := range byKey {
		all = append(all, f)
	}
	slices.SortFunc(all, func(a, b *fused) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	if len(all) > opts.K {
		all = all[:opts.K]
	}

	out := make([]Result, len(all))
	for i, f := range all {
		out[i] = f.result
		out[i].Score = f.score
	}
	return out
}

// NormalizeDense maps a cosine in [-1, 1] to [0, 1].
func NormalizeDense(score float64) float64 {
	return (score + 1) / 2
}

// NormalizeLexical squashes a BM25 score into (0, 1).
func NormalizeLexical(score float64) float64 {
	return 1 / (1 + math.Exp(-score/10))
}

func fromLexical(h lexical.Result) Result {
	return Result{Path: h.Path, ChunkID: h.ChunkID, Matches: h.Matches}
}

func fromVector(h vector.Result) Result {
	return Result{
		Path:    h.Path,
		ChunkID: h.ChunkID,
		Heading: h.Heading,
		Offset:  h.Offset,
		Length:  h.Length,
		HasSpan: true,
	}
}

func (e *Engine) addSnippets(ctx context.Context, results []Result) {
	if e.source == nil {
		return
	}
	texts := make(map[string]string)
	for i := range results {
		r := &results[i]
		text, ok := texts[r.Path]
		if !ok {
			var err error
			text, err = e.source(ctx, r.Path)
			if err != nil {
				e.logger.WarnContext(ctx, "snippet source unavailable", "path", r.Path, "error", err)
				continue
			}
			texts[r.Path] = text
		}

		off, length, ok := r.Offset, r.Length, r.HasSpan
		if !ok {
			off, length, ok = locate(text, r.Matches)
		}
		if ok {
			r.Snippet = Snippet(text, off, length, e.radius)
		}
	}
}
