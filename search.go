package semindex

import (
	"context"
	"iter"

	"github.com/hupe1980/semindex/internal/hybrid"
)

type (
	// Result is one search hit. Snippet holds the surrounding document text
	// with "..." markers where it was cut.
	Result = hybrid.Result

	// Filter restricts results to exact paths and folder prefixes.
	Filter = hybrid.Filter

	// SearchOptions controls one search.
	SearchOptions = hybrid.Options

	// Mode selects the legs of a search.
	Mode = hybrid.Mode
)

const (
	ModeHybrid  = hybrid.ModeHybrid
	ModeDense   = hybrid.ModeDense
	ModeLexical = hybrid.ModeLexical
)

// ParseMode parses "hybrid", "dense" or "lexical".
func ParseMode(s string) (Mode, error) { return hybrid.ParseMode(s) }

// DefaultSearchOptions returns k=20, hybrid mode, weights 0.5/0.5 and
// fusionK=60.
func DefaultSearchOptions() SearchOptions { return hybrid.DefaultOptions() }

// SearchOption adjusts one search.
type SearchOption func(*SearchOptions)

// WithK sets the number of results.
func WithK(k int) SearchOption {
	return func(o *SearchOptions) { o.K = k }
}

// WithMode selects hybrid, dense or lexical search.
func WithMode(m Mode) SearchOption {
	return func(o *SearchOptions) { o.Mode = m }
}

// WithWeights sets the fusion weights of the lexical and dense legs.
func WithWeights(lexical, dense float64) SearchOption {
	return func(o *SearchOptions) {
		o.LexicalWeight = lexical
		o.DenseWeight = dense
	}
}

// WithFusionK sets the rank constant of reciprocal rank fusion.
func WithFusionK(k float64) SearchOption {
	return func(o *SearchOptions) { o.FusionK = k }
}

// WithFilter restricts results to paths and folders.
func WithFilter(f Filter) SearchOption {
	return func(o *SearchOptions) { o.Filter = f }
}

// Search runs a query with the configured defaults adjusted by opts.
func (idx *Index) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	return idx.SearchWithFilters(ctx, query, Filter{}, opts...)
}

// SearchWithFilters runs a query restricted to filter. A zero filter
// matches everything.
func (idx *Index) SearchWithFilters(ctx context.Context, query string, filter Filter, opts ...SearchOption) ([]Result, error) {
	if err := idx.check(); err != nil {
		return nil, err
	}

	so := idx.opts.search
	for _, fn := range opts {
		fn(&so)
	}
	if !filter.IsZero() {
		so.Filter = filter
	}
	if so.Mode == "" {
		so.Mode = ModeHybrid
	}

	start := idx.opts.now()
	results, err := idx.engine.Search(ctx, query, so)
	d := idx.opts.now().Sub(start)

	idx.metrics.RecordSearch(string(so.Mode), so.K, len(results), d, err)
	idx.logger.LogSearch(ctx, string(so.Mode), so.K, len(results), err)
	return results, err
}

// Query creates a fluent search builder.
//
// Example:
//
//	results, err := idx.Query("sleeping cats").
//	    K(5).
//	    Lexical().
//	    InFolder("notes").
//	    Execute(ctx)
func (idx *Index) Query(text string) *QueryBuilder {
	return &QueryBuilder{idx: idx, text: text}
}

// QueryBuilder is a fluent builder for constructing searches.
type QueryBuilder struct {
	idx    *Index
	text   string
	opts   []SearchOption
	filter Filter
}

// K sets the number of results.
func (qb *QueryBuilder) K(k int) *QueryBuilder {
	qb.opts = append(qb.opts, WithK(k))
	return qb
}

// Mode selects the legs of the search.
func (qb *QueryBuilder) Mode(m Mode) *QueryBuilder {
	qb.opts = append(qb.opts, WithMode(m))
	return qb
}

// Lexical runs BM25 only.
func (qb *QueryBuilder) Lexical() *QueryBuilder { return qb.Mode(ModeLexical) }

// Dense runs vector search only.
func (qb *QueryBuilder) Dense() *QueryBuilder { return qb.Mode(ModeDense) }

// Weights sets the fusion weights.
func (qb *QueryBuilder) Weights(lexical, dense float64) *QueryBuilder {
	qb.opts = append(qb.opts, WithWeights(lexical, dense))
	return qb
}

// InFolder restricts results to documents below folder. Repeated calls
// widen the filter.
func (qb *QueryBuilder) InFolder(folder string) *QueryBuilder {
	qb.filter.Folders = append(qb.filter.Folders, folder)
	return qb
}

// InPath restricts results to one document. Repeated calls widen the filter.
func (qb *QueryBuilder) InPath(p string) *QueryBuilder {
	qb.filter.Paths = append(qb.filter.Paths, p)
	return qb
}

// Execute runs the search and returns the results.
func (qb *QueryBuilder) Execute(ctx context.Context) ([]Result, error) {
	return qb.idx.SearchWithFilters(ctx, qb.text, qb.filter, qb.opts...)
}

// Stream returns an iterator over the results, best first. The iterator
// supports early termination by breaking from the loop.
//
//	for r, err := range idx.Query(q).K(50).Stream(ctx) {
//	    if err != nil { break }
//	    if r.Score < 0.01 { break }
//	    process(r)
//	}
func (qb *QueryBuilder) Stream(ctx context.Context) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		results, err := qb.Execute(ctx)
		if err != nil {
			yield(Result{}, err)
			return
		}
		for _, r := range results {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// First returns only the best result, or ErrNotFound if nothing matched.
func (qb *QueryBuilder) First(ctx context.Context) (Result, error) {
	results, err := qb.K(1).Execute(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, ErrNotFound
	}
	return results[0], nil
}
