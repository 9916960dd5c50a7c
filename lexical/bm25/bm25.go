package bm25

import (
	"cmp"
	"math"
	"slices"
	"sync"

	"github.com/hupe1980/semindex/lexical"
)

// Options configures scoring and tokenization.
type Options struct {
	K1       float64
	B        float64
	IDFFloor float64
	Stemming bool
	// Stopwords are dropped before stemming. Nil means DefaultStopwords.
	Stopwords map[string]struct{}
}

// DefaultOptions returns k1=1.2, b=0.75, an idf floor of 0.01 and stemming.
func DefaultOptions() Options {
	return Options{
		K1:        1.2,
		B:         0.75,
		IDFFloor:  0.01,
		Stemming:  true,
		Stopwords: DefaultStopwords,
	}
}

type document struct {
	path    string
	chunkID string
	length  int
	terms   map[string]int
}

// MemoryIndex is an in-memory BM25 index.
type MemoryIndex struct {
	mu          sync.RWMutex
	opts        Options
	docs        map[string]*document
	inverted    map[string]map[string]int // term -> doc id -> tf
	byPath      map[string]map[string]struct{}
	totalLength int
	avgDocLen   float64
}

// Ensure MemoryIndex implements lexical.Index
var _ lexical.Index = (*MemoryIndex)(nil)

// New creates a new MemoryIndex.
func New(opts Options) *MemoryIndex {
	if opts.Stopwords == nil {
		opts.Stopwords = DefaultStopwords
	}
	return &MemoryIndex{
		opts:     opts,
		docs:     make(map[string]*document),
		inverted: make(map[string]map[string]int),
		byPath:   make(map[string]map[string]struct{}),
	}
}

// Add implements lexical.Index.
func (idx *MemoryIndex) Add(doc lexical.Document) error {
	tokens := idx.Tokenize(doc.Content)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	id := doc.ID()
	if _, ok := idx.docs[id]; ok {
		idx.removeLocked(id)
	}
	idx.addLocked(id, &document{path: doc.Path, chunkID: doc.ChunkID, length: len(tokens), terms: tf})
	return nil
}

func (idx *MemoryIndex) addLocked(id string, d *document) {
	idx.docs[id] = d
	for t, n := range d.terms {
		postings, ok := idx.inverted[t]
		if !ok {
			postings = make(map[string]int)
			idx.inverted[t] = postings
		}
		postings[id] = n
	}
	ids, ok := idx.byPath[d.path]
	if !ok {
		ids = make(map[string]struct{})
		idx.byPath[d.path] = ids
	}
	ids[id] = struct{}{}
	idx.totalLength += d.length
	idx.updateAvgLocked()
}

// Remove implements lexical.Index.
func (idx *MemoryIndex) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
	return nil
}

// RemovePath implements lexical.Index.
func (idx *MemoryIndex) RemovePath(path string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids := idx.byPath[path]
	n := len(ids)
	for id := range ids {
		idx.removeLocked(id)
	}
	return n
}

func (idx *MemoryIndex) removeLocked(id string) {
	d, ok := idx.docs[id]
	if !ok {
		return
	}
	for t := range d.terms {
		postings := idx.inverted[t]
		delete(postings, id)
		if len(postings) == 0 {
			delete(idx.inverted, t)
		}
	}
	if ids := idx.byPath[d.path]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(idx.byPath, d.path)
		}
	}
	delete(idx.docs, id)
	idx.totalLength -= d.length
	idx.updateAvgLocked()
}

func (idx *MemoryIndex) updateAvgLocked() {
	if len(idx.docs) == 0 {
		idx.avgDocLen = 0
		return
	}
	idx.avgDocLen = float64(idx.totalLength) / float64(len(idx.docs))
}

// Reset drops every document.
func (idx *MemoryIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.docs = make(map[string]*document)
	idx.inverted = make(map[string]map[string]int)
	idx.byPath = make(map[string]map[string]struct{})
	idx.totalLength = 0
	idx.avgDocLen = 0
}

// Replace takes over the contents of other, which must not be used afterwards.
func (idx *MemoryIndex) Replace(other *MemoryIndex) {
	other.mu.Lock()
	docs, inverted, byPath := other.docs, other.inverted, other.byPath
	total, avg := other.totalLength, other.avgDocLen
	other.mu.Unlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs, idx.inverted, idx.byPath = docs, inverted, byPath
	idx.totalLength, idx.avgDocLen = total, avg
}

// Len implements lexical.Index.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// ChunkIDs returns the chunk ids indexed for path, sorted.
func (idx *MemoryIndex) ChunkIDs(path string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.byPath[path]))
	for id := range idx.byPath[path] {
		out = append(out, idx.docs[id].chunkID)
	}
	slices.Sort(out)
	return out
}

// Paths returns the distinct indexed paths, sorted.
func (idx *MemoryIndex) Paths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.byPath))
	for p := range idx.byPath {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// DocFreq returns the number of documents containing the (already tokenized) term.
func (idx *MemoryIndex) DocFreq(term string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.inverted[term])
}

// AvgDocLength returns the mean token count per document.
func (idx *MemoryIndex) AvgDocLength() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.avgDocLen
}

func (idx *MemoryIndex) computeIDF(df int) float64 {
	n := float64(len(idx.docs))
	idf := math.Log((n - float64(df) + 0.5) / (float64(df) + 0.5))
	return max(idf, idx.opts.IDFFloor)
}

// Search implements lexical.Index. Repeated query terms count once per
// occurrence.
func (idx *MemoryIndex) Search(query string, k int) ([]lexical.Result, error) {
	if k <= 0 {
		return []lexical.Result{}, nil
	}
	tokens := idx.Tokenize(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(tokens) == 0 || len(idx.docs) == 0 {
		return []lexical.Result{}, nil
	}

	k1, b := idx.opts.K1, idx.opts.B
	scores := make(map[string]float64)
	matches := make(map[string][]string)

	for _, t := range tokens {
		postings, ok := idx.inverted[t]
		if !ok {
			continue
		}
		idf := idx.computeIDF(len(postings))

		for id, n := range postings {
			tf := float64(n)
			docLen := float64(idx.docs[id].length)

			num := tf * (k1 + 1)
			denom := tf + k1*(1-b+b*(docLen/idx.avgDocLen))
			scores[id] += idf * (num / denom)

			if !slices.Contains(matches[id], t) {
				matches[id] = append(matches[id], t)
			}
		}
	}

	results := make([]lexical.Result, 0, len(scores))
	for id, s := range scores {
		if s <= 0 {
			continue
		}
		d := idx.docs[id]
		results = append(results, lexical.Result{
			ID:      id,
			Path:    d.path,
			ChunkID: d.chunkID,
			Score:   s,
			Matches: matches[id],
		})
	}
	slices.SortFunc(results, func(a, b lexical.Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// MemoryUsage returns a rough estimate of the heap bytes held by the index.
func (idx *MemoryIndex) MemoryUsage() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var size int64
	for id, d := range idx.docs {
		size += int64(len(id) + len(d.path) + len(d.chunkID) + 48)
		for t := range d.terms {
			size += int64(len(t) + 16)
		}
	}
	for t, postings := range idx.inverted {
		size += int64(len(t) + 48 + 24*len(postings))
	}
	return size
}

// Close implements io.Closer.
func (idx *MemoryIndex) Close() error {
	return nil
}
