package testutil

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
)

// Neighbor is one exact search result: the position of a vector in the
// dataset and its cosine similarity to the query.
type Neighbor struct {
	Index int
	Score float64
}

// RNG is a seeded, thread-safe random source.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed uint64
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed uint64) *RNG {
	return &RNG{rand: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), seed: seed}
}

// Seed returns the initial seed.
func (r *RNG) Seed() uint64 { return r.seed }

// IntN returns a pseudo-random number in [0,n).
func (r *RNG) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.IntN(n)
}

// UniformRangeVectors generates vectors with values in [-1, 1).
func (r *RNG) UniformRangeVectors(num, dims int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dims)
	out := make([][]float32, num)
	for i := range num {
		vec := data[i*dims : (i+1)*dims]
		for j := range vec {
			vec[j] = r.rand.Float32()*2 - 1
		}
		out[i] = vec
	}
	return out
}

// UnitVectors generates L2-normalized vectors, uniform on the hypersphere.
func (r *RNG) UnitVectors(num, dims int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dims)
	out := make([][]float32, num)
	for i := range num {
		vec := data[i*dims : (i+1)*dims]
		var norm float64
		for j := range vec {
			v := r.rand.NormFloat64()
			vec[j] = float32(v)
			norm += v * v
		}
		if norm == 0 {
			norm = 1
		}
		inv := float32(1 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= inv
		}
		out[i] = vec
	}
	return out
}

var vocabulary = []string{
	"cat", "dog", "garden", "river", "mountain", "coffee", "meeting", "budget",
	"recipe", "travel", "book", "music", "project", "deadline", "weather",
	"bicycle", "library", "harbor", "lantern", "orchard", "violin", "glacier",
}

// Words returns n words drawn from a small fixed vocabulary.
func (r *RNG) Words(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, n)
	for i := range out {
		out[i] = vocabulary[r.rand.IntN(len(vocabulary))]
	}
	return strings.Join(out, " ")
}

// Vault generates n markdown notes below folder, keyed by path. Each note
// has a heading and two paragraphs.
func (r *RNG) Vault(n int, folder string) map[string]string {
	out := make(map[string]string, n)
	for i := range n {
		p := fmt.Sprintf("%s/note-%03d.md", folder, i)
		out[p] = fmt.Sprintf("# %s\n\n%s.\n\n%s.\n", r.Words(2), r.Words(12), r.Words(12))
	}
	return out
}

// Flatten concatenates vectors into one row-major slice.
func Flatten(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, 0, len(vecs)*len(vecs[0]))
	for _, v := range vecs {
		out = append(out, v...)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, zero when either is zero.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ExactTopK returns the k vectors most similar to query by brute force,
// best first. Ties keep dataset order.
func ExactTopK(query []float32, dataset [][]float32, k int) []Neighbor {
	all := make([]Neighbor, len(dataset))
	for i, v := range dataset {
		all[i] = Neighbor{Index: i, Score: Cosine(query, v)}
	}
	slices.SortStableFunc(all, func(a, b Neighbor) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if k < len(all) {
		all = all[:k]
	}
	return all
}

// ComputeRecall returns the fraction of exact indices present in got.
func ComputeRecall(got []int, exact []Neighbor) float64 {
	if len(exact) == 0 {
		return 1
	}
	seen := make(map[int]struct{}, len(got))
	for _, i := range got {
		seen[i] = struct{}{}
	}
	hits := 0
	for _, n := range exact {
		if _, ok := seen[n.Index]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(exact))
}
