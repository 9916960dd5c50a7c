package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"
)

// HashBackend is a deterministic, dependency-free backend. Each lowercased
// word is hashed into one of dims buckets with a hashed sign, and the result
// is L2-normalized, so texts sharing words point in similar directions.
type HashBackend struct {
	dims int
}

// NewHashBackend creates a HashBackend. Non-positive dims default to 384.
func NewHashBackend(dims int) *HashBackend {
	if dims <= 0 {
		dims = 384
	}
	return &HashBackend{dims: dims}
}

// Dims returns the embedding width.
func (h *HashBackend) Dims() int { return h.dims }

func (h *HashBackend) Load(context.Context) error   { return nil }
func (h *HashBackend) Unload(context.Context) error { return nil }

func (h *HashBackend) Embed(ctx context.Context, texts []string) ([]float32, int, error) {
	out := make([]float32, len(texts)*h.dims)
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		h.embedOne(text, out[i*h.dims:(i+1)*h.dims])
	}
	return out, h.dims, nil
}

func (h *HashBackend) embedOne(text string, vec []float32) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		// Empty text still gets a stable unit vector.
		words = []string{text}
	}

	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dims)
		if sum[8]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		sum := sha256.Sum256([]byte(text))
		vec[binary.LittleEndian.Uint64(sum[:8])%uint64(h.dims)] = 1
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}
