// Package embed turns text into vectors.
//
// A Backend does the actual work; the Manager wraps one with the lifecycle
// and flow control an indexer needs: a bounded credit window of in-flight
// batches, adaptive batch sizing, per-call timeouts and reloads after a
// backend crash.
package embed

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned when embedding before Start.
	ErrNotReady = errors.New("embedding backend not ready")

	// ErrTimeout is returned when a load or embed call exceeds its deadline.
	ErrTimeout = errors.New("embedding timeout")

	// ErrBackendCrashed reports a failure that requires reloading the backend.
	// Backends wrap it; the Manager reloads and retries.
	ErrBackendCrashed = errors.New("embedding backend crashed")
)

// Backend embeds batches of text.
type Backend interface {
	// Load prepares the model. It is called again after a crash.
	Load(ctx context.Context) error

	// Embed returns one row-major array of len(texts)*dims values.
	Embed(ctx context.Context, texts []string) (vectors []float32, dims int, err error)

	// Unload releases the model.
	Unload(ctx context.Context) error
}

// Result is a contiguous batch of embeddings.
type Result struct {
	Vectors []float32
	Dims    int
}

// Rows returns the number of embeddings in r.
func (r Result) Rows() int {
	if r.Dims == 0 {
		return 0
	}
	return len(r.Vectors) / r.Dims
}

// Row returns the i-th embedding. It aliases r.Vectors.
func (r Result) Row(i int) []float32 {
	return r.Vectors[i*r.Dims : (i+1)*r.Dims]
}
