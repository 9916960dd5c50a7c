// Package remote defines the blob store that index snapshots are exported to
// and imported from.
//
// Blobs are whole objects addressed by slash-separated names. A Store only
// needs put, get, delete and prefix listing, which every object store offers.
// Implementations live in the minio and s3 sub-packages; MemoryStore serves
// tests and local tooling.
package remote

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is a flat object store.
type Store interface {
	// Put writes a blob of size bytes read from r. A size of -1 means unknown.
	// The blob becomes visible only once Put returns nil.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get opens a blob for reading. The caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the sorted names of all blobs below prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
