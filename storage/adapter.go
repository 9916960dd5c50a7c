package storage

import (
	"context"
	"io/fs"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned (wrapped) when a path does not exist.
var ErrNotFound = fs.ErrNotExist

// FileInfo describes a stored file or directory.
type FileInfo struct {
	ModTime time.Time
	Size    int64
	IsDir   bool
}

// ModTimeMillis returns the modification time in unix milliseconds.
func (fi *FileInfo) ModTimeMillis() int64 {
	return fi.ModTime.UnixMilli()
}

// Adapter abstracts the host storage the index lives in.
type Adapter interface {
	// ReadBinary returns the full content of a file.
	ReadBinary(ctx context.Context, path string) ([]byte, error)
	// WriteBinaryAtomic replaces a file so readers see either the old or the new content.
	WriteBinaryAtomic(ctx context.Context, path string, data []byte) error
	// ReadText returns the full content of a file as a string.
	ReadText(ctx context.Context, path string) (string, error)
	// WriteTextAtomic is the text variant of WriteBinaryAtomic.
	WriteTextAtomic(ctx context.Context, path string, text string) error
	// RenameAtomic moves a file, replacing the destination if it exists.
	RenameAtomic(ctx context.Context, from, to string) error
	// Stat returns nil, nil if the path does not exist.
	Stat(ctx context.Context, path string) (*FileInfo, error)
	// ListDir returns the names of the direct children of a directory.
	// A missing directory yields an empty list.
	ListDir(ctx context.Context, path string) ([]string, error)
	// EnsureDir creates a directory and all parents. It is idempotent.
	EnsureDir(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// Remove deletes a file or a directory tree. Removing a missing path is not an error.
	Remove(ctx context.Context, path string) error
}

// Clean normalizes an adapter path. The root is the empty string.
func Clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
