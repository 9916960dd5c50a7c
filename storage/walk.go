package storage

import (
	"context"
	"errors"
	"io/fs"
	"path"
)

// SkipDir can be returned by a WalkFunc called for a directory to skip its contents.
var SkipDir = fs.SkipDir

// WalkFunc is called for every directory and file below the walked root.
type WalkFunc func(path string, info *FileInfo) error

// Walk traverses dir depth-first in lexical order. Entries that vanish during
// the walk are skipped.
func Walk(ctx context.Context, a Adapter, dir string, fn WalkFunc) error {
	names, err := a.ListDir(ctx, dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := path.Join(Clean(dir), name)
		info, err := a.Stat(ctx, p)
		if err != nil {
			return err
		}
		if info == nil {
			continue
		}

		if err := fn(p, info); err != nil {
			if info.IsDir && errors.Is(err, SkipDir) {
				continue
			}
			return err
		}

		if info.IsDir {
			if err := Walk(ctx, a, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
