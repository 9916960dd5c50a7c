package semindex

import (
	"context"
	"fmt"

	"github.com/hupe1980/semindex/remote"
	"github.com/hupe1980/semindex/snapshot"
	"github.com/hupe1980/semindex/storage"
)

// Export copies the committed index to dst. Writers are held off for the
// duration so the manifest, ledger and bm25.json in the snapshot agree.
// Queued jobs are not part of a snapshot.
func (idx *Index) Export(ctx context.Context, dst remote.Store, opts ...snapshot.Option) (*snapshot.Manifest, error) {
	if err := idx.check(); err != nil {
		return nil, err
	}

	base := []snapshot.Option{
		snapshot.WithLogger(idx.logger.WithComponent("snapshot").Logger),
		snapshot.WithResourceController(idx.rc),
		snapshot.WithClock(idx.opts.now),
	}

	var snap *snapshot.Manifest
	err := idx.indexer.Freeze(ctx, func(ctx context.Context) error {
		var err error
		snap, err = snapshot.Export(ctx, idx.store, idx.opts.root, dst, append(base, opts...)...)
		return err
	})
	if err != nil {
		idx.logger.ErrorContext(ctx, "export failed", "error", err)
		return nil, err
	}
	return snap, nil
}

// Import restores a snapshot into the index root of docs before the index is
// opened. WithIndexStore and WithRoot select the root as they do for Open; a
// LocalStore holding the root is locked while files are written.
func Import(ctx context.Context, src remote.Store, docs storage.Adapter, optFns []Option, opts ...snapshot.Option) (*snapshot.Manifest, error) {
	o := applyOptions(optFns)
	store := o.indexStore
	if store == nil {
		store = docs
	}
	if store == nil {
		return nil, fmt.Errorf("%w: document store is required", ErrInvalidArgument)
	}

	if l, ok := store.(locker); ok {
		if err := l.Lock(); err != nil {
			return nil, err
		}
		defer func() { _ = l.Unlock() }()
	}

	base := []snapshot.Option{
		snapshot.WithLogger(o.logger.WithComponent("snapshot").Logger),
		snapshot.WithClock(o.now),
	}
	return snapshot.Import(ctx, src, store, o.root, append(base, opts...)...)
}
