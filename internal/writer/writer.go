// Package writer publishes segments with a three-stage crash-safe commit:
//
//  1. Stage: encode the segment and write binary and metadata under tmp/
//  2. Publish: rename both files into segments/ and meta/
//  3. Manifest: append a SegmentRef and swap the manifest atomically
//
// A reader only ever sees a manifest that references fully published,
// checksummed files. Files staged or published by a failed commit are
// unreferenced and show up as orphans in the integrity report.
//
// The writer assumes it is the only writer of its index root.
package writer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/storage"
)

const (
	TmpDir      = "tmp"
	SegmentsDir = "segments"
	MetaDir     = "meta"
)

// BinPath returns the published binary path of a segment, relative to the root.
func BinPath(id string) string { return path.Join(SegmentsDir, id+".bin") }

// MetaPath returns the published metadata path of a segment, relative to the root.
func MetaPath(id string) string { return path.Join(MetaDir, id+".jsonl") }

// Request describes one segment to commit.
type Request struct {
	ID        string
	Vectors   segment.Vectors
	MetaLines []string
	Model     manifest.Model

	// Prev is the manifest to extend. When nil the current manifest is loaded.
	Prev *manifest.Manifest
}

// Writer commits segments into one index root.
type Writer struct {
	store     storage.Adapter
	manifests *manifest.Store
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock sets the clock used for created_at of a fresh manifest.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a Writer.
func New(store storage.Adapter, manifests *manifest.Store, opts ...Option) *Writer {
	w := &Writer{
		store:     store,
		manifests: manifests,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Commit publishes one segment and returns the new manifest. Any failure is
// returned as is; no retry happens here.
func (w *Writer) Commit(ctx context.Context, req Request) (*manifest.Manifest, error) {
	start := w.now()

	if err := validateID(req.ID); err != nil {
		return nil, err
	}
	rows, err := segment.RowsFor(req.Vectors.Len(), req.Model.Dims)
	if err != nil {
		return nil, err
	}
	if len(req.MetaLines) != rows {
		return nil, fmt.Errorf("%w: %d metadata lines for %d rows", errs.ErrInvalidArgument, len(req.MetaLines), rows)
	}

	prev := req.Prev
	if prev == nil {
		if prev, err = w.manifests.Load(ctx); err != nil {
			return nil, err
		}
	}
	if prev != nil {
		if err := prev.Model.Check(req.Model); err != nil {
			return nil, err
		}
		if _, dup := prev.Segment(req.ID); dup {
			return nil, fmt.Errorf("%w: segment %s already published", errs.ErrInvalidArgument, req.ID)
		}
	}

	data, err := segment.Encode(segment.Header{
		Dims:    uint32(req.Model.Dims),
		Rows:    uint32(rows),
		DType:   req.Model.DType,
		ModelID: req.Model.ID,
	}, req.Vectors)
	if err != nil {
		return nil, err
	}

	// Stage 1.
	tmpBin := w.manifests.Path(path.Join(TmpDir, "SEG-"+req.ID+".bin"))
	tmpMeta := w.manifests.Path(path.Join(TmpDir, "SEG-"+req.ID+".jsonl"))
	if err := w.store.EnsureDir(ctx, w.manifests.Path(TmpDir)); err != nil {
		return nil, errs.IO("ensure_dir", TmpDir, err)
	}
	if err := w.store.WriteBinaryAtomic(ctx, tmpBin, data); err != nil {
		return nil, errs.IO("write", tmpBin, err)
	}
	if err := w.store.WriteTextAtomic(ctx, tmpMeta, segment.JoinLines(req.MetaLines)); err != nil {
		return nil, errs.IO("write", tmpMeta, err)
	}

	// Stage 2.
	for _, dir := range []string{SegmentsDir, MetaDir} {
		if err := w.store.EnsureDir(ctx, w.manifests.Path(dir)); err != nil {
			return nil, errs.IO("ensure_dir", dir, err)
		}
	}
	bin, meta := BinPath(req.ID), MetaPath(req.ID)
	if err := w.store.RenameAtomic(ctx, tmpBin, w.manifests.Path(bin)); err != nil {
		return nil, errs.IO("rename", tmpBin, err)
	}
	if err := w.store.RenameAtomic(ctx, tmpMeta, w.manifests.Path(meta)); err != nil {
		return nil, errs.IO("rename", tmpMeta, err)
	}

	// Stage 3.
	base := prev
	if base == nil {
		base = manifest.New(req.Model, w.now())
	}
	next := base.WithSegment(manifest.SegmentRef{
		ID:   req.ID,
		Rows: rows,
		Bin:  bin,
		Meta: meta,
		CRC:  trailer(data),
	})
	if err := w.manifests.Save(ctx, next); err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "segment committed",
		"segment_id", req.ID,
		"rows", rows,
		"bytes", len(data),
		"total_rows", next.Stats.Rows,
		"duration", w.now().Sub(start),
	)
	return next, nil
}

// CleanupTmp removes everything under tmp/. Errors are ignored; leftovers are
// harmless and reported as orphans. It returns the number of entries removed.
func (w *Writer) CleanupTmp(ctx context.Context) int {
	dir := w.manifests.Path(TmpDir)
	names, err := w.store.ListDir(ctx, dir)
	if err != nil {
		w.logger.DebugContext(ctx, "tmp cleanup skipped", "error", err)
		return 0
	}

	removed := 0
	for _, name := range names {
		if err := w.store.Remove(ctx, path.Join(dir, name)); err != nil {
			w.logger.DebugContext(ctx, "tmp cleanup failed", "name", name, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// trailer returns the CRC stored in the last four bytes of a segment, which
// covers header and payload.
func trailer(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[len(data)-4:])
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: invalid segment id %q", errs.ErrInvalidArgument, id)
	}
	return nil
}
