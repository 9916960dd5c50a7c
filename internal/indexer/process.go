package indexer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/semindex/internal/chunk"
	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/hash"
	"github.com/hupe1980/semindex/internal/ledger"
	"github.com/hupe1980/semindex/internal/scheduler"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/internal/wal"
	"github.com/hupe1980/semindex/internal/writer"
	"github.com/hupe1980/semindex/lexical"
	"github.com/hupe1980/semindex/storage"
)

// Enqueue journals a document for indexing when it changed since it was
// last indexed. It reports whether a job was queued. A new path whose
// content matches a vanished ledger entry is treated as a rename: the old
// path is removed.
func (ix *Indexer) Enqueue(ctx context.Context, p string) (bool, error) {
	return ix.enqueue(ctx, storage.Clean(p), false)
}

func (ix *Indexer) enqueue(ctx context.Context, p string, force bool) (bool, error) {
	if !ix.Accepts(p) {
		return false, nil
	}
	stat, err := ix.docs.Stat(ctx, p)
	if err != nil {
		return false, errs.IO("stat", p, err)
	}
	if stat == nil || stat.IsDir {
		return false, nil
	}

	text, err := ix.docs.ReadText(ctx, p)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errs.IO("read", p, err)
	}
	h := hash.Content(text)

	all, err := ix.ledger.ReadAll(ctx)
	if err != nil {
		return false, err
	}
	prev, known := all[p]
	if !force {
		if !ledger.Stale(prev, known, stat, h) {
			return false, nil
		}
		if known && prev.LastHash == h {
			// Touched but unchanged.
			return false, ix.ledger.Update(ctx, p, ledger.EntryFor(stat, h, ix.now()))
		}
	}
	if !known {
		if err := ix.detectRename(ctx, p, h); err != nil {
			return false, err
		}
	}

	e := wal.Entry{
		ID:     uuid.NewString(),
		Path:   p,
		Status: wal.StatusPending,
		Hash:   h,
		EnqAt:  ix.now().UnixMilli(),
	}
	if err := ix.wal.Append(ctx, e); err != nil {
		return false, err
	}
	if err := ix.schedule(e, scheduler.PriorityNormal); err != nil {
		return false, err
	}
	ix.logger.DebugContext(ctx, "document enqueued", "path", p, "job_id", e.ID)
	return true, nil
}

func (ix *Indexer) detectRename(ctx context.Context, p, h string) error {
	candidates, err := ix.ledger.FindRenames(ctx, h, p)
	if err != nil {
		return err
	}
	for _, old := range candidates {
		exists, err := ix.docs.Exists(ctx, old)
		if err != nil {
			return errs.IO("exists", old, err)
		}
		if exists {
			continue
		}
		ix.logger.InfoContext(ctx, "rename detected", "from", old, "to", p)
		if err := ix.Remove(ctx, old); err != nil {
			return err
		}
	}
	return nil
}

// Remove schedules the removal of a document: its ledger entry, lexical
// chunks and vector rows. Segment files are untouched; the rows stop being
// visible. A low-priority WAL compaction follows.
func (ix *Indexer) Remove(_ context.Context, p string) error {
	p = storage.Clean(p)
	err := ix.sched.Enqueue("remove "+p, scheduler.PriorityHigh, func(ctx context.Context) error {
		ix.writeMu.Lock()
		defer ix.writeMu.Unlock()
		return ix.removeLocked(ctx, p)
	})
	if err != nil {
		return err
	}
	return ix.sched.Enqueue("compact wal", scheduler.PriorityLow, func(ctx context.Context) error {
		_, err := ix.wal.Compact(ctx)
		return err
	})
}

func (ix *Indexer) removeLocked(ctx context.Context, p string) error {
	if err := ix.ledger.Remove(ctx, p); err != nil {
		return err
	}
	chunks := ix.lexical.RemovePath(p)
	rows := ix.live.RemovePath(p)
	ix.logger.InfoContext(ctx, "document removed", "path", p, "chunks", chunks, "had_rows", rows)
	return nil
}

// Rename schedules a task that moves the ledger entry of from to to and
// removes the rows of from, then reindexes to.
func (ix *Indexer) Rename(ctx context.Context, from, to string) error {
	from, to = storage.Clean(from), storage.Clean(to)
	if from == to {
		return nil
	}
	err := ix.sched.Enqueue("rename "+from, scheduler.PriorityHigh, func(ctx context.Context) error {
		ix.writeMu.Lock()
		defer ix.writeMu.Unlock()
		if err := ix.ledger.Move(ctx, from, to); err != nil {
			return err
		}
		ix.lexical.RemovePath(from)
		ix.live.RemovePath(from)
		return nil
	})
	if err != nil {
		return err
	}
	_, err = ix.enqueue(ctx, to, true)
	return err
}

// process runs one WAL job. Failures are journaled and leave the published
// index unchanged.
func (ix *Indexer) process(ctx context.Context, e wal.Entry) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	start := ix.now()
	rows, err := ix.index(ctx, e)
	d := ix.now().Sub(start)
	if ix.onCommit != nil {
		ix.onCommit(e.Path, rows, d, err)
	}

	if err != nil {
		if werr := ix.wal.Append(ctx, e.Transition(wal.StatusFailed, ix.now(), err)); werr != nil {
			ix.logger.ErrorContext(ctx, "cannot journal failed job", "job_id", e.ID, "error", werr)
		}
		return fmt.Errorf("index %s: %w", e.Path, err)
	}
	if err := ix.wal.Append(ctx, e.Transition(wal.StatusDone, ix.now(), nil)); err != nil {
		return err
	}

	ix.sincePersist++
	if ix.sincePersist >= ix.cfg.PersistEvery {
		if err := ix.persistLexicalLocked(ctx); err != nil {
			ix.logger.WarnContext(ctx, "cannot persist lexical index", "error", err)
		}
	}
	return nil
}

func (ix *Indexer) index(ctx context.Context, e wal.Entry) (int, error) {
	if err := ix.wal.Append(ctx, e.Transition(wal.StatusStarted, ix.now(), nil)); err != nil {
		return 0, err
	}

	text, err := ix.docs.ReadText(ctx, e.Path)
	if err != nil {
		return 0, errs.IO("read", e.Path, err)
	}
	stat, err := ix.docs.Stat(ctx, e.Path)
	if err != nil {
		return 0, errs.IO("stat", e.Path, err)
	}
	h := hash.Content(text)

	chunks := ix.chunker.Chunk(text)
	if len(chunks) == 0 {
		ix.lexical.RemovePath(e.Path)
		ix.live.RemovePath(e.Path)
		return 0, ix.ledger.Update(ctx, e.Path, ledger.EntryFor(stat, h, ix.now()))
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	res, err := ix.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	model := ix.cfg.Model
	if model.Dims == 0 {
		model.Dims = res.Dims
	}
	if res.Dims != model.Dims {
		return 0, &errs.DimensionMismatchError{Expected: model.Dims, Actual: res.Dims}
	}
	if res.Rows() != len(chunks) {
		return 0, fmt.Errorf("%w: %d embeddings for %d chunks", errs.ErrIntegrity, res.Rows(), len(chunks))
	}
	vecs, err := segment.ToDType(res.Vectors, model.DType)
	if err != nil {
		return 0, err
	}

	lines, err := metaLines(e.Path, h, chunks)
	if err != nil {
		return 0, err
	}

	id := fmt.Sprintf("%d-%s", ix.now().UnixMilli(), e.ID)
	next, err := ix.writer.Commit(ctx, writer.Request{
		ID:        id,
		Vectors:   vecs,
		MetaLines: lines,
		Model:     model,
		Prev:      ix.Manifest(),
	})
	if err != nil {
		return 0, err
	}
	ix.setManifest(next)

	ix.lexical.RemovePath(e.Path)
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		paths[i] = e.Path
		if err := ix.lexical.Add(lexical.Document{Path: e.Path, ChunkID: c.ID, Content: c.Content}); err != nil {
			return len(chunks), err
		}
	}
	ix.live.AddSegment(id, paths)

	if err := ix.ledger.Update(ctx, e.Path, ledger.EntryFor(stat, h, ix.now())); err != nil {
		return len(chunks), err
	}
	ix.logger.InfoContext(ctx, "document indexed", "path", e.Path, "segment_id", id, "chunks", len(chunks))
	return len(chunks), nil
}

func metaLines(p, h string, chunks []chunk.Chunk) ([]string, error) {
	lines := make([]string, len(chunks))
	for i, c := range chunks {
		l, err := segment.MarshalMeta(segment.Meta{
			Path:    p,
			ChunkID: c.ID,
			Off:     c.Offset,
			Len:     c.Length,
			Hash:    h,
			Heading: c.Heading,
		})
		if err != nil {
			return nil, err
		}
		lines[i] = l
	}
	return lines, nil
}
