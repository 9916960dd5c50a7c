package indexer

import (
	"context"
	"path"
	"slices"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/integrity"
	"github.com/hupe1980/semindex/internal/ledger"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/lexical"
	"github.com/hupe1980/semindex/lexical/bm25"
	"github.com/hupe1980/semindex/storage"
)

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Scanned  int
	Enqueued int
	Removed  int
}

// Reconcile walks the document store, enqueues documents whose stat differs
// from the ledger and removes ledger entries whose document vanished.
func (ix *Indexer) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	all, err := ix.ledger.ReadAll(ctx)
	if err != nil {
		return report, err
	}

	seen := make(map[string]struct{})
	err = storage.Walk(ctx, ix.docs, "", func(p string, info *storage.FileInfo) error {
		if info.IsDir {
			if ix.ignored(p) {
				return storage.SkipDir
			}
			return nil
		}
		if !ix.Accepts(p) {
			return nil
		}
		seen[p] = struct{}{}
		report.Scanned++

		if e, ok := all[p]; ok && !ledger.Stale(e, ok, info, "") {
			return nil
		}
		if err := ix.rc.WaitIO(ctx, 1); err != nil {
			return err
		}
		queued, err := ix.Enqueue(ctx, p)
		if err != nil {
			return err
		}
		if queued {
			report.Enqueued++
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	for p := range all {
		if _, ok := seen[p]; ok {
			continue
		}
		if err := ix.rc.WaitIO(ctx, 1); err != nil {
			return report, err
		}
		exists, err := ix.docs.Exists(ctx, p)
		if err != nil {
			return report, errs.IO("exists", p, err)
		}
		if exists {
			continue
		}
		if err := ix.Remove(ctx, p); err != nil {
			return report, err
		}
		report.Removed++
	}

	ix.logger.InfoContext(ctx, "reconcile finished", "scanned", report.Scanned, "enqueued", report.Enqueued, "removed", report.Removed)
	return report, nil
}

// Rebuild wipes the index root and enqueues every document again. Queued
// jobs are dropped; a running job finishes first.
func (ix *Indexer) Rebuild(ctx context.Context) (int, error) {
	ix.sched.Pause()
	defer ix.sched.Resume()
	ix.sched.Clear()

	if err := ix.wipe(ctx); err != nil {
		return 0, err
	}

	queued := 0
	err := storage.Walk(ctx, ix.docs, "", func(p string, info *storage.FileInfo) error {
		if info.IsDir {
			if ix.ignored(p) {
				return storage.SkipDir
			}
			return nil
		}
		ok, err := ix.Enqueue(ctx, p)
		if ok {
			queued++
		}
		return err
	})
	ix.logger.InfoContext(ctx, "rebuild queued", "documents", queued)
	return queued, err
}

func (ix *Indexer) wipe(ctx context.Context) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	for _, dir := range integrity.ScannedDirs {
		p := ix.manifests.Path(dir)
		names, err := ix.store.ListDir(ctx, p)
		if err != nil {
			return errs.IO("list", p, err)
		}
		for _, name := range names {
			if err := ix.store.Remove(ctx, path.Join(p, name)); err != nil {
				return errs.IO("remove", path.Join(p, name), err)
			}
		}
	}
	for _, name := range []string{manifest.FileName, manifest.PrevFileName, bm25.FileName} {
		if err := ix.store.Remove(ctx, ix.manifests.Path(name)); err != nil {
			return errs.IO("remove", name, err)
		}
	}
	if err := ix.ledger.Write(ctx, map[string]ledger.Entry{}); err != nil {
		return err
	}

	ix.lexical.Reset()
	ix.live.Reset()
	ix.setManifest(nil)
	ix.sincePersist = 0
	return nil
}

// restoreLiveness replays the manifest: later segments supersede earlier
// rows of the same path, and paths missing from the ledger are dead. It
// returns the sorted chunk ids of each path's latest segment.
func (ix *Indexer) restoreLiveness(ctx context.Context, m *manifest.Manifest) (map[string][]string, error) {
	ix.live.Reset()
	chunks := make(map[string][]string)
	if m == nil {
		return chunks, nil
	}

	for _, ref := range m.Segments {
		text, err := ix.store.ReadText(ctx, ix.manifests.Path(ref.Meta))
		if err != nil {
			ix.logger.WarnContext(ctx, "segment metadata unreadable", "segment_id", ref.ID, "error", err)
			continue
		}
		lines := segment.Lines(text)
		paths := make([]string, len(lines))
		segChunks := make(map[string][]string)
		for i, line := range lines {
			meta, err := segment.ParseMeta(line)
			if err != nil {
				ix.logger.WarnContext(ctx, "skipping metadata line", "error", errs.CorruptRecord(ref.Meta, i+1, err))
				continue
			}
			paths[i] = meta.Path
			segChunks[meta.Path] = append(segChunks[meta.Path], meta.ChunkID)
		}
		ix.live.AddSegment(ref.ID, paths)
		for p, ids := range segChunks {
			slices.Sort(ids)
			chunks[p] = slices.Compact(ids)
		}
	}

	all, err := ix.ledger.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	dropped := ix.live.Retain(func(p string) bool {
		_, ok := all[p]
		return ok
	})
	for _, p := range dropped {
		delete(chunks, p)
	}
	if len(dropped) > 0 {
		ix.logger.InfoContext(ctx, "rows without ledger entry hidden", "paths", len(dropped))
	}
	return chunks, nil
}

// restoreLexical loads bm25.json and aligns it with the live segments:
// stale paths are dropped, and live paths that are missing from the snapshot
// or whose chunk ids differ from their latest segment are re-chunked from
// their current text.
func (ix *Indexer) restoreLexical(ctx context.Context, chunks map[string][]string) error {
	p := ix.manifests.Path(bm25.FileName)
	data, err := ix.store.ReadBinary(ctx, p)
	switch {
	case err == nil:
		restored, uerr := bm25.Unmarshal(data, ix.cfg.BM25)
		if uerr != nil {
			ix.logger.WarnContext(ctx, "lexical index unreadable, rebuilding", "error", uerr)
			ix.lexical.Reset()
			break
		}
		ix.lexical.Replace(restored)
	case isNotFound(err):
		ix.lexical.Reset()
	default:
		return errs.IO("read", p, err)
	}

	live := make(map[string]struct{})
	for _, lp := range ix.live.Paths() {
		live[lp] = struct{}{}
	}
	current := make(map[string]struct{})
	for _, lp := range ix.lexical.Paths() {
		if _, ok := live[lp]; !ok {
			ix.lexical.RemovePath(lp)
			continue
		}
		if !slices.Equal(ix.lexical.ChunkIDs(lp), chunks[lp]) {
			ix.lexical.RemovePath(lp)
			ix.logger.DebugContext(ctx, "lexical entries out of date", "path", lp)
			continue
		}
		current[lp] = struct{}{}
	}

	for lp := range live {
		if _, ok := current[lp]; ok {
			continue
		}
		text, err := ix.docs.ReadText(ctx, lp)
		if err != nil {
			ix.logger.WarnContext(ctx, "cannot restore lexical entries", "path", lp, "error", err)
			continue
		}
		for _, c := range ix.chunker.Chunk(text) {
			if err := ix.lexical.Add(lexical.Document{Path: lp, ChunkID: c.ID, Content: c.Content}); err != nil {
				return err
			}
		}
	}
	return nil
}
