// Package ledger records, per document, the file stat and content hash seen at
// the last successful commit. It decides whether a document needs reindexing
// and proposes rename candidates.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/storage"
)

// FileName is the ledger location relative to the index root.
const FileName = "ledger.json"

// Entry is the last indexed state of one document.
type Entry struct {
	MtimeMs       int64  `json:"mtimeMs"`
	Size          int64  `json:"size"`
	LastHash      string `json:"lastHash"`
	LastIndexedAt int64  `json:"lastIndexedAt"`
}

// Ledger is the path -> entry map of one index root. Every mutation rewrites
// the whole document atomically.
type Ledger struct {
	mu     sync.Mutex
	store  storage.Adapter
	path   string
	logger *slog.Logger
}

// Open returns the ledger of the index rooted at root.
func Open(store storage.Adapter, root string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{store: store, path: path.Join(root, FileName), logger: logger}
}

// ReadAll returns every entry. A missing ledger is empty; an unreadable one is
// logged and treated as empty, which makes every document eligible for reindexing.
func (l *Ledger) ReadAll(ctx context.Context) (map[string]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx)
}

// Get returns the entry of one document.
func (l *Ledger) Get(ctx context.Context, doc string) (Entry, bool, error) {
	all, err := l.ReadAll(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := all[doc]
	return e, ok, nil
}

// Update upserts the entry of one document.
func (l *Ledger) Update(ctx context.Context, doc string, e Entry) error {
	return l.mutate(ctx, func(all map[string]Entry) {
		all[doc] = e
	})
}

// Remove deletes the entry of one document.
func (l *Ledger) Remove(ctx context.Context, doc string) error {
	return l.mutate(ctx, func(all map[string]Entry) {
		delete(all, doc)
	})
}

// Move re-keys the entry of from to to, keeping its contents.
func (l *Ledger) Move(ctx context.Context, from, to string) error {
	return l.mutate(ctx, func(all map[string]Entry) {
		if e, ok := all[from]; ok {
			delete(all, from)
			all[to] = e
		}
	})
}

// Write replaces the whole ledger.
func (l *Ledger) Write(ctx context.Context, all map[string]Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(ctx, all)
}

// NeedsReindex reports whether doc must be reindexed: it has no entry, its
// mtime or size changed, or hash is non-empty and differs from the last hash.
func (l *Ledger) NeedsReindex(ctx context.Context, doc string, stat *storage.FileInfo, hash string) (bool, error) {
	e, ok, err := l.Get(ctx, doc)
	if err != nil {
		return false, err
	}
	return Stale(e, ok, stat, hash), nil
}

// Stale is the reindex predicate of NeedsReindex over an already loaded entry.
func Stale(e Entry, ok bool, stat *storage.FileInfo, hash string) bool {
	if !ok {
		return true
	}
	if stat != nil && (e.MtimeMs != stat.ModTimeMillis() || e.Size != stat.Size) {
		return true
	}
	return hash != "" && hash != e.LastHash
}

// FindRenames returns the other documents whose last hash equals hash, sorted.
// The result is a candidate list, not proof of a rename.
func (l *Ledger) FindRenames(ctx context.Context, hash, doc string) ([]string, error) {
	all, err := l.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	for p, e := range all {
		if p != doc && e.LastHash == hash {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// EntryFor builds the entry recorded after a successful commit.
func EntryFor(stat *storage.FileInfo, hash string, now time.Time) Entry {
	e := Entry{LastHash: hash, LastIndexedAt: now.UnixMilli()}
	if stat != nil {
		e.MtimeMs = stat.ModTimeMillis()
		e.Size = stat.Size
	}
	return e
}

func (l *Ledger) mutate(ctx context.Context, fn func(map[string]Entry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.read(ctx)
	if err != nil {
		return err
	}
	fn(all)
	return l.write(ctx, all)
}

func (l *Ledger) read(ctx context.Context) (map[string]Entry, error) {
	text, err := l.store.ReadText(ctx, l.path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return make(map[string]Entry), nil
		}
		return nil, errs.IO("read", l.path, err)
	}

	all := make(map[string]Entry)
	if err := json.Unmarshal([]byte(text), &all); err != nil {
		l.logger.WarnContext(ctx, "ledger unreadable, starting empty", "path", l.path, "error", err)
		return make(map[string]Entry), nil
	}
	return all, nil
}

func (l *Ledger) write(ctx context.Context, all map[string]Entry) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	if err := l.store.WriteTextAtomic(ctx, l.path, string(data)); err != nil {
		return errs.IO("write", l.path, err)
	}
	return nil
}
