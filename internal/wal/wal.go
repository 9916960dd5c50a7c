package wal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/storage"
)

// FileName is the log location relative to the index root.
const FileName = "wal/tasks.jsonl"

// DefaultRetention is how long finished jobs survive compaction.
const DefaultRetention = 24 * time.Hour

// Status is the state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusStarted Status = "started"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Active reports whether a job with this status still needs work.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusStarted
}

// Entry is one line of the log. Times are unix milliseconds.
type Entry struct {
	ID     string `json:"id"`
	Path   string `json:"path,omitempty"`
	Status Status `json:"status"`
	Hash   string `json:"hash,omitempty"`
	EnqAt  int64  `json:"enq_at,omitempty"`
	DoneAt int64  `json:"done_at,omitempty"`
	Err    string `json:"err,omitempty"`
}

// Transition returns a copy of e moved to status. Finished states record
// done_at and, for failures, the error message.
func (e Entry) Transition(status Status, now time.Time, cause error) Entry {
	next := e
	next.Status = status
	next.Err = ""
	if !status.Active() {
		next.DoneAt = now.UnixMilli()
	}
	if cause != nil {
		next.Err = cause.Error()
	}
	return next
}

// Options configures a WAL.
type Options struct {
	Retention time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Retention: DefaultRetention,
		Now:       time.Now,
	}
}

// WAL is the job journal of one index root.
type WAL struct {
	mu    sync.Mutex
	store storage.Adapter
	path  string
	opts  Options
}

// Open returns the WAL of the index rooted at root. Nothing is read until used.
func Open(store storage.Adapter, root string, opts Options) *WAL {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WAL{store: store, path: path.Join(root, FileName), opts: opts}
}

// Path returns the log location in the adapter namespace.
func (w *WAL) Path() string {
	return w.path
}

// Append adds e to the log.
func (w *WAL) Append(ctx context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current, err := w.readRaw(ctx)
	if err != nil {
		return err
	}
	if current != "" && !strings.HasSuffix(current, "\n") {
		current += "\n"
	}
	return w.write(ctx, current+string(line)+"\n")
}

// Entries returns every well-formed line in log order.
func (w *WAL) Entries(ctx context.Context) ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries(ctx)
}

// Pending returns the jobs whose authoritative state is pending or started.
func (w *WAL) Pending(ctx context.Context) ([]Entry, error) {
	entries, err := w.Entries(ctx)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range Fold(entries) {
		if e.Status.Active() {
			out = append(out, e)
		}
	}
	return out, nil
}

// Compact rewrites the log with one line per job, dropping finished jobs older
// than the retention window. It returns the number of lines removed.
func (w *WAL) Compact(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.entries(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	cutoff := w.opts.Now().Add(-w.opts.Retention).UnixMilli()
	var b strings.Builder
	kept := 0
	for _, e := range Fold(entries) {
		if !e.Status.Active() {
			finished := e.DoneAt
			if finished == 0 {
				finished = e.EnqAt
			}
			if finished < cutoff {
				continue
			}
		}
		line, err := json.Marshal(e)
		if err != nil {
			return 0, err
		}
		b.Write(line)
		b.WriteByte('\n')
		kept++
	}

	if err := w.write(ctx, b.String()); err != nil {
		return 0, err
	}
	removed := len(entries) - kept
	w.opts.Logger.DebugContext(ctx, "wal compacted", "kept", kept, "removed", removed)
	return removed, nil
}

// Fold reduces entries to the authoritative entry per job id: the greatest
// enq_at, ties resolved to the later entry. Order follows first appearance.
func Fold(entries []Entry) []Entry {
	idx := make(map[string]int, len(entries))
	var out []Entry
	for _, e := range entries {
		i, ok := idx[e.ID]
		if !ok {
			idx[e.ID] = len(out)
			out = append(out, e)
			continue
		}
		if e.EnqAt >= out[i].EnqAt {
			out[i] = e
		}
	}
	return out
}

func (w *WAL) readRaw(ctx context.Context) (string, error) {
	text, err := w.store.ReadText(ctx, w.path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", errs.IO("read", w.path, err)
	}
	return text, nil
}

func (w *WAL) entries(ctx context.Context) ([]Entry, error) {
	text, err := w.readRaw(ctx)
	if err != nil {
		return nil, err
	}

	lines := segment.Lines(text)
	out := make([]Entry, 0, len(lines))
	for i, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.ID == "" {
			w.opts.Logger.WarnContext(ctx, "skipping malformed wal line", "error", errs.CorruptRecord(w.path, i+1, err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (w *WAL) write(ctx context.Context, text string) error {
	if err := w.store.EnsureDir(ctx, path.Dir(w.path)); err != nil {
		return errs.IO("ensure_dir", path.Dir(w.path), err)
	}
	if err := w.store.WriteTextAtomic(ctx, w.path, text); err != nil {
		return errs.IO("write", w.path, err)
	}
	return nil
}
