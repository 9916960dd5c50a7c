// Package watch turns file system notifications below a document directory
// into index updates.
//
// Events are debounced per path. When a path settles, the watcher looks at
// the file itself: an existing file is enqueued, a vanished one is removed.
// Editors that save through a temporary file and a rename therefore produce
// a single update for the target.
//
//	w, err := watch.New(dir, idx,
//	    watch.WithResync(func(ctx context.Context) error {
//	        _, err := idx.Reconcile(ctx)
//	        return err
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	return w.Run(ctx)
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Sink receives settled changes. *semindex.Index satisfies it.
type Sink interface {
	Enqueue(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
}

// Stats are counters of a Watcher.
type Stats struct {
	Events   uint64
	Enqueued uint64
	Removed  uint64
	Resyncs  uint64
	Errors   uint64
	Dirs     int
}

type options struct {
	delay    time.Duration
	maxDelay time.Duration
	skip     func(rel string) bool
	resync   func(context.Context) error
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*options)

// WithDebounce sets the quiet period per path and the longest a busy path
// may be delayed.
func WithDebounce(delay, maxDelay time.Duration) Option {
	return func(o *options) {
		if delay > 0 {
			o.delay = delay
		}
		if maxDelay > 0 {
			o.maxDelay = maxDelay
		}
	}
}

// WithSkip replaces the default filter, which skips hidden files and
// directories. rel is slash-separated and relative to the watched root.
func WithSkip(fn func(rel string) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.skip = fn
		}
	}
}

// WithResync sets the callback run when a watched directory disappears, since
// the files below it produce no events of their own.
func WithResync(fn func(context.Context) error) Option {
	return func(o *options) { o.resync = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Hidden reports whether any element of rel starts with a dot.
func Hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// Watcher feeds a Sink from fsnotify events below one directory.
type Watcher struct {
	root string
	sink Sink
	opts options
	fsw  *fsnotify.Watcher
	deb  *debouncer

	ready chan struct{}

	mu      sync.Mutex
	dirs    map[string]struct{}
	goneDir map[string]struct{}

	events, enqueued, removed, resyncs, errCount atomic.Uint64
}

// New creates a Watcher on root. Call Run to start it.
func New(root string, sink Sink, opts ...Option) (*Watcher, error) {
	if sink == nil {
		return nil, errors.New("watch: sink is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", root)
	}

	o := options{
		delay:    300 * time.Millisecond,
		maxDelay: 3 * time.Second,
		skip:     Hidden,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:    abs,
		sink:    sink,
		opts:    o,
		fsw:     fsw,
		deb:     newDebouncer(o.delay, o.maxDelay, 1024),
		dirs:    make(map[string]struct{}),
		goneDir: make(map[string]struct{}),
	}, nil
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.deb.close()
	defer w.fsw.Close()

	if err := w.addTree(w.root, false); err != nil {
		return err
	}
	w.opts.logger.InfoContext(ctx, "watching", "root", w.root, "dirs", w.Stats().Dirs)
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.errCount.Add(1)
			w.opts.logger.WarnContext(ctx, "watch error", "error", err)

		case rel := <-w.deb.out:
			w.dispatch(ctx, rel)
		}
	}
}

// Ready is closed once Run watches the initial directory tree.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	dirs := len(w.dirs)
	w.mu.Unlock()
	return Stats{
		Events:   w.events.Load(),
		Enqueued: w.enqueued.Load(),
		Removed:  w.removed.Load(),
		Resyncs:  w.resyncs.Load(),
		Errors:   w.errCount.Load(),
		Dirs:     dirs,
	}
}

func (w *Watcher) rel(abs string) (string, bool) {
	r, err := filepath.Rel(w.root, abs)
	if err != nil || r == "." || strings.HasPrefix(r, "..") {
		return "", false
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	rel, ok := w.rel(ev.Name)
	if !ok || w.opts.skip(rel) {
		return
	}
	w.events.Add(1)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// Files created before the watch was added produce no events.
			if err := w.addTree(ev.Name, true); err != nil {
				w.opts.logger.Warn("watch directory failed", "path", rel, "error", err)
			}
			return
		}
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		if _, wasDir := w.dirs[ev.Name]; wasDir {
			for d := range w.dirs {
				if d == ev.Name || strings.HasPrefix(d, ev.Name+string(filepath.Separator)) {
					delete(w.dirs, d)
				}
			}
			w.goneDir[rel] = struct{}{}
		}
		w.mu.Unlock()
	}

	w.deb.add(rel)
}

// addTree watches dir and every directory below it. When announce is set,
// the files found are debounced as if they had just been created.
func (w *Watcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		rel, ok := w.rel(p)
		if ok && w.opts.skip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if announce && ok {
				w.deb.add(rel)
			}
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			w.opts.logger.Warn("watch directory failed", "path", p, "error", err)
			return nil
		}
		w.mu.Lock()
		w.dirs[p] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) dispatch(ctx context.Context, rel string) {
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)

	switch {
	case err == nil && info.IsDir():
		w.mu.Lock()
		delete(w.goneDir, rel)
		w.mu.Unlock()
	case err == nil:
		queued, err := w.sink.Enqueue(ctx, rel)
		if err != nil {
			w.errCount.Add(1)
			w.opts.logger.ErrorContext(ctx, "enqueue failed", "path", rel, "error", err)
			break
		}
		if queued {
			w.enqueued.Add(1)
		}
	case errors.Is(err, fs.ErrNotExist):
		w.mu.Lock()
		_, wasDir := w.goneDir[rel]
		delete(w.goneDir, rel)
		w.mu.Unlock()
		if wasDir {
			w.resync(ctx)
			break
		}
		if err := w.sink.Remove(ctx, rel); err != nil {
			w.errCount.Add(1)
			w.opts.logger.ErrorContext(ctx, "remove failed", "path", rel, "error", err)
			break
		}
		w.removed.Add(1)
	default:
		w.errCount.Add(1)
		w.opts.logger.ErrorContext(ctx, "stat failed", "path", rel, "error", err)
	}
}

func (w *Watcher) resync(ctx context.Context) {
	if w.opts.resync == nil {
		return
	}
	w.resyncs.Add(1)
	if err := w.opts.resync(ctx); err != nil {
		w.errCount.Add(1)
		w.opts.logger.ErrorContext(ctx, "resync failed", "error", err)
	}
}
