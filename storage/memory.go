package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Adapter for tests.
// It copies on every read and write and is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]memFile
	dirs  map[string]struct{}
	now   func() time.Time
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]memFile),
		dirs:  make(map[string]struct{}),
		now:   time.Now,
	}
}

// SetClock overrides the clock used for modification times.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Files returns a copy of every stored file keyed by path.
func (m *MemoryStore) Files() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.files))
	for p, f := range m.files {
		out[p] = append([]byte(nil), f.data...)
	}
	return out
}

// ReadBinary implements Adapter.
func (m *MemoryStore) ReadBinary(_ context.Context, p string) ([]byte, error) {
	p = Clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), f.data...), nil
}

// WriteBinaryAtomic implements Adapter.
func (m *MemoryStore) WriteBinaryAtomic(_ context.Context, p string, data []byte) error {
	p = Clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, isDir := m.dirs[p]; isDir || p == "" {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrExist}
	}
	m.addParents(p)
	m.files[p] = memFile{data: append([]byte(nil), data...), modTime: m.now()}
	return nil
}

// ReadText implements Adapter.
func (m *MemoryStore) ReadText(ctx context.Context, p string) (string, error) {
	b, err := m.ReadBinary(ctx, p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteTextAtomic implements Adapter.
func (m *MemoryStore) WriteTextAtomic(ctx context.Context, p string, text string) error {
	return m.WriteBinaryAtomic(ctx, p, []byte(text))
}

// RenameAtomic implements Adapter. Directories are moved with their contents.
func (m *MemoryStore) RenameAtomic(_ context.Context, from, to string) error {
	from, to = Clean(from), Clean(to)

	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[from]; ok {
		delete(m.files, from)
		m.addParents(to)
		m.files[to] = f
		return nil
	}

	if !m.isDir(from) {
		return &fs.PathError{Op: "rename", Path: from, Err: fs.ErrNotExist}
	}

	prefix := from + "/"
	for p, f := range m.files {
		if strings.HasPrefix(p, prefix) {
			delete(m.files, p)
			np := to + "/" + strings.TrimPrefix(p, prefix)
			m.addParents(np)
			m.files[np] = f
		}
	}
	for d := range m.dirs {
		if d == from || strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
			m.dirs[to+strings.TrimPrefix(d, from)] = struct{}{}
		}
	}
	m.addParents(to)
	return nil
}

// Stat implements Adapter.
func (m *MemoryStore) Stat(_ context.Context, p string) (*FileInfo, error) {
	p = Clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if f, ok := m.files[p]; ok {
		return &FileInfo{ModTime: f.modTime, Size: int64(len(f.data))}, nil
	}
	if m.isDir(p) {
		return &FileInfo{IsDir: true}, nil
	}
	return nil, nil
}

// ListDir implements Adapter.
func (m *MemoryStore) ListDir(_ context.Context, p string) ([]string, error) {
	p = Clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := ""
	if p != "" {
		prefix = p + "/"
	}

	seen := make(map[string]struct{})
	collect := func(name string) {
		if !strings.HasPrefix(name, prefix) || name == p {
			return
		}
		rest := strings.TrimPrefix(name, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			seen[rest] = struct{}{}
		}
	}
	for name := range m.files {
		collect(name)
	}
	for name := range m.dirs {
		collect(name)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// EnsureDir implements Adapter.
func (m *MemoryStore) EnsureDir(_ context.Context, p string) error {
	p = Clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[p]; ok {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if p != "" {
		m.dirs[p] = struct{}{}
		m.addParents(p)
	}
	return nil
}

// Exists implements Adapter.
func (m *MemoryStore) Exists(_ context.Context, p string) (bool, error) {
	p = Clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.files[p]; ok {
		return true, nil
	}
	return m.isDir(p), nil
}

// Remove implements Adapter.
func (m *MemoryStore) Remove(_ context.Context, p string) error {
	p = Clean(p)

	if p == "" {
		return fmt.Errorf("storage: refusing to remove the store root")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, p)
	delete(m.dirs, p)

	prefix := p + "/"
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			delete(m.files, name)
		}
	}
	for name := range m.dirs {
		if strings.HasPrefix(name, prefix) {
			delete(m.dirs, name)
		}
	}
	return nil
}

// addParents records every ancestor directory of p. Caller holds mu.
func (m *MemoryStore) addParents(p string) {
	for dir := path.Dir(p); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		m.dirs[dir] = struct{}{}
	}
}

// isDir reports whether p is an explicit or implied directory. Caller holds mu.
func (m *MemoryStore) isDir(p string) bool {
	if p == "" {
		return true
	}
	if _, ok := m.dirs[p]; ok {
		return true
	}
	prefix := p + "/"
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
