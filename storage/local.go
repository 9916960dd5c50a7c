package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrLocked is returned by Lock when another process holds the root lock.
var ErrLocked = errors.New("storage: root is locked by another writer")

const lockFileName = ".semindex.lock"

// LocalStore implements Adapter on the local filesystem.
type LocalStore struct {
	root string

	mu   sync.Mutex
	lock *os.File
}

// NewLocalStore creates a LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Root returns the directory the store is rooted at.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) abs(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(Clean(p)))
}

// ReadBinary implements Adapter.
func (s *LocalStore) ReadBinary(_ context.Context, p string) ([]byte, error) {
	return os.ReadFile(s.abs(p))
}

// WriteBinaryAtomic implements Adapter.
func (s *LocalStore) WriteBinaryAtomic(_ context.Context, p string, data []byte) error {
	return s.writeAtomic(s.abs(p), data)
}

// ReadText implements Adapter.
func (s *LocalStore) ReadText(ctx context.Context, p string) (string, error) {
	b, err := s.ReadBinary(ctx, p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteTextAtomic implements Adapter.
func (s *LocalStore) WriteTextAtomic(_ context.Context, p string, text string) error {
	return s.writeAtomic(s.abs(p), []byte(text))
}

func (s *LocalStore) writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return syncDir(dir)
}

// RenameAtomic implements Adapter.
func (s *LocalStore) RenameAtomic(_ context.Context, from, to string) error {
	src, dst := s.abs(from), s.abs(to)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	if err := syncDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if filepath.Dir(src) != filepath.Dir(dst) {
		return syncDir(filepath.Dir(src))
	}
	return nil
}

// Stat implements Adapter.
func (s *LocalStore) Stat(_ context.Context, p string) (*FileInfo, error) {
	fi, err := os.Stat(s.abs(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &FileInfo{ModTime: fi.ModTime(), Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

// ListDir implements Adapter.
func (s *LocalStore) ListDir(_ context.Context, p string) ([]string, error) {
	entries, err := os.ReadDir(s.abs(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// EnsureDir implements Adapter.
func (s *LocalStore) EnsureDir(_ context.Context, p string) error {
	return os.MkdirAll(s.abs(p), 0o755)
}

// Exists implements Adapter.
func (s *LocalStore) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Stat(s.abs(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove implements Adapter.
func (s *LocalStore) Remove(_ context.Context, p string) error {
	if Clean(p) == "" {
		return fmt.Errorf("storage: refusing to remove the store root")
	}
	return os.RemoveAll(s.abs(p))
}

// Lock takes an exclusive advisory lock on the store root. The index assumes a
// single writer per root; Lock turns a second writer into an error.
func (s *LocalStore) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.root, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return err
	}
	s.lock = f
	return nil
}

// Unlock releases the lock taken by Lock.
func (s *LocalStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil {
		return nil
	}
	err := unlockFile(s.lock)
	if cerr := s.lock.Close(); err == nil {
		err = cerr
	}
	s.lock = nil
	return err
}
