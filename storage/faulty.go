package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
)

// Op names an Adapter operation for fault matching.
type Op string

const (
	OpReadBinary  Op = "read_binary"
	OpWriteBinary Op = "write_binary"
	OpReadText    Op = "read_text"
	OpWriteText   Op = "write_text"
	OpRename      Op = "rename"
	OpStat        Op = "stat"
	OpListDir     Op = "list_dir"
	OpEnsureDir   Op = "ensure_dir"
	OpExists      Op = "exists"
	OpRemove      Op = "remove"
)

var (
	// ErrInjectedCrash is returned by a FaultyStore once a crash fault fired.
	ErrInjectedCrash = errors.New("storage: injected crash")

	// ErrInjectedFault is the default error of a non-crash fault.
	ErrInjectedFault = errors.New("storage: injected fault")
)

// Fault defines one injected failure.
type Fault struct {
	Op      Op     // Operation to match; empty matches every operation.
	Pattern string // Substring of the path to match; empty matches every path.
	Skip    int    // Matching calls to let through before firing.

	// Crash latches the store: this and every later call fails with
	// ErrInjectedCrash until Recover is called.
	Crash bool

	// Partial, for writes, stores only the first Partial bytes under the final
	// name before failing, modelling a host without atomic writes.
	Partial int

	Sticky bool  // Keep firing after the first hit.
	Err    error // Overrides the returned error.
}

type corruption struct {
	pattern string
	flips   int
}

// FaultyStore is an Adapter decorator that injects failures.
type FaultyStore struct {
	inner Adapter

	mu      sync.Mutex
	faults  []*faultState
	corrupt []corruption
	crashed bool
	calls   map[Op]int
	rng     *rand.Rand
}

type faultState struct {
	Fault
	seen int
}

// NewFaultyStore wraps inner. The seed drives read corruption.
func NewFaultyStore(inner Adapter, seed uint64) *FaultyStore {
	return &FaultyStore{
		inner: inner,
		calls: make(map[Op]int),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Inner returns the wrapped adapter.
func (f *FaultyStore) Inner() Adapter {
	return f.inner
}

// AddFault registers a fault.
func (f *FaultyStore) AddFault(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &faultState{Fault: fault})
}

// CrashAt crashes the store on the n-th call (1-based) of op.
func (f *FaultyStore) CrashAt(op Op, n int) {
	f.AddFault(Fault{Op: op, Skip: n - 1, Crash: true})
}

// CrashOnPattern crashes the store on the first call touching a matching path.
func (f *FaultyStore) CrashOnPattern(pattern string) {
	f.AddFault(Fault{Pattern: pattern, Crash: true})
}

// CorruptReads flips bytes in every read of a matching path.
func (f *FaultyStore) CorruptReads(pattern string, flips int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt = append(f.corrupt, corruption{pattern: pattern, flips: flips})
}

// Crashed reports whether a crash fault fired.
func (f *FaultyStore) Crashed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crashed
}

// Recover clears the crashed state, keeping the remaining faults.
func (f *FaultyStore) Recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashed = false
}

// Reset removes every fault and the crashed state.
func (f *FaultyStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
	f.corrupt = nil
	f.crashed = false
	f.calls = make(map[Op]int)
}

// Calls returns how often op was invoked.
func (f *FaultyStore) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// check records the call and returns the fault to apply, if any.
func (f *FaultyStore) check(op Op, paths ...string) (*Fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	if f.crashed {
		return nil, ErrInjectedCrash
	}

	for i, st := range f.faults {
		if st.Op != "" && st.Op != op {
			continue
		}
		if st.Pattern != "" && !matchesAny(st.Pattern, paths) {
			continue
		}
		st.seen++
		if st.seen <= st.Skip {
			continue
		}
		if !st.Sticky {
			f.faults = append(f.faults[:i], f.faults[i+1:]...)
		}

		fault := st.Fault
		if fault.Crash {
			f.crashed = true
		}
		return &fault, faultErr(fault)
	}
	return nil, nil
}

func faultErr(fault Fault) error {
	if fault.Err != nil {
		return fault.Err
	}
	if fault.Crash {
		return ErrInjectedCrash
	}
	return ErrInjectedFault
}

func matchesAny(pattern string, paths []string) bool {
	for _, p := range paths {
		if strings.Contains(p, pattern) {
			return true
		}
	}
	return false
}

func (f *FaultyStore) corruptRead(p string, data []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return data
	}
	for _, c := range f.corrupt {
		if !strings.Contains(p, c.pattern) {
			continue
		}
		for range c.flips {
			i := f.rng.IntN(len(data))
			data[i] ^= byte(1 + f.rng.IntN(255))
		}
	}
	return data
}

// ReadBinary implements Adapter.
func (f *FaultyStore) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	if _, err := f.check(OpReadBinary, p); err != nil {
		return nil, err
	}
	data, err := f.inner.ReadBinary(ctx, p)
	if err != nil {
		return nil, err
	}
	return f.corruptRead(p, data), nil
}

// WriteBinaryAtomic implements Adapter.
func (f *FaultyStore) WriteBinaryAtomic(ctx context.Context, p string, data []byte) error {
	fault, err := f.check(OpWriteBinary, p)
	if err != nil {
		if fault != nil && fault.Partial > 0 {
			_ = f.inner.WriteBinaryAtomic(ctx, p, data[:min(fault.Partial, len(data))])
		}
		return err
	}
	return f.inner.WriteBinaryAtomic(ctx, p, data)
}

// ReadText implements Adapter.
func (f *FaultyStore) ReadText(ctx context.Context, p string) (string, error) {
	if _, err := f.check(OpReadText, p); err != nil {
		return "", err
	}
	text, err := f.inner.ReadText(ctx, p)
	if err != nil {
		return "", err
	}
	return string(f.corruptRead(p, []byte(text))), nil
}

// WriteTextAtomic implements Adapter.
func (f *FaultyStore) WriteTextAtomic(ctx context.Context, p string, text string) error {
	fault, err := f.check(OpWriteText, p)
	if err != nil {
		if fault != nil && fault.Partial > 0 {
			_ = f.inner.WriteTextAtomic(ctx, p, text[:min(fault.Partial, len(text))])
		}
		return err
	}
	return f.inner.WriteTextAtomic(ctx, p, text)
}

// RenameAtomic implements Adapter.
func (f *FaultyStore) RenameAtomic(ctx context.Context, from, to string) error {
	if _, err := f.check(OpRename, from, to); err != nil {
		return err
	}
	return f.inner.RenameAtomic(ctx, from, to)
}

// Stat implements Adapter.
func (f *FaultyStore) Stat(ctx context.Context, p string) (*FileInfo, error) {
	if _, err := f.check(OpStat, p); err != nil {
		return nil, err
	}
	return f.inner.Stat(ctx, p)
}

// ListDir implements Adapter.
func (f *FaultyStore) ListDir(ctx context.Context, p string) ([]string, error) {
	if _, err := f.check(OpListDir, p); err != nil {
		return nil, err
	}
	return f.inner.ListDir(ctx, p)
}

// EnsureDir implements Adapter.
func (f *FaultyStore) EnsureDir(ctx context.Context, p string) error {
	if _, err := f.check(OpEnsureDir, p); err != nil {
		return err
	}
	return f.inner.EnsureDir(ctx, p)
}

// Exists implements Adapter.
func (f *FaultyStore) Exists(ctx context.Context, p string) (bool, error) {
	if _, err := f.check(OpExists, p); err != nil {
		return false, err
	}
	return f.inner.Exists(ctx, p)
}

// Remove implements Adapter.
func (f *FaultyStore) Remove(ctx context.Context, p string) error {
	if _, err := f.check(OpRemove, p); err != nil {
		return err
	}
	return f.inner.Remove(ctx, p)
}
