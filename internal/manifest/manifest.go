package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/storage"
)

const (
	// CurrentVersion is the manifest format version written by this package.
	CurrentVersion = 1

	FileName     = "manifest.json"
	PrevFileName = "manifest.prev.json"
	TmpFileName  = "tmp/manifest.tmp"
)

// Model describes the embedding space of an index.
type Model struct {
	ID    string        `json:"id"`
	Dims  int           `json:"dims"`
	DType segment.DType `json:"dtype"`
}

// Check returns a ModelMismatchError if other describes a different space.
func (m Model) Check(other Model) error {
	switch {
	case m.ID != other.ID:
		return &errs.ModelMismatchError{Field: "model id", Have: m.ID, Want: other.ID}
	case m.Dims != other.Dims:
		return &errs.ModelMismatchError{Field: "dims", Have: strconv.Itoa(m.Dims), Want: strconv.Itoa(other.Dims)}
	case m.DType != other.DType:
		return &errs.ModelMismatchError{Field: "dtype", Have: m.DType.String(), Want: other.DType.String()}
	}
	return nil
}

// SegmentRef points at one published segment.
type SegmentRef struct {
	ID   string `json:"id"`
	Rows int    `json:"rows"`
	Bin  string `json:"bin"`
	Meta string `json:"meta"`
	CRC  uint32 `json:"crc"`
}

// Stats are aggregates over the segment list.
type Stats struct {
	Rows     int `json:"rows"`
	Segments int `json:"segments"`
}

// Manifest is the logical state of an index.
type Manifest struct {
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Model     Model        `json:"model"`
	Segments  []SegmentRef `json:"segments"`
	Stats     Stats        `json:"stats"`
}

// New creates an empty manifest.
func New(model Model, createdAt time.Time) *Manifest {
	return &Manifest{
		Version:   CurrentVersion,
		CreatedAt: createdAt.UTC(),
		Model:     model,
		Segments:  []SegmentRef{},
	}
}

// WithSegment returns a copy of m with ref appended and stats recomputed.
func (m *Manifest) WithSegment(ref SegmentRef) *Manifest {
	next := *m
	next.Segments = append(slices.Clone(m.Segments), ref)
	next.Stats = computeStats(next.Segments)
	return &next
}

// Segment looks up a segment by id.
func (m *Manifest) Segment(id string) (SegmentRef, bool) {
	for _, s := range m.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return SegmentRef{}, false
}

func computeStats(segs []SegmentRef) Stats {
	st := Stats{Segments: len(segs)}
	for _, s := range segs {
		st.Rows += s.Rows
	}
	return st
}

// Store reads and writes the manifest of one index root.
type Store struct {
	store  storage.Adapter
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a manifest store for the index rooted at root.
func NewStore(store storage.Adapter, root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{store: store, root: root, logger: logger}
}

// Path resolves a root-relative path.
func (s *Store) Path(rel string) string {
	return path.Join(s.root, rel)
}

// Load returns the current manifest, falling back to the previous one when the
// current one is missing or unreadable. It returns nil, nil when no manifest
// exists yet.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read(ctx, FileName)
	if err == nil {
		return m, nil
	}
	if errors.Is(err, ErrIncompatibleVersion) || ctx.Err() != nil {
		return nil, err
	}
	currentErr := err

	m, err = s.read(ctx, PrevFileName)
	if err == nil {
		s.logger.WarnContext(ctx, "manifest unreadable, using previous", "error", currentErr)
		return m, nil
	}
	if errors.Is(err, ErrIncompatibleVersion) || ctx.Err() != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Store) read(ctx context.Context, name string) (*Manifest, error) {
	text, err := s.store.ReadText(ctx, s.Path(name))
	if err != nil {
		return nil, errs.IO("read", s.Path(name), err)
	}

	var m Manifest
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %s has version %d", ErrIncompatibleVersion, name, m.Version)
	}
	if m.Segments == nil {
		m.Segments = []SegmentRef{}
	}
	return &m, nil
}

// Save publishes m as the current manifest.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.Path(TmpFileName)
	if err := s.store.EnsureDir(ctx, path.Dir(tmp)); err != nil {
		return errs.IO("ensure_dir", path.Dir(tmp), err)
	}
	if err := s.store.WriteTextAtomic(ctx, tmp, string(data)); err != nil {
		return errs.IO("write", tmp, err)
	}

	current, prev := s.Path(FileName), s.Path(PrevFileName)
	exists, err := s.store.Exists(ctx, current)
	if err != nil {
		return errs.IO("exists", current, err)
	}
	if exists {
		if err := s.store.RenameAtomic(ctx, current, prev); err != nil {
			return errs.IO("rename", current, err)
		}
	}
	if err := s.store.RenameAtomic(ctx, tmp, current); err != nil {
		return errs.IO("rename", tmp, err)
	}
	return nil
}

// Validate checks m for structural problems and missing files. It never fails;
// problems are returned as messages.
func (s *Store) Validate(ctx context.Context, m *Manifest) []string {
	issues := Check(m)
	for _, seg := range m.Segments {
		if seg.Bin == "" || seg.Meta == "" {
			continue
		}
		for _, f := range []string{seg.Bin, seg.Meta} {
			ok, err := s.store.Exists(ctx, s.Path(f))
			switch {
			case err != nil:
				issues = append(issues, fmt.Sprintf("segment %s: cannot check %s: %v", seg.ID, f, err))
			case !ok:
				issues = append(issues, fmt.Sprintf("segment %s: missing file %s", seg.ID, f))
			}
		}
	}
	return issues
}

// Check reports structural problems of m without touching storage.
func Check(m *Manifest) []string {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if m.Version != CurrentVersion {
		add("unsupported manifest version %d", m.Version)
	}
	if m.Model.ID == "" {
		add("model id is empty")
	}
	if m.Model.Dims <= 0 {
		add("model dims must be positive, got %d", m.Model.Dims)
	}
	if !m.Model.DType.Valid() {
		add("model dtype %d is invalid", uint8(m.Model.DType))
	}

	seen := make(map[string]struct{}, len(m.Segments))
	for i, seg := range m.Segments {
		if seg.ID == "" {
			add("segment %d has an empty id", i)
		}
		if _, dup := seen[seg.ID]; dup {
			add("segment %s is listed twice", seg.ID)
		}
		seen[seg.ID] = struct{}{}
		if seg.Rows < 0 {
			add("segment %s has negative rows", seg.ID)
		}
		if seg.Bin == "" || seg.Meta == "" {
			add("segment %s is missing a file path", seg.ID)
		}
	}

	if want := computeStats(m.Segments); m.Stats != want {
		add("stats %+v do not match segments %+v", m.Stats, want)
	}
	return issues
}
