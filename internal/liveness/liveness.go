// Package liveness tracks which rows of immutable segments are still visible.
//
// A row dies when a later segment indexes the same path again or when its
// document is removed. Segments themselves never change; the dead rows are
// kept as one roaring bitmap per segment and rebuilt from manifest order at
// startup.
package liveness

import (
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Set is the liveness state of all published segments. It is safe for
// concurrent use.
type Set struct {
	mu     sync.RWMutex
	dead   map[string]*roaring.Bitmap     // segment id -> dead rows
	rows   map[string]map[string][]uint32 // segment id -> path -> rows
	total  map[string]int                 // segment id -> row count
	latest map[string]string              // path -> segment id holding its live rows
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		dead:   make(map[string]*roaring.Bitmap),
		rows:   make(map[string]map[string][]uint32),
		total:  make(map[string]int),
		latest: make(map[string]string),
	}
}

// AddSegment registers a newly published segment, in manifest order. paths
// holds the document path of each row. Rows of those paths held by earlier
// segments die.
func (s *Set) AddSegment(id string, paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPath := make(map[string][]uint32)
	for i, p := range paths {
		byPath[p] = append(byPath[p], uint32(i))
	}

	for p := range byPath {
		if prev, ok := s.latest[p]; ok && prev != id {
			s.killLocked(prev, p)
		}
		s.latest[p] = id
	}
	s.rows[id] = byPath
	s.total[id] = len(paths)
	if _, ok := s.dead[id]; !ok {
		s.dead[id] = roaring.New()
	}
}

// RemovePath kills the live rows of a path. It reports whether any existed.
func (s *Set) RemovePath(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.latest[path]
	if !ok {
		return false
	}
	s.killLocked(id, path)
	delete(s.latest, path)
	return true
}

// Retain kills every live path for which keep returns false and returns the
// removed paths.
func (s *Set) Retain(keep func(path string) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for p, id := range s.latest {
		if keep(p) {
			continue
		}
		s.killLocked(id, p)
		delete(s.latest, p)
		removed = append(removed, p)
	}
	return removed
}

func (s *Set) killLocked(id, path string) {
	bm, ok := s.dead[id]
	if !ok {
		bm = roaring.New()
		s.dead[id] = bm
	}
	bm.AddMany(s.rows[id][path])
}

// IsLive reports whether a row is visible. Rows of unknown segments are live.
func (s *Set) IsLive(id string, row uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm, ok := s.dead[id]
	return !ok || !bm.Contains(row)
}

// Dead returns a copy of the dead rows of a segment.
func (s *Set) Dead(id string) *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bm, ok := s.dead[id]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// Segment returns the id of the segment holding the live rows of a path.
func (s *Set) Segment(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.latest[path]
	return id, ok
}

// Paths returns the live paths, sorted.
func (s *Set) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.latest))
	for p := range s.latest {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Stats summarizes the set.
type Stats struct {
	Segments int
	Rows     int
	DeadRows int
}

// Stats returns row counts across all segments.
func (s *Set) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Segments: len(s.total)}
	for id, n := range s.total {
		st.Rows += n
		st.DeadRows += int(s.dead[id].GetCardinality())
	}
	return st
}

// Reset drops all state.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dead = make(map[string]*roaring.Bitmap)
	s.rows = make(map[string]map[string][]uint32)
	s.total = make(map[string]int)
	s.latest = make(map[string]string)
}
