package hybrid

import (
	"strings"

	"github.com/armon/go-radix"
)

// Filter restricts results to exact paths and folder prefixes. A zero
// Filter matches everything.
type Filter struct {
	Paths   []string
	Folders []string
}

// IsZero reports whether the filter has no constraints.
func (f Filter) IsZero() bool {
	return len(f.Paths) == 0 && len(f.Folders) == 0
}

// Matcher is a compiled Filter.
type Matcher struct {
	paths   map[string]struct{}
	folders *radix.Tree
}

// Compile builds a Matcher. Folder entries match every path below them.
func (f Filter) Compile() *Matcher {
	if f.IsZero() {
		return nil
	}
	m := &Matcher{}
	if len(f.Paths) > 0 {
		m.paths = make(map[string]struct{}, len(f.Paths))
		for _, p := range f.Paths {
			m.paths[p] = struct{}{}
		}
	}
	if len(f.Folders) > 0 {
		m.folders = radix.New()
		for _, dir := range f.Folders {
			dir = strings.Trim(dir, "/")
			if dir == "" {
				m.folders.Insert("", struct{}{})
				continue
			}
			m.folders.Insert(dir+"/", struct{}{})
		}
	}
	return m
}

// Match reports whether path passes. A nil Matcher matches everything.
func (m *Matcher) Match(path string) bool {
	if m == nil {
		return true
	}
	if m.paths != nil {
		if _, ok := m.paths[path]; !ok {
			return false
		}
	}
	if m.folders != nil {
		if _, _, ok := m.folders.LongestPrefix(path); !ok {
			return false
		}
	}
	return true
}
