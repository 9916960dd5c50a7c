// Package integrity cross-checks an index root: the manifest against segment
// binaries, metadata files and the files actually present on disk.
//
// Verification is read-only. Expected problems are reported, not returned as
// errors.
package integrity

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hupe1980/semindex/internal/ledger"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/storage"
)

// ScannedDirs are the root sub-directories searched for orphans.
var ScannedDirs = []string{"segments", "meta", "wal", "ann", "tmp"}

var systemFiles = map[string]struct{}{
	"tasks.jsonl":        {},
	"ledger.json":        {},
	"manifest.json":      {},
	"manifest.prev.json": {},
	"manifest.tmp":       {},
	"bm25.json":          {},
	"visible.jsonl":      {},
	"ring.jsonl":         {},
}

// IsSystemFile reports whether a file name is bookkeeping that is never an orphan.
func IsSystemFile(name string) bool {
	if _, ok := systemFiles[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}

// Stats summarizes the verified manifest.
type Stats struct {
	Segments int `json:"segments"`
	Rows     int `json:"rows"`
}

// Report is the result of Verify.
type Report struct {
	OK      bool     `json:"ok"`
	Issues  []string `json:"issues"`
	Stats   Stats    `json:"stats"`
	Orphans []string `json:"orphans"`
}

// Verify checks the index managed by manifests.
func Verify(ctx context.Context, store storage.Adapter, manifests *manifest.Store) Report {
	r := Report{Issues: []string{}, Orphans: []string{}}
	issue := func(format string, args ...any) {
		r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
	}

	m, err := manifests.Load(ctx)
	if err != nil {
		issue("manifest unreadable: %v", err)
		return r
	}
	if m == nil {
		issue("no manifest found")
		return r
	}

	r.Issues = append(r.Issues, manifests.Validate(ctx, m)...)
	r.Stats.Segments = len(m.Segments)

	for _, ref := range m.Segments {
		r.Stats.Rows += ref.Rows
		checkSegment(ctx, store, manifests, m.Model, ref, issue)
	}

	r.Orphans = orphans(ctx, store, manifests, m)
	r.OK = len(r.Issues) == 0
	return r
}

func checkSegment(ctx context.Context, store storage.Adapter, manifests *manifest.Store, model manifest.Model, ref manifest.SegmentRef, issue func(string, ...any)) {
	data, err := store.ReadBinary(ctx, manifests.Path(ref.Bin))
	if err != nil {
		issue("segment %s: cannot read %s: %v", ref.ID, ref.Bin, err)
		return
	}

	seg, err := segment.Decode(data)
	if err != nil {
		issue("segment %s: %v", ref.ID, err)
		return
	}
	if seg.CRC != ref.CRC {
		issue("segment %s: crc %08x does not match manifest crc %08x", ref.ID, seg.CRC, ref.CRC)
	}
	if int(seg.Dims) != model.Dims {
		issue("segment %s: dims %d do not match model dims %d", ref.ID, seg.Dims, model.Dims)
	}
	if seg.DType != model.DType {
		issue("segment %s: dtype %s does not match model dtype %s", ref.ID, seg.DType, model.DType)
	}
	if int(seg.Rows) != ref.Rows {
		issue("segment %s: header rows %d do not match manifest rows %d", ref.ID, seg.Rows, ref.Rows)
	}

	text, err := store.ReadText(ctx, manifests.Path(ref.Meta))
	if err != nil {
		issue("segment %s: cannot read %s: %v", ref.ID, ref.Meta, err)
		return
	}
	lines := segment.Lines(text)
	if len(lines) != ref.Rows {
		issue("segment %s: %d metadata lines for %d rows", ref.ID, len(lines), ref.Rows)
	}
	for i, line := range lines {
		if _, err := segment.ParseMeta(line); err != nil {
			issue("segment %s: invalid metadata JSON at line %d: %v", ref.ID, i+1, err)
			break
		}
	}
}

func orphans(ctx context.Context, store storage.Adapter, manifests *manifest.Store, m *manifest.Manifest) []string {
	referenced := map[string]struct{}{
		manifest.FileName:     {},
		manifest.PrevFileName: {},
		ledger.FileName:       {},
	}
	for _, ref := range m.Segments {
		referenced[path.Clean(ref.Bin)] = struct{}{}
		referenced[path.Clean(ref.Meta)] = struct{}{}
	}

	out := []string{}
	for _, dir := range ScannedDirs {
		names, err := store.ListDir(ctx, manifests.Path(dir))
		if err != nil {
			continue
		}
		for _, name := range names {
			rel := path.Join(dir, name)
			if _, ok := referenced[rel]; ok || IsSystemFile(name) {
				continue
			}
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}
