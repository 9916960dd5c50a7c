// Package snapshot copies a verified index root to a remote.Store and back.
//
// An exported snapshot lives under a prefix of the remote store:
//
//	<prefix>/files/<root-relative path>   one framed, compressed file each
//	<prefix>/snapshot.json                 written last
//
// A snapshot without snapshot.json is incomplete and cannot be imported.
// Each file is framed with a one-byte codec tag and its raw length, and
// snapshot.json records the raw size and CRC32 of every file.
//
// Import stages downloads under tmp/, verifies sizes, CRCs and segment
// checksums, publishes the files and saves the manifest last, so a crashed
// import never leaves a manifest that references missing files.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/hash"
	"github.com/hupe1980/semindex/internal/integrity"
	"github.com/hupe1980/semindex/internal/ledger"
	"github.com/hupe1980/semindex/internal/manifest"
	"github.com/hupe1980/semindex/internal/resource"
	"github.com/hupe1980/semindex/internal/segment"
	"github.com/hupe1980/semindex/internal/writer"
	"github.com/hupe1980/semindex/lexical/bm25"
	"github.com/hupe1980/semindex/remote"
	"github.com/hupe1980/semindex/storage"
)

const (
	// Version is the snapshot.json format version.
	Version = 1

	// FileName is the name of the snapshot descriptor under the prefix.
	FileName = "snapshot.json"

	// FilesDir holds the exported files under the prefix.
	FilesDir = "files"

	// DefaultPrefix is used when no prefix is configured.
	DefaultPrefix = "snapshot"

	// maxFileSize bounds the raw length accepted from a frame header.
	maxFileSize = 1 << 34
)

// File describes one exported file.
type File struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Stored int64  `json:"stored"`
	CRC    uint32 `json:"crc"`
	Codec  Codec  `json:"codec"`
}

// Manifest is the content of snapshot.json.
type Manifest struct {
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Model     manifest.Model `json:"model"`
	Segments  int            `json:"segments"`
	Rows      int            `json:"rows"`
	Files     []File         `json:"files"`
}

// Bytes returns the raw and stored totals over all files.
func (m *Manifest) Bytes() (raw, stored int64) {
	for _, f := range m.Files {
		raw += f.Size
		stored += f.Stored
	}
	return raw, stored
}

type options struct {
	prefix      string
	codec       Codec
	concurrency int
	overwrite   bool
	rc          *resource.Controller
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures Export and Import.
type Option func(*options)

// WithPrefix sets the key prefix of the snapshot in the remote store.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = strings.Trim(prefix, "/") }
}

// WithCodec sets the compression of exported files. Import reads the codec
// from each frame.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithConcurrency sets the number of parallel transfers.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithOverwrite lets Import replace an existing index.
func WithOverwrite() Option {
	return func(o *options) { o.overwrite = true }
}

// WithResourceController paces transfers through the IO limiter of rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		prefix:      DefaultPrefix,
		codec:       CodecZstd,
		concurrency: 4,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) key(rel string) string {
	if o.prefix == "" {
		return rel
	}
	return o.prefix + "/" + rel
}

func (o options) reader(ctx context.Context, r io.Reader) io.Reader {
	if o.rc == nil {
		return r
	}
	return resource.NewRateLimitedReader(ctx, r, o.rc)
}

// Export verifies the index at root and uploads every file the manifest
// references, plus the ledger and bm25.json when present. snapshot.json is
// uploaded last. Export refuses to copy an index that fails verification.
//
// Export must not race with writers of the root; an open Index exports
// through Index.Export.
func Export(ctx context.Context, store storage.Adapter, root string, dst remote.Store, opts ...Option) (*Manifest, error) {
	o := applyOptions(opts)
	start := o.now()
	manifests := manifest.NewStore(store, root, o.logger)

	report := integrity.Verify(ctx, store, manifests)
	if !report.OK {
		return nil, errs.Integrity("", "refusing to export: %s", strings.Join(report.Issues, "; "))
	}
	m, err := manifests.Load(ctx)
	if err != nil {
		return nil, err
	}

	// The loaded manifest is exported instead of manifest.json so the file
	// list and the manifest cannot disagree.
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, 2*len(m.Segments)+2)
	for _, ref := range m.Segments {
		paths = append(paths, ref.Bin, ref.Meta)
	}
	for _, name := range []string{ledger.FileName, bm25.FileName} {
		ok, err := store.Exists(ctx, manifests.Path(name))
		if err != nil {
			return nil, errs.IO("exists", manifests.Path(name), err)
		}
		if ok {
			paths = append(paths, name)
		}
	}

	files := make([]File, len(paths)+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	g.Go(func() error {
		f, err := o.upload(gctx, dst, manifest.FileName, manifestData)
		files[len(paths)] = f
		return err
	})
	for i, p := range paths {
		g.Go(func() error {
			data, err := store.ReadBinary(gctx, manifests.Path(p))
			if err != nil {
				return errs.IO("read", manifests.Path(p), err)
			}
			f, err := o.upload(gctx, dst, p, data)
			files[i] = f
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Manifest{
		Version:   Version,
		CreatedAt: o.now().UTC(),
		Model:     m.Model,
		Segments:  len(m.Segments),
		Rows:      m.Stats.Rows,
		Files:     files,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := dst.Put(ctx, o.key(FileName), bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("upload %s: %w", FileName, err)
	}

	raw, stored := snap.Bytes()
	o.logger.InfoContext(ctx, "snapshot exported",
		"prefix", o.prefix,
		"files", len(files),
		"segments", snap.Segments,
		"bytes", raw,
		"stored_bytes", stored,
		"duration", o.now().Sub(start),
	)
	return snap, nil
}

func (o options) upload(ctx context.Context, dst remote.Store, rel string, data []byte) (File, error) {
	frame, err := encodeFrame(data, o.codec)
	if err != nil {
		return File{}, fmt.Errorf("compress %s: %w", rel, err)
	}
	key := o.key(path.Join(FilesDir, rel))
	if err := dst.Put(ctx, key, o.reader(ctx, bytes.NewReader(frame)), int64(len(frame))); err != nil {
		return File{}, fmt.Errorf("upload %s: %w", rel, err)
	}
	return File{
		Path:   rel,
		Size:   int64(len(data)),
		Stored: int64(len(frame)),
		CRC:    hash.CRC32(data),
		Codec:  Codec(frame[0]),
	}, nil
}

// Read fetches and parses snapshot.json.
func Read(ctx context.Context, src remote.Store, opts ...Option) (*Manifest, error) {
	o := applyOptions(opts)
	return o.read(ctx, src)
}

func (o options) read(ctx context.Context, src remote.Store) (*Manifest, error) {
	rc, err := src.Get(ctx, o.key(FileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", o.key(FileName), err)
	}
	defer rc.Close()

	var snap Manifest
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return nil, errs.CorruptRecord(FileName, 0, err)
	}
	if snap.Version != Version {
		return nil, errs.CorruptRecord(FileName, 0, fmt.Errorf("unsupported version %d", snap.Version))
	}
	return &snap, nil
}

// Import restores a snapshot into root. The index must not be open. Unless
// WithOverwrite is given, Import refuses a root that already has a manifest.
func Import(ctx context.Context, src remote.Store, store storage.Adapter, root string, opts ...Option) (*Manifest, error) {
	o := applyOptions(opts)
	start := o.now()

	snap, err := o.read(ctx, src)
	if err != nil {
		return nil, err
	}

	manifests := manifest.NewStore(store, root, o.logger)
	existing, err := manifests.Load(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil && !o.overwrite {
		return nil, fmt.Errorf("%w: %s already holds an index", errs.ErrInvalidArgument, root)
	}

	var mf *File
	for i := range snap.Files {
		if snap.Files[i].Path == manifest.FileName {
			mf = &snap.Files[i]
		}
	}
	if mf == nil {
		return nil, errs.Integrity("", "snapshot has no %s", manifest.FileName)
	}
	data, err := o.download(ctx, src, *mf)
	if err != nil {
		return nil, err
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.CorruptRecord(manifest.FileName, 0, err)
	}
	if issues := manifest.Check(&m); len(issues) > 0 {
		return nil, errs.Integrity("", "snapshot manifest invalid: %s", strings.Join(issues, "; "))
	}

	bins := make(map[string]manifest.SegmentRef, len(m.Segments))
	for _, ref := range m.Segments {
		bins[path.Clean(ref.Bin)] = ref
	}

	tmpDir := manifests.Path(writer.TmpDir)
	if err := store.EnsureDir(ctx, tmpDir); err != nil {
		return nil, errs.IO("ensure_dir", tmpDir, err)
	}

	var files []File
	for _, f := range snap.Files {
		if f.Path != manifest.FileName {
			if err := checkPath(f.Path); err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}

	staged := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, f := range files {
		g.Go(func() error {
			data, err := o.download(gctx, src, f)
			if err != nil {
				return err
			}
			if ref, ok := bins[path.Clean(f.Path)]; ok {
				if err := checkSegment(data, ref, m.Model); err != nil {
					return err
				}
			}
			tmp := path.Join(tmpDir, "import-"+strings.ReplaceAll(f.Path, "/", "_"))
			if err := store.WriteBinaryAtomic(gctx, tmp, data); err != nil {
				return errs.IO("write", tmp, err)
			}
			staged[i] = tmp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, f := range files {
		target := manifests.Path(f.Path)
		if err := store.EnsureDir(ctx, path.Dir(target)); err != nil {
			return nil, errs.IO("ensure_dir", path.Dir(target), err)
		}
		if err := store.RenameAtomic(ctx, staged[i], target); err != nil {
			return nil, errs.IO("rename", staged[i], err)
		}
	}
	if err := manifests.Save(ctx, &m); err != nil {
		return nil, err
	}

	raw, _ := snap.Bytes()
	o.logger.InfoContext(ctx, "snapshot imported",
		"prefix", o.prefix,
		"files", len(snap.Files),
		"segments", len(m.Segments),
		"bytes", raw,
		"duration", o.now().Sub(start),
	)
	return snap, nil
}

func (o options) download(ctx context.Context, src remote.Store, f File) ([]byte, error) {
	rc, err := src.Get(ctx, o.key(path.Join(FilesDir, f.Path)))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.Path, err)
	}
	defer rc.Close()

	frame, err := io.ReadAll(o.reader(ctx, rc))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.Path, err)
	}
	if len(frame) >= frameHeaderSize && frameSize(frame) > maxFileSize {
		return nil, errs.Integrity("", "%s: frame claims %d bytes", f.Path, frameSize(frame))
	}
	data, err := decodeFrame(frame)
	if err != nil {
		return nil, errs.Integrity("", "%s: %v", f.Path, err)
	}
	if int64(len(data)) != f.Size {
		return nil, errs.Integrity("", "%s: %d bytes, snapshot says %d", f.Path, len(data), f.Size)
	}
	if got := hash.CRC32(data); got != f.CRC {
		return nil, errs.Integrity("", "%s: crc %08x does not match snapshot crc %08x", f.Path, got, f.CRC)
	}
	return data, nil
}

func checkSegment(data []byte, ref manifest.SegmentRef, model manifest.Model) error {
	seg, err := segment.Decode(data)
	if err != nil {
		return errs.Integrity(ref.ID, "%v", err)
	}
	if seg.CRC != ref.CRC {
		return errs.Integrity(ref.ID, "crc %08x does not match manifest crc %08x", seg.CRC, ref.CRC)
	}
	if int(seg.Rows) != ref.Rows {
		return errs.Integrity(ref.ID, "header rows %d do not match manifest rows %d", seg.Rows, ref.Rows)
	}
	if int(seg.Dims) != model.Dims || seg.DType != model.DType {
		return errs.Integrity(ref.ID, "segment space %d/%s does not match model %d/%s", seg.Dims, seg.DType, model.Dims, model.DType)
	}
	return nil
}

func checkPath(p string) error {
	clean := path.Clean(p)
	if clean != p || path.IsAbs(p) || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return fmt.Errorf("%w: unsafe snapshot path %q", errs.ErrInvalidArgument, p)
	}
	return nil
}
