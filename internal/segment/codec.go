package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/semindex/internal/errs"
	"github.com/hupe1980/semindex/internal/f16"
	"github.com/hupe1980/semindex/internal/hash"
)

// DType is the storage precision of vector components.
type DType uint8

const (
	// DTypeF32 stores IEEE-754 binary32 components.
	DTypeF32 DType = 0
	// DTypeF16 stores IEEE-754 binary16 components.
	DTypeF16 DType = 1
)

// String returns "f32" or "f16".
func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Size returns the byte width of one component.
func (d DType) Size() int {
	if d == DTypeF16 {
		return 2
	}
	return 4
}

// Valid reports whether d is a known dtype.
func (d DType) Valid() bool {
	return d == DTypeF32 || d == DTypeF16
}

// ParseDType parses "f32" or "f16".
func ParseDType(s string) (DType, error) {
	switch s {
	case "f32":
		return DTypeF32, nil
	case "f16":
		return DTypeF16, nil
	default:
		return 0, fmt.Errorf("%w: unknown dtype %q", errs.ErrInvalidArgument, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown dtype %d", errs.ErrInvalidArgument, uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Vectors is a row-major scalar buffer of a known dtype.
type Vectors interface {
	DType() DType
	Len() int
	appendLE(dst []byte) []byte
}

// Float32s is an f32 vector buffer.
type Float32s []float32

func (Float32s) DType() DType { return DTypeF32 }
func (v Float32s) Len() int   { return len(v) }
func (v Float32s) appendLE(dst []byte) []byte {
	for _, x := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(x))
	}
	return dst
}

// Float16s is an f16 vector buffer.
type Float16s []f16.Bits

func (Float16s) DType() DType { return DTypeF16 }
func (v Float16s) Len() int   { return len(v) }
func (v Float16s) appendLE(dst []byte) []byte {
	return f16.AppendLE(dst, v)
}

// ToDType converts float32 vectors to a buffer of the requested dtype.
func ToDType(v []float32, d DType) (Vectors, error) {
	switch d {
	case DTypeF32:
		return Float32s(v), nil
	case DTypeF16:
		out := make(Float16s, len(v))
		f16.Encode(out, v)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown dtype %d", errs.ErrInvalidArgument, uint8(d))
	}
}

// Header is the fixed part of a segment binary.
type Header struct {
	Dims    uint32
	Rows    uint32
	DType   DType
	ModelID string
}

const fixedHeaderSize = 4 + 4 + 1 + 2

// Size returns the encoded header length in bytes.
func (h Header) Size() int {
	return fixedHeaderSize + len(h.ModelID)
}

// PayloadSize returns the payload length in bytes.
func (h Header) PayloadSize() int {
	return int(h.Rows) * int(h.Dims) * h.DType.Size()
}

// Encode packs a segment. len(v) must equal h.Rows*h.Dims and v's element type
// must match h.DType.
func Encode(h Header, v Vectors) ([]byte, error) {
	if !h.DType.Valid() {
		return nil, fmt.Errorf("%w: unknown dtype %d", errs.ErrInvalidArgument, uint8(h.DType))
	}
	if v.DType() != h.DType {
		return nil, fmt.Errorf("%w: buffer is %s, header declares %s", errs.ErrTypeMismatch, v.DType(), h.DType)
	}
	if h.Dims == 0 {
		return nil, fmt.Errorf("%w: dims must be positive", errs.ErrInvalidArgument)
	}
	if uint64(v.Len()) != uint64(h.Rows)*uint64(h.Dims) {
		return nil, fmt.Errorf("%w: buffer holds %d scalars, want %d rows x %d dims", errs.ErrInvalidArgument, v.Len(), h.Rows, h.Dims)
	}
	if len(h.ModelID) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: model id longer than %d bytes", errs.ErrInvalidArgument, math.MaxUint16)
	}

	buf := make([]byte, 0, h.Size()+h.PayloadSize()+4)
	buf = binary.LittleEndian.AppendUint32(buf, h.Dims)
	buf = binary.LittleEndian.AppendUint32(buf, h.Rows)
	buf = append(buf, byte(h.DType))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.ModelID)))
	buf = append(buf, h.ModelID...)
	buf = v.appendLE(buf)
	buf = binary.LittleEndian.AppendUint32(buf, hash.CRC32(buf))
	return buf, nil
}

// RowsFor returns n/dims, failing when n is not a whole number of rows.
func RowsFor(n, dims int) (int, error) {
	if dims <= 0 {
		return 0, fmt.Errorf("%w: dims must be positive", errs.ErrInvalidArgument)
	}
	if n%dims != 0 {
		return 0, fmt.Errorf("%w: %d scalars is not a multiple of %d dims", errs.ErrInvalidArgument, n, dims)
	}
	return n / dims, nil
}

// Segment is a decoded segment binary.
type Segment struct {
	Header
	CRC     uint32
	payload []byte
}

// Decode parses and checksums a segment binary. The returned Segment borrows data.
func Decode(data []byte) (*Segment, error) {
	if len(data) < fixedHeaderSize {
		return nil, errs.Integrity("", "truncated header: %d bytes", len(data))
	}

	h := Header{
		Dims:  binary.LittleEndian.Uint32(data[0:]),
		Rows:  binary.LittleEndian.Uint32(data[4:]),
		DType: DType(data[8]),
	}
	modelLen := int(binary.LittleEndian.Uint16(data[9:]))
	if !h.DType.Valid() {
		return nil, errs.Integrity("", "unknown dtype code %d", data[8])
	}
	if len(data) < fixedHeaderSize+modelLen {
		return nil, errs.Integrity("", "truncated model id")
	}
	h.ModelID = string(data[fixedHeaderSize : fixedHeaderSize+modelLen])

	payloadSize := uint64(h.Rows) * uint64(h.Dims) * uint64(h.DType.Size())
	want := uint64(h.Size()) + payloadSize + 4
	if uint64(len(data)) != want {
		return nil, errs.Integrity("", "size %d does not match header (want %d)", len(data), want)
	}

	body := data[:len(data)-4]
	stored := binary.LittleEndian.Uint32(data[len(data)-4:])
	if computed := hash.CRC32(body); computed != stored {
		return nil, errs.Integrity("", "crc mismatch: stored %08x, computed %08x", stored, computed)
	}

	return &Segment{Header: h, CRC: stored, payload: body[h.Size():]}, nil
}

// Payload returns the raw row-major payload. It aliases the decoded buffer.
func (s *Segment) Payload() []byte {
	return s.payload
}

// RowBytes returns the raw bytes of row i. It aliases the decoded buffer.
func (s *Segment) RowBytes(i int) []byte {
	w := int(s.Dims) * s.DType.Size()
	return s.payload[i*w : (i+1)*w]
}

// Row decodes row i into dst, growing it if needed, and returns it.
func (s *Segment) Row(i int, dst []float32) []float32 {
	dims := int(s.Dims)
	if cap(dst) < dims {
		dst = make([]float32, dims)
	}
	dst = dst[:dims]

	raw := s.RowBytes(i)
	switch s.DType {
	case DTypeF16:
		f16.DecodeLE(dst, raw)
	default:
		for j := range dst {
			dst[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*j:]))
		}
	}
	return dst
}

// Vectors decodes every row into one owned row-major slice.
func (s *Segment) Vectors() []float32 {
	dims := int(s.Dims)
	out := make([]float32, int(s.Rows)*dims)
	for i := range int(s.Rows) {
		s.Row(i, out[i*dims:(i+1)*dims])
	}
	return out
}
