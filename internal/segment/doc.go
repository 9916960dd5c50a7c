// Package segment implements the binary codec of an immutable vector segment and
// the JSON-lines codec of its per-row metadata.
//
// # Binary Format
//
// All integers are little-endian:
//
//	dims       u32
//	rows       u32
//	dtype      u8   (0 = f32, 1 = f16)
//	modelIdLen u16
//	modelId    [modelIdLen]byte
//	payload    rows × dims scalars, row-major
//	crc        u32  CRC32-IEEE over every preceding byte
//
// # Ownership
//
// A decoded [Segment] borrows the buffer it was decoded from: [Segment.Payload]
// and [Segment.RowBytes] alias it. [Segment.Row] and [Segment.Vectors] return
// owned float32 copies that stay valid after the buffer is released.
//
// # Metadata
//
// Row i of the binary corresponds to the i-th non-empty line of the metadata
// file. The two files are written together and never reordered independently.
package segment
