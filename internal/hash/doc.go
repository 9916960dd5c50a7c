// Package hash provides the checksum and content digests used by the index.
//
// # CRC32 (IEEE)
//
// Segment trailers and manifest entries carry a CRC32 over the IEEE polynomial
// (reflected 0xEDB88320). The klauspost/crc32 implementation is used for its
// SIMD paths; results are bit-identical to hash/crc32.ChecksumIEEE.
//
//	sum := hash.CRC32(data)
//
// # Content digests
//
// Documents are identified by "sha256:<hex>" digests of their text, chunks by
// a digest of their normalized text:
//
//	hash.Content(text)  // change and rename detection
//	hash.ChunkID(text)  // lower-cased, whitespace-collapsed, trimmed
package hash
