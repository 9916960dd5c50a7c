package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/klauspost/crc32"
)

const contentPrefix = "sha256:"

// CRC32 computes the CRC32-IEEE checksum of data.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Content returns the "sha256:<hex>" digest of a document's text.
func Content(text string) string {
	sum := sha256.Sum256([]byte(text))
	return contentPrefix + hex.EncodeToString(sum[:])
}

// ChunkID returns the deterministic id of a chunk. Chunks whose text only
// differs in case or whitespace share an id.
func ChunkID(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:16])
}

// Normalize lower-cases text, collapses whitespace runs to one space and trims.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
