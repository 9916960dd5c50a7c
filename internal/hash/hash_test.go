package hash

import (
	stdcrc "hash/crc32"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32_IEEE(t *testing.T) {
	// Standard check value for "123456789".
	assert.Equal(t, uint32(0xCBF43926), CRC32([]byte("123456789")))
	assert.Equal(t, uint32(0), CRC32(nil))

	data := []byte(strings.Repeat("segment payload ", 1000))
	assert.Equal(t, stdcrc.ChecksumIEEE(data), CRC32(data))
}

func TestCRC32_SingleByteFlip(t *testing.T) {
	data := []byte("dims rows dtype model payload")
	want := CRC32(data)
	for i := range data {
		flipped := append([]byte(nil), data...)
		flipped[i] ^= 0x01
		assert.NotEqual(t, want, CRC32(flipped), "byte %d", i)
	}
}

func TestContent(t *testing.T) {
	h := Content("hello")
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)
	assert.NotEqual(t, h, Content("hello "))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  Hello   World \n", "hello world"},
		{"A\tB\r\nC", "a b c"},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestChunkID(t *testing.T) {
	a := ChunkID("The quick  brown fox\n")
	b := ChunkID("the QUICK brown\tfox")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, ChunkID("the quick brown dog"))
}
