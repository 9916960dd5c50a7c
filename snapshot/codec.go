package snapshot

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is the compression applied to each exported file.
type Codec uint8

const (
	// CodecNone stores files as is.
	CodecNone Codec = 0
	// CodecZstd compresses with zstd (better ratio, the default).
	CodecZstd Codec = 1
	// CodecLZ4 compresses with LZ4 blocks (faster).
	CodecLZ4 Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec parses "none", "zstd" or "lz4".
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "none":
		return CodecNone, nil
	case "zstd", "":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Codec) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Codec) UnmarshalText(b []byte) error {
	v, err := ParseCodec(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// frameHeaderSize is the codec tag plus the raw length.
const frameHeaderSize = 1 + 8

// encodeFrame compresses data and prepends [codec uint8][raw length uint64].
// When compression does not shrink the data the frame falls back to CodecNone.
func encodeFrame(data []byte, c Codec) ([]byte, error) {
	var body []byte
	switch c {
	case CodecNone:
	case CodecZstd:
		enc := getZstdEncoder()
		body = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		body = buf[:n]
	default:
		return nil, fmt.Errorf("unknown codec %d", uint8(c))
	}

	if len(body) == 0 || len(body) >= len(data) {
		c, body = CodecNone, data
	}

	out := make([]byte, frameHeaderSize+len(body))
	out[0] = byte(c)
	binary.LittleEndian.PutUint64(out[1:], uint64(len(data)))
	copy(out[frameHeaderSize:], body)
	return out, nil
}

// decodeFrame reverses encodeFrame.
func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	c := Codec(frame[0])
	size := binary.LittleEndian.Uint64(frame[1:])
	body := frame[frameHeaderSize:]

	switch c {
	case CodecNone:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("stored frame has %d bytes, header says %d", len(body), size)
		}
		return body, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, err
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd frame decoded to %d bytes, header says %d", len(out), size)
		}
		return out, nil
	case CodecLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if uint64(n) != size {
			return nil, fmt.Errorf("lz4 frame decoded to %d bytes, header says %d", n, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec %d", uint8(c))
	}
}

func frameSize(frame []byte) uint64 {
	return binary.LittleEndian.Uint64(frame[1:])
}
