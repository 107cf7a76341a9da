package tablefile

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/x448/float16"
)

func encodeValues(values []float32, dt DType) []byte {
	switch dt {
	case DTypeF16:
		out := make([]byte, 2*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(v).Bits())
		}
		return out
	case DTypeBF16:
		return bfloat16.EncodeFloat32(values)
	default:
		out := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	}
}

func decodeValues(raw []byte, dt DType) []float32 {
	switch dt {
	case DTypeF16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
		return out
	case DTypeBF16:
		return bfloat16.DecodeFloat32(raw)
	default:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		return out
	}
}

// Encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
)

// compress returns the stored payload and the codec actually used; lz4 falls
// back to CodecNone for incompressible input.
func compress(raw []byte, c Codec) ([]byte, Codec, error) {
	switch c {
	case CodecZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, c, err
		}
		return enc.EncodeAll(raw, nil), CodecZstd, nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		var lc lz4.Compressor
		n, err := lc.CompressBlock(raw, dst)
		if err != nil {
			return nil, c, fmt.Errorf("tablefile: lz4: %w", err)
		}
		if n == 0 {
			return raw, CodecNone, nil
		}
		return dst[:n], CodecLZ4, nil
	default:
		return raw, CodecNone, nil
	}
}

func decompress(payload []byte, c Codec, rawSize int) ([]byte, error) {
	switch c {
	case CodecZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		raw, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		return raw, nil
	case CodecLZ4:
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		return raw[:n], nil
	default:
		return payload, nil
	}
}
