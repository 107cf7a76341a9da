// Package tablefile stores finished frequency caches on disk so a static
// encoder can start from a precomputed table.
//
// Layout: a fixed 64-byte little-endian header followed by the payload. The
// checksum covers the payload after dtype encoding and before compression.
package tablefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strings"
)

const (
	Magic          = "RPTB"
	CurrentVersion = uint16(1)
	headerSize     = 64

	// maxDim bounds the row width a header may declare.
	maxDim = 1 << 16
)

var (
	ErrInvalidMagic       = errors.New("tablefile: invalid magic")
	ErrUnsupportedVersion = errors.New("tablefile: unsupported version")
	ErrChecksum           = errors.New("tablefile: checksum mismatch")
	ErrCorrupt            = errors.New("tablefile: corrupt file")
)

type DType uint8

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeBF16
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

func (d DType) size() int {
	if d == DTypeF32 {
		return 4
	}
	return 2
}

func ParseDType(s string) (DType, error) {
	switch strings.ToLower(s) {
	case "", "f32", "float32":
		return DTypeF32, nil
	case "f16", "float16":
		return DTypeF16, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	}
	return 0, fmt.Errorf("tablefile: unknown dtype %q", s)
}

type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
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

func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return 0, fmt.Errorf("tablefile: unknown codec %q", s)
}

// Header describes a stored table.
type Header struct {
	Version     uint16
	DType       DType
	Codec       Codec
	Rows        uint32
	Dim         uint32
	Base        float64
	Alpha       float64
	RawSize     uint64
	PayloadSize uint64
	Checksum    uint64
}

func (h *Header) marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], Magic)
	le := binary.LittleEndian
	le.PutUint16(buf[4:], h.Version)
	buf[6] = byte(h.DType)
	buf[7] = byte(h.Codec)
	le.PutUint32(buf[8:], h.Rows)
	le.PutUint32(buf[12:], h.Dim)
	le.PutUint64(buf[16:], math.Float64bits(h.Base))
	le.PutUint64(buf[24:], math.Float64bits(h.Alpha))
	le.PutUint64(buf[32:], h.RawSize)
	le.PutUint64(buf[40:], h.PayloadSize)
	le.PutUint64(buf[48:], h.Checksum)
	return buf
}

func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("%w: %d byte header", ErrCorrupt, len(buf))
	}
	if string(buf[0:4]) != Magic {
		return Header{}, ErrInvalidMagic
	}
	le := binary.LittleEndian
	h := Header{
		Version:     le.Uint16(buf[4:]),
		DType:       DType(buf[6]),
		Codec:       Codec(buf[7]),
		Rows:        le.Uint32(buf[8:]),
		Dim:         le.Uint32(buf[12:]),
		Base:        math.Float64frombits(le.Uint64(buf[16:])),
		Alpha:       math.Float64frombits(le.Uint64(buf[24:])),
		RawSize:     le.Uint64(buf[32:]),
		PayloadSize: le.Uint64(buf[40:]),
		Checksum:    le.Uint64(buf[48:]),
	}
	if h.Version != CurrentVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.DType > DTypeBF16 || h.Codec > CodecLZ4 {
		return Header{}, fmt.Errorf("%w: %s/%s", ErrCorrupt, h.DType, h.Codec)
	}
	if h.Dim == 0 || h.Dim%2 != 0 || h.Dim > maxDim {
		return Header{}, fmt.Errorf("%w: row width %d", ErrCorrupt, h.Dim)
	}
	hi, values := bits.Mul64(uint64(h.Rows), uint64(h.Dim))
	hi2, raw := bits.Mul64(values, uint64(h.DType.size()))
	if hi != 0 || hi2 != 0 || raw > math.MaxInt {
		return Header{}, fmt.Errorf("%w: %dx%d %s table is too large", ErrCorrupt, h.Rows, h.Dim, h.DType)
	}
	if h.RawSize != raw {
		return Header{}, fmt.Errorf("%w: raw size %d for %dx%d %s", ErrCorrupt, h.RawSize, h.Rows, h.Dim, h.DType)
	}
	if limit := maxRawSize(h.PayloadSize, h.Codec); h.RawSize > limit {
		return Header{}, fmt.Errorf("%w: %s payload of %d bytes cannot expand to %d", ErrCorrupt, h.Codec, h.PayloadSize, h.RawSize)
	}
	return h, nil
}

// maxRawSize is the largest decoded size a payload of n bytes can produce.
// An lz4 block expands at most 255:1; a zstd RLE block stores 128 KiB in a
// handful of bytes.
func maxRawSize(n uint64, c Codec) uint64 {
	var ratio uint64
	switch c {
	case CodecLZ4:
		ratio = 255
	case CodecZstd:
		ratio = 1 << 15
	default:
		return n
	}
	if n > math.MaxUint64/ratio {
		return math.MaxUint64
	}
	return n * ratio
}
