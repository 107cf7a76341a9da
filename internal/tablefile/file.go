package tablefile

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/rotary/internal/rope"
)

// Options control how a table is stored.
type Options struct {
	DType DType
	Codec Codec
	// Alpha records the adaptive alpha the table was built for; zero means 1.
	Alpha float64
}

// File is a decoded table together with its header.
type File struct {
	Header Header
	Table  *rope.Table
}

// Write encodes t to w.
func Write(w io.Writer, t *rope.Table, opts Options) (Header, error) {
	raw := encodeValues(t.Data(), opts.DType)
	payload, codec, err := compress(raw, opts.Codec)
	if err != nil {
		return Header{}, err
	}
	alpha := opts.Alpha
	if alpha == 0 {
		alpha = 1
	}
	h := Header{
		Version:     CurrentVersion,
		DType:       opts.DType,
		Codec:       codec,
		Rows:        uint32(t.Len()),
		Dim:         uint32(t.Dim()),
		Base:        t.Base(),
		Alpha:       alpha,
		RawSize:     uint64(len(raw)),
		PayloadSize: uint64(len(payload)),
		Checksum:    xxhash.Sum64(raw),
	}
	if _, err := w.Write(h.marshal()); err != nil {
		return Header{}, err
	}
	if _, err := w.Write(payload); err != nil {
		return Header{}, err
	}
	return h, nil
}

// WriteFile stores t at path, replacing any existing file.
func WriteFile(path string, t *rope.Table, opts Options) (Header, error) {
	f, err := os.Create(path)
	if err != nil {
		return Header{}, err
	}
	h, err := Write(f, t, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return h, err
}

// Read decodes a table from r.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// Open maps path read-only and decodes it. If mmap is unavailable it falls
// back to reading the file. The decoded table does not reference the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < headerSize || size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: file size %d", ErrCorrupt, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		defer func() { _ = unix.Munmap(data) }()
		return parse(data)
	}
	return Read(f)
}

// Peek reads only the header.
func Peek(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return unmarshalHeader(buf)
}

func parse(data []byte) (*File, error) {
	h, err := unmarshalHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[headerSize:]
	if uint64(len(body)) != h.PayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes, header says %d", ErrCorrupt, len(body), h.PayloadSize)
	}
	raw, err := decompress(body, h.Codec, int(h.RawSize))
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) != h.RawSize {
		return nil, fmt.Errorf("%w: decoded %d bytes, header says %d", ErrCorrupt, len(raw), h.RawSize)
	}
	if xxhash.Sum64(raw) != h.Checksum {
		return nil, ErrChecksum
	}
	table, err := rope.NewTable(int(h.Rows), int(h.Dim), h.Base, decodeValues(raw, h.DType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &File{Header: h, Table: table}, nil
}
