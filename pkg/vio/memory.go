package vio

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
)

// MemoryStream is a simple, fully in-memory SparseStream, used as the base
// stream in tests and for small volumes. It tracks no sparseness of its
// own (Extents reports the whole stream as one extent, like a dense file).
type MemoryStream struct {
	data     []byte
	cursor   int64
	readOnly bool
}

// NewMemoryStream creates an empty, read-write in-memory stream.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{}
}

// NewMemoryStreamFromBytes wraps an existing buffer (copied).
func NewMemoryStreamFromBytes(b []byte) *MemoryStream {
	data := make([]byte, len(b))
	copy(data, b)
	return &MemoryStream{data: data}
}

func (m *MemoryStream) Len() int64     { return int64(len(m.data)) }
func (m *MemoryStream) CanRead() bool  { return true }
func (m *MemoryStream) CanWrite() bool { return !m.readOnly }
func (m *MemoryStream) Close() error   { return nil }

func (m *MemoryStream) SetLen(n int64) error {
	if n < 0 {
		return errors.New("vio: negative length")
	}
	if n <= int64(len(m.data)) {
		m.data = m.data[:n]
		return nil
	}
	grown := make([]byte, n)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *MemoryStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = m.cursor + offset
	case io.SeekEnd:
		target = int64(len(m.data)) + offset
	default:
		return 0, errors.New("vio: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("vio: negative seek position")
	}
	m.cursor = target
	return m.cursor, nil
}

func (m *MemoryStream) Read(p []byte) (int, error) {
	if m.cursor >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.cursor:])
	m.cursor += int64(n)
	return n, nil
}

func (m *MemoryStream) Write(p []byte) (int, error) {
	if m.readOnly {
		return 0, ErrReadOnly
	}
	end := m.cursor + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	n := copy(m.data[m.cursor:end], p)
	m.cursor += int64(n)
	return n, nil
}

func (m *MemoryStream) Extents() ([]extent.StreamExtent, bool) {
	return wholeStreamExtents(int64(len(m.data)))
}

// Bytes returns the stream's current backing buffer directly (no copy),
// used by resident-attribute round-tripping where the whole value is
// small enough to live in an MFT record anyway.
func (m *MemoryStream) Bytes() []byte { return m.data }
