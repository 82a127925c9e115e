package vio

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
)

// SubStream is a window [offset, offset+length) onto a base stream. Reads
// and writes are translated into base-stream coordinates. Seeking is not
// clamped: any non-negative position is accepted, reads at or past the
// window's end return io.EOF, and writes past it fail.
type SubStream struct {
	base   SparseStream
	offset int64
	length int64
	cursor int64
}

// NewSubStream creates a view of base spanning length bytes starting at
// offset. offset+length must not exceed base.Len().
func NewSubStream(base SparseStream, offset, length int64) (*SubStream, error) {
	if offset < 0 || length < 0 {
		return nil, errors.Errorf("vio: substream bounds must be non-negative (offset=%d length=%d)", offset, length)
	}
	if offset+length > base.Len() {
		return nil, errors.Errorf("vio: substream [%d,%d) exceeds base length %d", offset, offset+length, base.Len())
	}
	return &SubStream{base: base, offset: offset, length: length}, nil
}

func (s *SubStream) Len() int64 { return s.length }

func (s *SubStream) CanRead() bool  { return s.base.CanRead() }
func (s *SubStream) CanWrite() bool { return s.base.CanWrite() }

func (s *SubStream) SetLen(n int64) error {
	return errors.New("vio: substream length is fixed by its parent window")
}

func (s *SubStream) Close() error { return nil }

func (s *SubStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.cursor + offset
	case io.SeekEnd:
		target = s.length + offset
	default:
		return 0, errors.New("vio: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("vio: negative seek position")
	}
	s.cursor = target
	return s.cursor, nil
}

func (s *SubStream) Read(p []byte) (int, error) {
	if s.cursor >= s.length {
		return 0, io.EOF
	}
	max := s.length - s.cursor
	if int64(len(p)) > max {
		p = p[:max]
	}
	if _, err := s.base.Seek(s.offset+s.cursor, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := s.base.Read(p)
	s.cursor += int64(n)
	return n, err
}

func (s *SubStream) Write(p []byte) (int, error) {
	if !s.CanWrite() {
		return 0, ErrReadOnly
	}
	if s.cursor+int64(len(p)) > s.length {
		return 0, errors.Errorf("vio: write of %d bytes at %d exceeds substream length %d", len(p), s.cursor, s.length)
	}
	if _, err := s.base.Seek(s.offset+s.cursor, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := s.base.Write(p)
	s.cursor += int64(n)
	return n, err
}

func (s *SubStream) Extents() ([]extent.StreamExtent, bool) {
	base, ok := s.base.Extents()
	if !ok {
		return wholeStreamExtents(s.length)
	}
	window := []extent.StreamExtent{{Offset: s.offset, Length: s.length}}
	clipped := extent.Intersect(base, window)
	out := make([]extent.StreamExtent, len(clipped))
	for i, e := range clipped {
		out[i] = extent.StreamExtent{Offset: e.Offset - s.offset, Length: e.Length}
	}
	return out, true
}
