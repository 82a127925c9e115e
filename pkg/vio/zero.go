package vio

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
)

// ZeroStream is a fixed-length, read-only stream that always reads as
// zero and reports no valid extents — the degenerate case used to fill
// sparse runs and clear ranges (spec §4.6's sparse cluster stream, and
// §8 scenario 5's cleared ranges).
type ZeroStream struct {
	length int64
	cursor int64
}

// NewZeroStream builds a ZeroStream of the given length.
func NewZeroStream(length int64) *ZeroStream {
	return &ZeroStream{length: length}
}

func (z *ZeroStream) Len() int64      { return z.length }
func (z *ZeroStream) CanRead() bool   { return true }
func (z *ZeroStream) CanWrite() bool  { return false }
func (z *ZeroStream) Close() error    { return nil }
func (z *ZeroStream) SetLen(n int64) error {
	if n < 0 {
		return errors.New("vio: negative length")
	}
	z.length = n
	return nil
}

func (z *ZeroStream) Write(p []byte) (int, error) {
	return 0, ErrReadOnly
}

func (z *ZeroStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = z.cursor + offset
	case io.SeekEnd:
		target = z.length + offset
	default:
		return 0, errors.New("vio: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("vio: negative seek position")
	}
	z.cursor = target
	return z.cursor, nil
}

func (z *ZeroStream) Read(p []byte) (int, error) {
	if z.cursor >= z.length {
		return 0, io.EOF
	}
	max := z.length - z.cursor
	if int64(len(p)) > max {
		p = p[:max]
	}
	for i := range p {
		p[i] = 0
	}
	z.cursor += int64(len(p))
	return len(p), nil
}

func (z *ZeroStream) Extents() ([]extent.StreamExtent, bool) {
	return nil, true
}
