// Package vio composes byte-addressable sector streams: buffered, sub,
// concatenated, zero-filled and copy-on-write snapshot views over the
// §6 sector-stream contract. Every stream built here understands sparse
// extents, the way the teacher's vio package understood host files and
// write-seekers.
package vio

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
)

// SparseStream is the sector-stream contract consumed by the rest of
// corefs (spec §6): a seekable, length-bearing byte pipe that can
// optionally report which of its ranges actually hold stored data.
// Everything outside the reported extents reads as zero.
type SparseStream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Len returns the current length of the stream in bytes.
	Len() int64

	// SetLen grows or truncates the stream. Implementations that cannot
	// truncate (e.g. append-only media) may reject a smaller length.
	SetLen(n int64) error

	CanRead() bool
	CanWrite() bool

	// Extents reports the stream's valid (non-implicit-zero) ranges. The
	// second return value is false when the stream cannot compute this
	// cheaply, in which case callers should assume the whole stream is
	// one extent.
	Extents() ([]extent.StreamExtent, bool)
}

// ErrFrozen is returned by a mutating call on a stream that has been
// advisory-frozen (see SnapshotStream.Freeze).
var ErrFrozen = errors.New("vio: stream is frozen")

// ErrReadOnly is returned by a mutating call on a stream opened read-only.
var ErrReadOnly = errors.New("vio: stream does not support writes")

// wholeStreamExtents is the fallback Extents() implementation for streams
// that don't track sparseness: the entire stream is reported as one extent.
func wholeStreamExtents(length int64) ([]extent.StreamExtent, bool) {
	if length <= 0 {
		return nil, true
	}
	return []extent.StreamExtent{{Offset: 0, Length: length}}, true
}
