// Package diskimage adapts VHD, VMDK and QCOW2 container files into
// vio.SparseStream, the sector-stream contract spec §6 calls "collaborating
// disk image formats": each container's own block-mapping table is read
// once at open time, then Read resolves an offset to the backing file
// position (or reports a hole) the same way the teacher's writer-side
// pkg/vhd, pkg/vmdk and pkg/qcow2 build those tables when creating an
// image, just walked in the opposite direction.
package diskimage

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
	"github.com/sectorfs/corefs/pkg/vio"
)

// ErrUnsupportedContainer covers a recognized-but-unhandled container
// feature (e.g. a compressed or differencing disk).
var ErrUnsupportedContainer = errors.New("diskimage: unsupported container feature")

// blockMap resolves a logical byte offset to either a backing-file byte
// offset (ok=true) or a hole (ok=false, reads as zero), in blockSize-sized
// units. Each format's open function builds one from its own on-disk
// table; mappedStream does the common offset arithmetic and Read/Seek
// bookkeeping over it.
type blockMap struct {
	blockSize int64
	capacity  int64
	resolve   func(block int64) (backingOffset int64, ok bool)
}

// mappedStream is a read-only vio.SparseStream over a backing ReaderAt plus
// a blockMap. Every container adapter below is a thin constructor around
// this shared cursor/read logic.
type mappedStream struct {
	backing io.ReaderAt
	m       *blockMap
	cursor  int64
}

func (s *mappedStream) Len() int64     { return s.m.capacity }
func (s *mappedStream) CanRead() bool  { return true }
func (s *mappedStream) CanWrite() bool { return false }
func (s *mappedStream) Close() error   { return nil }

func (s *mappedStream) SetLen(n int64) error {
	return errors.Wrap(vio.ErrReadOnly, "diskimage: container streams are read-only")
}

func (s *mappedStream) Write(p []byte) (int, error) {
	return 0, errors.Wrap(vio.ErrReadOnly, "diskimage: container streams are read-only")
}

func (s *mappedStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.cursor + offset
	case io.SeekEnd:
		target = s.m.capacity + offset
	default:
		return 0, errors.New("diskimage: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("diskimage: negative seek position")
	}
	s.cursor = target
	return s.cursor, nil
}

func (s *mappedStream) Read(p []byte) (int, error) {
	if s.cursor >= s.m.capacity {
		return 0, io.EOF
	}
	if int64(len(p)) > s.m.capacity-s.cursor {
		p = p[:s.m.capacity-s.cursor]
	}

	block := s.cursor / s.m.blockSize
	inBlock := s.cursor % s.m.blockSize
	n := int64(len(p))
	if inBlock+n > s.m.blockSize {
		n = s.m.blockSize - inBlock
	}

	backingOffset, ok := s.m.resolve(block)
	var read int
	var err error
	if !ok {
		for i := range p[:n] {
			p[i] = 0
		}
		read = int(n)
	} else {
		read, err = s.backing.ReadAt(p[:n], backingOffset+inBlock)
		if err != nil && err != io.EOF {
			return read, err
		}
		err = nil
	}
	s.cursor += int64(read)
	return read, err
}

// Extents reports one extent per contiguous run of mapped (non-hole)
// blocks, the sparse-aware counterpart of mapped Read.
func (s *mappedStream) Extents() ([]extent.StreamExtent, bool) {
	var out []extent.StreamExtent
	var cur *extent.StreamExtent
	blocks := (s.m.capacity + s.m.blockSize - 1) / s.m.blockSize
	for b := int64(0); b < blocks; b++ {
		_, ok := s.m.resolve(b)
		start := b * s.m.blockSize
		length := s.m.blockSize
		if start+length > s.m.capacity {
			length = s.m.capacity - start
		}
		if !ok {
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			continue
		}
		if cur != nil && cur.Offset+cur.Length == start {
			cur.Length += length
		} else {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &extent.StreamExtent{Offset: start, Length: length}
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, true
}

var _ vio.SparseStream = (*mappedStream)(nil)
