package vio

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
)

// ConcatStream presents a sequence of streams as one logical stream. It
// grounds spec §4.6: "a file's logical stream is the concatenation of all
// its extents for a given (type, name) pair" — each non-resident attribute
// extent record becomes one segment here.
type ConcatStream struct {
	segments []SparseStream
	offsets  []int64 // offsets[i] = start of segments[i] in the logical stream
	length   int64
	cursor   int64
}

// NewConcatStream concatenates segments in order.
func NewConcatStream(segments ...SparseStream) *ConcatStream {
	c := &ConcatStream{segments: segments}
	c.offsets = make([]int64, len(segments))
	var total int64
	for i, s := range segments {
		c.offsets[i] = total
		total += s.Len()
	}
	c.length = total
	return c
}

func (c *ConcatStream) Len() int64 { return c.length }

func (c *ConcatStream) CanRead() bool {
	for _, s := range c.segments {
		if !s.CanRead() {
			return false
		}
	}
	return true
}

func (c *ConcatStream) CanWrite() bool {
	for _, s := range c.segments {
		if !s.CanWrite() {
			return false
		}
	}
	return true
}

func (c *ConcatStream) Close() error { return nil }

func (c *ConcatStream) SetLen(n int64) error {
	return errors.New("vio: concatstream length is fixed by its segments")
}

func (c *ConcatStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = c.cursor + offset
	case io.SeekEnd:
		target = c.length + offset
	default:
		return 0, errors.New("vio: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("vio: negative seek position")
	}
	c.cursor = target
	return c.cursor, nil
}

// segmentFor returns the index of the segment containing the logical
// position pos, and pos's offset within that segment.
func (c *ConcatStream) segmentFor(pos int64) (int, int64) {
	i := sort.Search(len(c.offsets), func(i int) bool {
		return c.offsets[i] > pos
	}) - 1
	if i < 0 {
		i = 0
	}
	return i, pos - c.offsets[i]
}

func (c *ConcatStream) Read(p []byte) (int, error) {
	if c.cursor >= c.length {
		return 0, io.EOF
	}
	if len(c.segments) == 0 {
		return 0, io.EOF
	}
	idx, within := c.segmentFor(c.cursor)
	seg := c.segments[idx]

	max := seg.Len() - within
	if int64(len(p)) > max {
		p = p[:max]
	}
	if _, err := seg.Seek(within, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := seg.Read(p)
	c.cursor += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (c *ConcatStream) Write(p []byte) (int, error) {
	if c.cursor >= c.length {
		return 0, errors.New("vio: write past end of concatstream")
	}
	idx, within := c.segmentFor(c.cursor)
	seg := c.segments[idx]

	max := seg.Len() - within
	if int64(len(p)) > max {
		p = p[:max]
	}
	if _, err := seg.Seek(within, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := seg.Write(p)
	c.cursor += int64(n)
	return n, err
}

func (c *ConcatStream) Extents() ([]extent.StreamExtent, bool) {
	var all []extent.StreamExtent
	for i, s := range c.segments {
		segExtents, ok := s.Extents()
		if !ok {
			return wholeStreamExtents(c.length)
		}
		for _, e := range segExtents {
			all = append(all, extent.StreamExtent{Offset: e.Offset + c.offsets[i], Length: e.Length})
		}
	}
	return extent.Normalize(all), true
}
