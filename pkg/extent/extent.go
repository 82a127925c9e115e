// Package extent implements set algebra over half-open byte ranges.
//
// A StreamExtent describes a region of a stream that actually holds data;
// everything outside the extents of a stream reads as zero. The operations
// here (Union, Intersect, Subtract, EnumerateBlocks) are the total functions
// every higher layer of corefs builds on: the snapshot overlay and the
// sparse and compressed cluster streams all reduce to extent lists under
// the hood.
package extent

import (
	"fmt"
	"sort"
)

// StreamExtent is a half-open range [Offset, Offset+Length).
type StreamExtent struct {
	Offset int64
	Length int64
}

// End returns the exclusive end of the extent.
func (e StreamExtent) End() int64 {
	return e.Offset + e.Length
}

func validate(e StreamExtent) error {
	if e.Length <= 0 {
		return fmt.Errorf("extent: zero or negative length extent %+v", e)
	}
	if e.Offset < 0 {
		return fmt.Errorf("extent: negative offset extent %+v", e)
	}
	return nil
}

// New constructs a StreamExtent, rejecting zero-length or negative ranges.
func New(offset, length int64) (StreamExtent, error) {
	e := StreamExtent{Offset: offset, Length: length}
	if err := validate(e); err != nil {
		return StreamExtent{}, err
	}
	return e, nil
}

// normalize sorts a list of extents by offset and merges overlapping or
// adjacent ranges. It tolerates overlapping input; callers never need to
// pre-sort.
func normalize(list []StreamExtent) []StreamExtent {
	if len(list) == 0 {
		return nil
	}

	sorted := make([]StreamExtent, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	out := make([]StreamExtent, 0, len(sorted))
	cur := sorted[0]
	for _, e := range sorted[1:] {
		if e.Offset <= cur.End() {
			if e.End() > cur.End() {
				cur.Length = e.End() - cur.Offset
			}
			continue
		}
		out = append(out, cur)
		cur = e
	}
	out = append(out, cur)

	return out
}

// Normalize is the exported form of normalize, for callers that receive
// extents from an untrusted source (e.g. a sector stream's Extents()).
func Normalize(list []StreamExtent) []StreamExtent {
	return normalize(list)
}

// Union merges two extent lists, producing a normalized, non-overlapping,
// non-adjacent-mergeable result. Union(A, nil) == Normalize(A).
func Union(a, b []StreamExtent) []StreamExtent {
	combined := make([]StreamExtent, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return normalize(combined)
}

// Intersect returns the ranges present in both a and b.
func Intersect(a, b []StreamExtent) []StreamExtent {
	na := normalize(a)
	nb := normalize(b)

	var out []StreamExtent
	i, j := 0, 0
	for i < len(na) && j < len(nb) {
		start := max64(na[i].Offset, nb[j].Offset)
		end := min64(na[i].End(), nb[j].End())
		if start < end {
			out = append(out, StreamExtent{Offset: start, Length: end - start})
		}
		if na[i].End() < nb[j].End() {
			i++
		} else {
			j++
		}
	}
	return out
}

// Subtract removes every range in b from a.
func Subtract(a, b []StreamExtent) []StreamExtent {
	na := normalize(a)
	nb := normalize(b)

	var out []StreamExtent
	j := 0
	for _, e := range na {
		cur := e.Offset
		end := e.End()
		for cur < end {
			// advance j until nb[j] could overlap [cur, end)
			for j < len(nb) && nb[j].End() <= cur {
				j++
			}
			if j >= len(nb) || nb[j].Offset >= end {
				out = append(out, StreamExtent{Offset: cur, Length: end - cur})
				break
			}
			if nb[j].Offset > cur {
				out = append(out, StreamExtent{Offset: cur, Length: nb[j].Offset - cur})
			}
			if nb[j].End() > cur {
				cur = nb[j].End()
			}
		}
	}
	return out
}

// Block describes a run of fully-or-partially covered fixed-size blocks.
type Block struct {
	Index int64
	Count int64
}

// EnumerateBlocks maps an extent list onto block-aligned runs of size
// blockSize. Two extents that land inside the same block collapse into a
// single block entry.
func EnumerateBlocks(list []StreamExtent, blockSize int64) ([]Block, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("extent: block size must be positive, got %d", blockSize)
	}

	n := normalize(list)
	var out []Block
	for _, e := range n {
		first := e.Offset / blockSize
		last := (e.End() - 1) / blockSize
		if len(out) > 0 && out[len(out)-1].Index+out[len(out)-1].Count >= first {
			// merges with (or touches) the previous run
			end := last + 1
			prevEnd := out[len(out)-1].Index + out[len(out)-1].Count
			if end > prevEnd {
				out[len(out)-1].Count = end - out[len(out)-1].Index
			}
			continue
		}
		out = append(out, Block{Index: first, Count: last - first + 1})
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
