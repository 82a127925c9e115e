// Package bitmap implements the logical bit array used to track index
// allocation for the MFT and for directory-index blocks (spec §4.4):
// $Bitmap and an index's $BITMAP attribute are both just a Bitmap backed
// by a different vio.SparseStream.
package bitmap

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/elog"
	"github.com/sectorfs/corefs/pkg/vio"
)

// growthIncrement is the number of bytes (64 bits) the backing stream is
// extended by at a time.
const growthIncrement = 8

// Bitmap is a logical bit array over a byte-backed stream.
type Bitmap struct {
	stream   vio.SparseStream
	progress elog.Progress
}

// New wraps stream as a Bitmap. The stream's existing length is taken as
// the current bit capacity (length*8 bits).
func New(stream vio.SparseStream) *Bitmap {
	return &Bitmap{stream: stream}
}

// SetProgress attaches a progress reporter, incremented once per bit
// scanned by AllocateFirstAvailable. Used by the MFT's record allocation
// to report its scan of the record bitmap (SPEC_FULL §1.2).
func (b *Bitmap) SetProgress(p elog.Progress) {
	b.progress = p
}

func (b *Bitmap) bitCapacity() int64 {
	return b.stream.Len() * 8
}

func (b *Bitmap) readByte(i int64) (byte, error) {
	buf := make([]byte, 1)
	if _, err := b.stream.Seek(i, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := b.stream.Read(buf)
	if err == io.EOF || n == 0 {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *Bitmap) writeByte(i int64, v byte) error {
	if _, err := b.stream.Seek(i, io.SeekStart); err != nil {
		return err
	}
	_, err := b.stream.Write([]byte{v})
	return err
}

// ensure grows the backing stream, in growthIncrement-byte steps, so that
// bit index is addressable.
func (b *Bitmap) ensure(index int64) error {
	needed := index/8 + 1
	if needed <= b.stream.Len() {
		return nil
	}
	rounded := roundUp(needed, growthIncrement)
	return b.stream.SetLen(rounded)
}

func roundUp(n, multiple int64) int64 {
	if n%multiple == 0 {
		return n
	}
	return (n/multiple + 1) * multiple
}

// IsPresent reports whether bit i is set. Bits beyond the backing stream's
// current length read as absent.
func (b *Bitmap) IsPresent(i int64) (bool, error) {
	if i < 0 {
		return false, errors.New("bitmap: negative index")
	}
	byteOff := i / 8
	if byteOff >= b.stream.Len() {
		return false, nil
	}
	byt, err := b.readByte(byteOff)
	if err != nil {
		return false, err
	}
	return byt&(1<<uint(i%8)) != 0, nil
}

// MarkPresent sets bit i, growing the backing stream if necessary.
func (b *Bitmap) MarkPresent(i int64) error {
	if i < 0 {
		return errors.New("bitmap: negative index")
	}
	if err := b.ensure(i); err != nil {
		return err
	}
	byteOff := i / 8
	byt, err := b.readByte(byteOff)
	if err != nil {
		return err
	}
	byt |= 1 << uint(i%8)
	return b.writeByte(byteOff, byt)
}

// MarkAbsent clears bit i. Clearing a bit beyond the stream's current
// length is a no-op, since it's implicitly absent.
func (b *Bitmap) MarkAbsent(i int64) error {
	if i < 0 {
		return errors.New("bitmap: negative index")
	}
	byteOff := i / 8
	if byteOff >= b.stream.Len() {
		return nil
	}
	byt, err := b.readByte(byteOff)
	if err != nil {
		return err
	}
	byt &^= 1 << uint(i%8)
	return b.writeByte(byteOff, byt)
}

// MarkRange sets n consecutive bits starting at i, growing the stream as
// needed.
func (b *Bitmap) MarkRange(i, n int64) error {
	if i < 0 || n < 0 {
		return errors.New("bitmap: negative index or count")
	}
	for k := int64(0); k < n; k++ {
		if err := b.MarkPresent(i + k); err != nil {
			return err
		}
	}
	return nil
}

// AllocateFirstAvailable scans forward from startHint for the first clear
// bit, wrapping at len*8, and marks it present before returning its index.
// Deallocation never shrinks the backing stream, so capacity only grows;
// callers are responsible for not allocating indices beyond whatever
// maximum their domain imposes (e.g. the MFT's reserved-index range).
func (b *Bitmap) AllocateFirstAvailable(startHint int64) (int64, error) {
	if startHint < 0 {
		return 0, errors.New("bitmap: negative hint")
	}

	capacity := b.bitCapacity()
	if capacity == 0 {
		if err := b.MarkPresent(startHint); err != nil {
			return 0, err
		}
		return startHint, nil
	}

	hint := startHint % capacity
	for offset := int64(0); offset < capacity; offset++ {
		i := (hint + offset) % capacity
		present, err := b.IsPresent(i)
		if err != nil {
			return 0, err
		}
		if b.progress != nil {
			b.progress.Increment(1)
		}
		if !present {
			if err := b.MarkPresent(i); err != nil {
				return 0, err
			}
			return i, nil
		}
	}

	// Every bit within current capacity is taken: grow past the end and
	// allocate just beyond it.
	if err := b.MarkPresent(capacity); err != nil {
		return 0, err
	}
	return capacity, nil
}
