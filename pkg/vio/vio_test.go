package vio

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReadsOverlayThenBase(t *testing.T) {
	base := NewMemoryStreamFromBytes([]byte("0123456789"))
	snap := NewSnapshotStream(base)

	require.NoError(t, snap.Snapshot())
	_, err := snap.Seek(2, io.SeekStart)
	require.NoError(t, err)
	_, err = snap.Write([]byte("XY"))
	require.NoError(t, err)

	buf := make([]byte, 10)
	_, err = snap.Seek(0, io.SeekStart)
	require.NoError(t, err)
	n, err := io.ReadFull(snap, buf)
	require.NoError(t, err)
	assert.Equal(t, "01XY456789", string(buf[:n]))

	// base untouched until Forget
	baseBuf := make([]byte, 10)
	_, _ = base.Seek(0, io.SeekStart)
	_, _ = io.ReadFull(base, baseBuf)
	assert.Equal(t, "0123456789", string(baseBuf))
}

func TestSnapshotForgetFlushesToBase(t *testing.T) {
	base := NewMemoryStreamFromBytes([]byte("0123456789"))
	snap := NewSnapshotStream(base)

	require.NoError(t, snap.Snapshot())
	_, _ = snap.Seek(0, io.SeekStart)
	_, err := snap.Write([]byte("AB"))
	require.NoError(t, err)
	require.NoError(t, snap.Forget())

	baseBuf := make([]byte, 10)
	_, _ = base.Seek(0, io.SeekStart)
	_, _ = io.ReadFull(base, baseBuf)
	assert.Equal(t, "AB23456789", string(baseBuf))
	assert.False(t, snap.InSnapshot())
}

type countingProgress struct{ n int64 }

func (p *countingProgress) Increment(n int64) { p.n += n }

func TestSnapshotForgetReportsProgressPerChunk(t *testing.T) {
	base := NewMemoryStreamFromBytes(make([]byte, overlayChunkSize*3))
	snap := NewSnapshotStream(base)

	require.NoError(t, snap.Snapshot())
	// touch three distinct chunks so Forget has three chunks to flush
	for _, off := range []int64{0, overlayChunkSize, overlayChunkSize * 2} {
		_, err := snap.Seek(off, io.SeekStart)
		require.NoError(t, err)
		_, err = snap.Write([]byte("x"))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), snap.OverlayChunkCount())

	progress := &countingProgress{}
	snap.SetProgress(progress)
	require.NoError(t, snap.Forget())

	assert.Equal(t, int64(3), progress.n)
	assert.Same(t, base, snap.Base())
}

func TestSnapshotRevertDiscardsOverlay(t *testing.T) {
	base := NewMemoryStreamFromBytes([]byte("0123456789"))
	snap := NewSnapshotStream(base)

	require.NoError(t, snap.Snapshot())
	_, _ = snap.Seek(0, io.SeekStart)
	_, _ = snap.Write([]byte("ZZ"))
	require.NoError(t, snap.Revert())

	buf := make([]byte, 10)
	_, _ = snap.Seek(0, io.SeekStart)
	_, _ = io.ReadFull(snap, buf)
	assert.Equal(t, "0123456789", string(buf))
}

func TestSnapshotOverlayCanExceedBaseLength(t *testing.T) {
	base := NewMemoryStreamFromBytes([]byte("01234"))
	snap := NewSnapshotStream(base)

	require.NoError(t, snap.Snapshot())
	_, _ = snap.Seek(5, io.SeekStart)
	_, err := snap.Write([]byte("56789"))
	require.NoError(t, err)

	assert.Equal(t, int64(10), snap.Len())
}

func TestFreezeRejectsWrites(t *testing.T) {
	base := NewMemoryStream()
	require.NoError(t, base.SetLen(4))
	snap := NewSnapshotStream(base)

	require.NoError(t, snap.Freeze())
	_, err := snap.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrFrozen)

	// seeking remains permitted while frozen
	_, err = snap.Seek(0, io.SeekStart)
	assert.NoError(t, err)

	require.NoError(t, snap.Thaw())
	_, err = snap.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestConcatStreamReadsAcrossSegments(t *testing.T) {
	a := NewMemoryStreamFromBytes([]byte("abc"))
	b := NewMemoryStreamFromBytes([]byte("defg"))
	c := NewConcatStream(a, b)

	assert.Equal(t, int64(7), c.Len())
	buf := make([]byte, 7)
	n, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", string(buf[:n]))
}

func TestSubStreamClampsWindow(t *testing.T) {
	base := NewMemoryStreamFromBytes([]byte("0123456789"))
	sub, err := NewSubStream(base, 3, 4)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := io.ReadFull(sub, buf)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))
}

func TestBufferedStreamCoalescesWrites(t *testing.T) {
	base := NewMemoryStream()
	require.NoError(t, base.SetLen(10))
	buffered := NewBufferedStream(base, 1024)

	_, err := buffered.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, buffered.Flush())

	baseBuf := make([]byte, 5)
	_, _ = base.Seek(0, io.SeekStart)
	_, _ = io.ReadFull(base, baseBuf)
	assert.Equal(t, "hello", string(baseBuf))
}

func TestZeroStreamReadsAllZero(t *testing.T) {
	z := NewZeroStream(8)
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = 0xFF
	}
	n, err := io.ReadFull(z, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}
