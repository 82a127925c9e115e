package lznt1

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, src []byte) []byte {
	t.Helper()
	compressed, err := Compress(src)
	require.NoError(t, err)

	dst := make([]byte, len(src))
	n, err := Decompress(dst, compressed)
	require.NoError(t, err)
	require.Equal(t, len(src), n)
	return dst
}

func TestRoundTripRepetitiveBlock(t *testing.T) {
	src := bytes.Repeat([]byte("ABCDEFGH"), BlockSize/8)
	got := roundTrip(t, src)
	assert.Equal(t, src, got)
}

func TestRoundTripRandomLikeBlock(t *testing.T) {
	src := make([]byte, BlockSize)
	x := uint32(12345)
	for i := range src {
		x = x*1664525 + 1013904223
		src[i] = byte(x >> 24)
	}
	got := roundTrip(t, src)
	assert.Equal(t, src, got)
}

func TestRoundTripAllZeroBlock(t *testing.T) {
	src := make([]byte, BlockSize)
	got := roundTrip(t, src)
	assert.Equal(t, src, got)
}

func TestRoundTripMultipleBlocks(t *testing.T) {
	var src []byte
	src = append(src, bytes.Repeat([]byte{0x41}, BlockSize)...)
	src = append(src, make([]byte, BlockSize)...)
	tail := make([]byte, BlockSize)
	for i := range tail {
		tail[i] = byte(i % 251)
	}
	src = append(src, tail...)

	got := roundTrip(t, src)
	assert.Equal(t, src, got)
}

func TestRoundTripSingleByteRuns(t *testing.T) {
	src := make([]byte, BlockSize)
	for i := range src {
		src[i] = byte(i % 3)
	}
	got := roundTrip(t, src)
	assert.Equal(t, src, got)
}

func TestCompressBlockReportsAllZeros(t *testing.T) {
	dst := make([]byte, BlockSize+2)
	result, n := CompressBlock(dst, make([]byte, BlockSize))
	assert.Equal(t, AllZeros, result)
	assert.Equal(t, 0, n)
}

func TestCompressBlockReportsIncompressible(t *testing.T) {
	src := make([]byte, BlockSize)
	x := uint32(99)
	for i := range src {
		x = x*1664525 + 1013904223
		src[i] = byte(x >> 24)
	}
	dst := make([]byte, 4)
	result, n := CompressBlock(dst, src)
	assert.Equal(t, Incompressible, result)
	assert.Equal(t, 0, n)
}

func TestCompressBlockRepetitiveFitsSmallerThanRaw(t *testing.T) {
	src := bytes.Repeat([]byte{0x7E}, BlockSize)
	dst := make([]byte, BlockSize+2)
	result, n := CompressBlock(dst, src)
	require.Equal(t, Compressed, result)
	assert.Less(t, n, BlockSize)
}

func TestDecompressStopsCleanlyOnShortDestination(t *testing.T) {
	src := bytes.Repeat([]byte("hello world "), BlockSize/12+1)[:BlockSize]
	compressed, err := Compress(src)
	require.NoError(t, err)

	dst := make([]byte, BlockSize/2)
	n, err := Decompress(dst, compressed)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDecompressBlockTerminatorHeader(t *testing.T) {
	n, consumed, err := DecompressBlock(make([]byte, BlockSize), []byte{0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, consumed)
}

func TestCompressRejectsNonMultipleOfBlockSize(t *testing.T) {
	_, err := Compress(make([]byte, BlockSize+1))
	assert.Error(t, err)
}

func TestSplitBitsMonotonicallyShrinksDisplacementRange(t *testing.T) {
	lb0, db0 := splitBits(1)
	lb1, db1 := splitBits(2048)
	assert.Greater(t, lb1, lb0)
	assert.Less(t, db1, db0)
}
