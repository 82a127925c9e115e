// Package lznt1 implements the LZNT1 block codec used by NTFS compressed
// attributes (spec §4.3). The block size is fixed at 4096 bytes — NTFS's
// own decompressor is bug-compatible with exactly that value regardless of
// what an attribute's compression-unit exponent declares.
package lznt1

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// BlockSize is the fixed chunk size LZNT1 operates on.
const BlockSize = 4096

// Result classifies the outcome of compressing a single block.
type Result int

const (
	// Compressed means the block was encoded and fits destination.
	Compressed Result = iota
	// Incompressible means the destination was too small to hold either
	// the tagged or the raw encoding of the block.
	Incompressible
	// AllZeros means the source block was entirely zero; callers
	// (typically the attribute runtime) should treat the corresponding
	// compression unit as sparse rather than storing anything.
	AllZeros
)

const (
	flagCompressed = 1 << 15
	sizeMask       = 0x0FFF
)

// splitBits returns the (lengthBits, displacementBits) split of a 16-bit
// match token at the given position within the current 4 KiB block
// (spec §4.3: "the low log2(pos_in_block)+4 bits are length, the rest are
// offset"). The table is computed, not looked up, but is equivalent to one.
func splitBits(posInBlock int) (lengthBits, displacementBits uint) {
	bits := 0
	p := posInBlock
	for p > 0 {
		p >>= 1
		bits++
	}
	lb := bits + 3
	if lb < 4 {
		lb = 4
	}
	if lb > 15 {
		lb = 15
	}
	return uint(lb), uint(16 - lb)
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// matchLength reports how many of the up to max bytes starting at i and j
// in src agree, supporting the overlapping matches LZ77 back-references
// rely on (i < j, and the run starting at i may extend into j's bytes).
func matchLength(src []byte, i, j, max int) int {
	n := 0
	for n < max && j+n < len(src) && src[i+n] == src[j+n] {
		n++
	}
	return n
}

// encodeTagged LZ77-encodes src (len(src) <= BlockSize) into the tagged
// sub-block payload (tag bytes plus symbol bytes, no 2-byte chunk header).
func encodeTagged(src []byte) []byte {
	out := make([]byte, 0, len(src))

	pos := 0
	for pos < len(src) {
		var tag byte
		group := make([]byte, 0, 16)

		for bit := 0; bit < 8 && pos < len(src); bit++ {
			lengthBits, dispBits := splitBits(pos)
			maxLen := (1 << lengthBits) + 2
			if maxLen > len(src)-pos {
				maxLen = len(src) - pos
			}
			maxDisp := 1 << dispBits

			bestLen, bestDisp := 0, 0
			windowStart := pos - maxDisp
			if windowStart < 0 {
				windowStart = 0
			}
			for cand := pos - 1; cand >= windowStart; cand-- {
				l := matchLength(src, cand, pos, maxLen)
				if l > bestLen {
					bestLen = l
					bestDisp = pos - cand
					if bestLen == maxLen {
						break
					}
				}
			}

			if bestLen >= 3 {
				token := uint16(bestDisp-1)<<lengthBits | uint16(bestLen-3)
				var buf [2]byte
				binary.LittleEndian.PutUint16(buf[:], token)
				group = append(group, buf[0], buf[1])
				tag |= 1 << uint(bit)
				pos += bestLen
			} else {
				group = append(group, src[pos])
				pos++
			}
		}

		out = append(out, tag)
		out = append(out, group...)
	}

	return out
}

// CompressBlock compresses exactly one block (len(src) <= BlockSize) into
// dst. It returns the classification and, for Compressed, the number of
// bytes written (including the 2-byte chunk header).
func CompressBlock(dst, src []byte) (Result, int) {
	if len(src) == 0 {
		return AllZeros, 0
	}
	if isAllZero(src) {
		return AllZeros, 0
	}

	tagged := encodeTagged(src)

	// Prefer the tagged encoding when it's smaller than storing raw.
	if len(tagged) < len(src) && len(tagged)+2 <= len(dst) {
		binary.LittleEndian.PutUint16(dst, uint16(flagCompressed|((len(tagged)-1)&sizeMask)))
		copy(dst[2:], tagged)
		return Compressed, len(tagged) + 2
	}

	if len(src)+2 <= len(dst) {
		binary.LittleEndian.PutUint16(dst, uint16((len(src)-1)&sizeMask))
		copy(dst[2:], src)
		return Compressed, len(src) + 2
	}

	return Incompressible, 0
}

// DecompressBlock decodes one chunk (as produced by CompressBlock) from
// src into dst (capacity >= BlockSize). It returns the number of bytes
// written to dst and the number of bytes consumed from src. A header of
// 0x0000 is the terminator: DecompressBlock returns (0, 2, nil) so the
// caller can stop.
func DecompressBlock(dst, src []byte) (written, consumed int, err error) {
	if len(src) < 2 {
		return 0, 0, errors.New("lznt1: truncated chunk header")
	}

	header := binary.LittleEndian.Uint16(src)
	if header == 0 {
		return 0, 2, nil
	}

	flag := header&flagCompressed != 0
	size := int(header&sizeMask) + 1
	if len(src) < 2+size {
		return 0, 0, errors.New("lznt1: truncated chunk data")
	}
	data := src[2 : 2+size]
	consumed = 2 + size

	if !flag {
		if len(dst) < len(data) {
			return 0, 0, errors.New("lznt1: destination too small for raw chunk")
		}
		copy(dst, data)
		return len(data), consumed, nil
	}

	cursor := 0
	outPos := 0
	for cursor < len(data) {
		tag := data[cursor]
		cursor++
		for bit := 0; bit < 8 && cursor < len(data); bit++ {
			if tag&(1<<uint(bit)) == 0 {
				if outPos >= len(dst) {
					return 0, 0, errors.New("lznt1: destination overflow decoding literal")
				}
				dst[outPos] = data[cursor]
				cursor++
				outPos++
				continue
			}

			if cursor+2 > len(data) {
				return 0, 0, errors.New("lznt1: truncated match token")
			}
			token := binary.LittleEndian.Uint16(data[cursor:])
			cursor += 2

			lengthBits, _ := splitBits(outPos)
			length := int(token&((1<<lengthBits)-1)) + 3
			disp := int(token>>lengthBits) + 1

			if disp > outPos {
				return 0, 0, errors.Errorf("lznt1: back-reference displacement %d exceeds decoded position %d", disp, outPos)
			}
			if outPos+length > len(dst) {
				return 0, 0, errors.New("lznt1: destination overflow decoding match")
			}
			for k := 0; k < length; k++ {
				dst[outPos+k] = dst[outPos-disp+k]
			}
			outPos += length
		}
	}

	return outPos, consumed, nil
}

// Compress encodes src, whose length must be a multiple of BlockSize, as a
// sequence of chunks terminated by a 0x0000 header, per spec §4.3.
func Compress(src []byte) ([]byte, error) {
	if len(src)%BlockSize != 0 {
		return nil, errors.Errorf("lznt1: source length %d is not a multiple of %d", len(src), BlockSize)
	}

	out := make([]byte, 0, len(src))
	scratch := make([]byte, BlockSize+2)
	for off := 0; off < len(src); off += BlockSize {
		block := src[off : off+BlockSize]
		result, n := CompressBlock(scratch, block)
		switch result {
		case Compressed:
			out = append(out, scratch[:n]...)
		case AllZeros, Incompressible:
			// Preserve the round-trip invariant for arbitrary buffers:
			// store the block raw rather than dropping it, since Compress
			// operates over a whole buffer rather than one compression
			// unit. Per-unit sparse handling lives in the attribute
			// runtime, which calls CompressBlock directly.
			var hdr [2]byte
			binary.LittleEndian.PutUint16(hdr[:], uint16((BlockSize-1)&sizeMask))
			out = append(out, hdr[:]...)
			out = append(out, block...)
		}
	}

	var terminator [2]byte
	out = append(out, terminator[:]...)

	return out, nil
}

// Decompress reverses Compress. dst must be large enough to hold the full
// decompressed buffer; per spec §4.3, it pads the destination to the next
// BlockSize boundary after any chunk that produced fewer bytes, and stops
// cleanly rather than erroring if fewer than BlockSize bytes of
// destination remain (open question #2 in the design notes).
func Decompress(dst, src []byte) (int, error) {
	srcOff := 0
	dstOff := 0

	for srcOff < len(src) {
		if len(dst)-dstOff < BlockSize {
			break
		}

		n, consumed, err := DecompressBlock(dst[dstOff:dstOff+BlockSize], src[srcOff:])
		if err != nil {
			return dstOff, err
		}
		if consumed == 2 && n == 0 {
			// terminator
			break
		}

		for i := n; i < BlockSize; i++ {
			dst[dstOff+i] = 0
		}

		srcOff += consumed
		dstOff += BlockSize
	}

	return dstOff, nil
}
