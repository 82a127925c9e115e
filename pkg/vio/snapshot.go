package vio

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
)

// overlayChunkSize is the granularity at which the snapshot overlay tracks
// written regions. forget() flushes the base stream in chunks of this
// size, per spec §4.2.
const overlayChunkSize = 8192

type snapshotState int

const (
	stateOpen snapshotState = iota
	stateSnapshot
	stateFrozen
)

// SnapshotStream wraps a base stream and, once Snapshot is called, diverts
// writes to an in-memory sparse overlay while reads for regions the
// overlay doesn't cover still come from the base. It implements the state
// machine in spec §4.2:
//
//	OPEN ── Snapshot() ──► SNAPSHOT ── Revert()  ──► OPEN
//	                            └──── Forget()  ──► OPEN (overlay flushed to base)
//	OPEN|SNAPSHOT ── Freeze() ──► FROZEN (writes fail) ── Thaw() ──► prev
type SnapshotStream struct {
	base   SparseStream
	state  snapshotState
	prev   snapshotState // state to return to on Thaw
	cursor int64

	overlay    map[int64][]byte // chunk index -> chunk bytes (len == overlayChunkSize except possibly the final logical chunk)
	overlayLen int64            // logical length while snapshotting; may exceed base.Len()
	savedCur   int64            // cursor saved at Snapshot() time, restored by Revert()

	progress ProgressSink
}

// ProgressSink receives a chunk-flushed count from Forget. It's the subset
// of elog.Progress that Forget needs, kept local so vio doesn't import
// pkg/elog (which itself imports vio for LazyReadCloser).
type ProgressSink interface {
	Increment(n int64)
}

// SetProgress attaches a sink that Forget increments once per overlay chunk
// flushed to the base stream.
func (s *SnapshotStream) SetProgress(p ProgressSink) {
	s.progress = p
}

// OverlayChunkCount reports how many chunks Forget would flush, for sizing
// a progress bar before calling it.
func (s *SnapshotStream) OverlayChunkCount() int64 {
	return int64(len(s.overlay))
}

// NewSnapshotStream wraps base in the OPEN state.
func NewSnapshotStream(base SparseStream) *SnapshotStream {
	return &SnapshotStream{base: base, state: stateOpen}
}

// Base returns the wrapped stream, for callers that need to unwrap back to
// it once the snapshot is done (e.g. to restore a concrete type a later
// type-assertion depends on).
func (s *SnapshotStream) Base() SparseStream {
	return s.base
}

// Snapshot transitions OPEN -> SNAPSHOT, diverting future writes to the
// overlay.
func (s *SnapshotStream) Snapshot() error {
	if s.state == stateFrozen {
		return ErrFrozen
	}
	if s.state == stateSnapshot {
		return errors.New("vio: stream already has an active snapshot")
	}
	s.state = stateSnapshot
	s.overlay = make(map[int64][]byte)
	s.overlayLen = s.base.Len()
	s.savedCur = s.cursor
	return nil
}

// InSnapshot reports whether the stream currently has an active overlay.
func (s *SnapshotStream) InSnapshot() bool {
	return s.state == stateSnapshot
}

// Revert discards the overlay and restores the cursor saved at Snapshot
// time, returning to OPEN.
func (s *SnapshotStream) Revert() error {
	if s.state != stateSnapshot {
		return errors.New("vio: no active snapshot to revert")
	}
	s.overlay = nil
	s.overlayLen = 0
	s.cursor = s.savedCur
	s.state = stateOpen
	return nil
}

// Forget writes each overlay extent back to the base stream in
// overlayChunkSize chunks, then discards the overlay, returning to OPEN.
// Per spec §4.2, a failure partway through leaves the base partially
// updated — this is a best-effort flush, not a transaction.
func (s *SnapshotStream) Forget() error {
	if s.state != stateSnapshot {
		return errors.New("vio: no active snapshot to forget")
	}

	if s.overlayLen > s.base.Len() {
		if err := s.base.SetLen(s.overlayLen); err != nil {
			return errors.Wrap(err, "vio: growing base stream to overlay length")
		}
	}

	chunks := make([]int64, 0, len(s.overlay))
	for idx := range s.overlay {
		chunks = append(chunks, idx)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i] < chunks[j] })

	for _, idx := range chunks {
		data := s.overlay[idx]
		offset := idx * overlayChunkSize
		if end := s.overlayLen - offset; end < int64(len(data)) {
			if end < 0 {
				end = 0
			}
			data = data[:end]
		}
		if _, err := s.base.Seek(offset, io.SeekStart); err != nil {
			return errors.Wrapf(err, "vio: seeking base stream to flush overlay chunk %d", idx)
		}
		if _, err := s.base.Write(data); err != nil {
			return errors.Wrapf(err, "vio: flushing overlay chunk %d to base", idx)
		}
		if s.progress != nil {
			s.progress.Increment(1)
		}
	}

	s.overlay = nil
	s.overlayLen = 0
	s.state = stateOpen
	return nil
}

// Freeze makes any mutation (Write, SetLen) fail with ErrFrozen.
// Seeking remains permitted. It is advisory: Thaw returns to whatever
// state (OPEN or SNAPSHOT) preceded the freeze.
func (s *SnapshotStream) Freeze() error {
	if s.state == stateFrozen {
		return errors.New("vio: stream already frozen")
	}
	s.prev = s.state
	s.state = stateFrozen
	return nil
}

// Thaw undoes Freeze, restoring the prior state.
func (s *SnapshotStream) Thaw() error {
	if s.state != stateFrozen {
		return errors.New("vio: stream is not frozen")
	}
	s.state = s.prev
	return nil
}

func (s *SnapshotStream) Len() int64 {
	if s.state == stateSnapshot {
		return s.overlayLen
	}
	return s.base.Len()
}

func (s *SnapshotStream) CanRead() bool  { return s.base.CanRead() }
func (s *SnapshotStream) CanWrite() bool { return s.state != stateFrozen && s.base.CanWrite() }
func (s *SnapshotStream) Close() error   { return nil }

func (s *SnapshotStream) SetLen(n int64) error {
	if s.state == stateFrozen {
		return ErrFrozen
	}
	if s.state == stateSnapshot {
		s.overlayLen = n
		return nil
	}
	return s.base.SetLen(n)
}

func (s *SnapshotStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.cursor + offset
	case io.SeekEnd:
		target = s.Len() + offset
	default:
		return 0, errors.New("vio: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("vio: negative seek position")
	}
	s.cursor = target
	return s.cursor, nil
}

func (s *SnapshotStream) chunkRange(offset, length int64) (first, last int64) {
	first = offset / overlayChunkSize
	last = (offset + length - 1) / overlayChunkSize
	return
}

func (s *SnapshotStream) Read(p []byte) (int, error) {
	if s.state != stateSnapshot {
		if _, err := s.base.Seek(s.cursor, io.SeekStart); err != nil {
			return 0, err
		}
		n, err := s.base.Read(p)
		s.cursor += int64(n)
		return n, err
	}

	if s.cursor >= s.overlayLen {
		return 0, io.EOF
	}
	max := s.overlayLen - s.cursor
	if int64(len(p)) > max {
		p = p[:max]
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(p) {
		pos := s.cursor + int64(total)
		idx := pos / overlayChunkSize
		within := pos % overlayChunkSize
		want := int64(len(p) - total)
		room := overlayChunkSize - within
		if want > room {
			want = room
		}

		if chunk, ok := s.overlay[idx]; ok {
			avail := int64(len(chunk)) - within
			n := want
			if avail < 0 {
				avail = 0
			}
			if n > avail {
				n = avail
			}
			if n > 0 {
				copy(p[total:total+int(n)], chunk[within:within+n])
			}
			// zero-fill the rest of the requested window if the chunk is short
			for i := n; i < want; i++ {
				p[int64(total)+i] = 0
			}
		} else {
			baseLen := s.base.Len()
			if pos < baseLen {
				n := want
				if pos+n > baseLen {
					n = baseLen - pos
				}
				if _, err := s.base.Seek(pos, io.SeekStart); err != nil {
					return total, err
				}
				if _, err := io.ReadFull(s.base, p[total:total+int(n)]); err != nil && err != io.EOF {
					return total, err
				}
				for i := n; i < want; i++ {
					p[int64(total)+i] = 0
				}
			} else {
				for i := int64(0); i < want; i++ {
					p[int64(total)+i] = 0
				}
			}
		}
		total += int(want)
	}

	s.cursor += int64(total)
	return total, nil
}

func (s *SnapshotStream) Write(p []byte) (int, error) {
	if s.state == stateFrozen {
		return 0, ErrFrozen
	}
	if !s.base.CanWrite() {
		return 0, ErrReadOnly
	}
	if s.state != stateSnapshot {
		if _, err := s.base.Seek(s.cursor, io.SeekStart); err != nil {
			return 0, err
		}
		n, err := s.base.Write(p)
		s.cursor += int64(n)
		return n, err
	}

	total := 0
	for total < len(p) {
		pos := s.cursor + int64(total)
		idx := pos / overlayChunkSize
		within := pos % overlayChunkSize
		room := overlayChunkSize - within
		n := int64(len(p) - total)
		if n > room {
			n = room
		}

		chunk, ok := s.overlay[idx]
		if !ok {
			chunk = make([]byte, overlayChunkSize)
			base := s.base.Len()
			chunkStart := idx * overlayChunkSize
			if chunkStart < base {
				end := chunkStart + overlayChunkSize
				if end > base {
					end = base
				}
				if _, err := s.base.Seek(chunkStart, io.SeekStart); err != nil {
					return total, err
				}
				if _, err := io.ReadFull(s.base, chunk[:end-chunkStart]); err != nil && err != io.EOF {
					return total, err
				}
			}
			s.overlay[idx] = chunk
		}

		copy(chunk[within:within+n], p[total:total+int(n)])
		total += int(n)
	}

	s.cursor += int64(total)
	if s.cursor > s.overlayLen {
		s.overlayLen = s.cursor
	}
	return total, nil
}

func (s *SnapshotStream) Extents() ([]extent.StreamExtent, bool) {
	if s.state != stateSnapshot {
		return s.base.Extents()
	}

	base, ok := s.base.Extents()
	if !ok {
		base, _ = wholeStreamExtents(s.base.Len())
	}

	var overlayExtents []extent.StreamExtent
	for idx, chunk := range s.overlay {
		start := idx * overlayChunkSize
		length := int64(len(chunk))
		if start+length > s.overlayLen {
			length = s.overlayLen - start
		}
		if length > 0 {
			overlayExtents = append(overlayExtents, extent.StreamExtent{Offset: start, Length: length})
		}
	}

	underBase := extent.Subtract(base, overlayExtents)
	return extent.Union(underBase, overlayExtents), true
}
