package vio

import (
	"io"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"
	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
)

// DefaultBufferQuota is the in-memory write quota before BufferedStream
// starts forcing flushes to the base stream, mirroring the 1 MiB pipe
// buffer the teacher's package builder (pkg/vpkg/package.go) uses to
// decouple a slow archive writer from its source.
const DefaultBufferQuota = 0x100000

// BufferedStream accumulates writes in memory (bounded by quota) before
// they reach the base stream, giving NtfsFileStream a place to coalesce
// small writes (spec §4.8) without forcing an I/O per call.
type BufferedStream struct {
	base   SparseStream
	quota  int64
	pos    int64 // base-stream offset where pending bytes begin
	pend   buffer.Buffer
	cursor int64
}

// NewBufferedStream wraps base with a write-coalescing buffer bounded to
// quota bytes (DefaultBufferQuota if quota <= 0).
func NewBufferedStream(base SparseStream, quota int64) *BufferedStream {
	if quota <= 0 {
		quota = DefaultBufferQuota
	}
	return &BufferedStream{base: base, quota: quota, pend: buffer.New(quota)}
}

func (b *BufferedStream) Len() int64 { return b.base.Len() }

func (b *BufferedStream) CanRead() bool  { return b.base.CanRead() }
func (b *BufferedStream) CanWrite() bool { return b.base.CanWrite() }
func (b *BufferedStream) Close() error   { return b.Flush() }

func (b *BufferedStream) SetLen(n int64) error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.base.SetLen(n)
}

// Flush drains any pending buffered bytes into the base stream at the
// offset they were written to.
func (b *BufferedStream) Flush() error {
	if b.pend.Len() == 0 {
		return nil
	}
	if _, err := b.base.Seek(b.pos, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(b.base, b.pend); err != nil {
		return errors.Wrap(err, "vio: flushing buffered stream")
	}
	b.pend.Reset()
	return nil
}

// FlushAsync drains pending bytes through a djherbis/nio pipe on a
// background goroutine, returning a channel that closes once the drain
// completes. It is the decoupled-producer/consumer counterpart to Flush,
// grounded in the same nio.Pipe(buffer.New(...)) idiom the teacher's
// package builder uses for streaming archive writes.
func (b *BufferedStream) FlushAsync() <-chan error {
	done := make(chan error, 1)
	if b.pend.Len() == 0 {
		done <- nil
		return done
	}

	r, w := nio.Pipe(buffer.New(b.quota))
	pos := b.pos
	pend := b.pend
	b.pend = buffer.New(b.quota)

	go func() {
		_, err := io.Copy(w, pend)
		w.CloseWithError(err)
	}()

	go func() {
		if _, err := b.base.Seek(pos, io.SeekStart); err != nil {
			done <- err
			return
		}
		_, err := io.Copy(b.base, r)
		done <- err
	}()

	return done
}

func (b *BufferedStream) Seek(offset int64, whence int) (int64, error) {
	if err := b.Flush(); err != nil {
		return 0, err
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.cursor + offset
	case io.SeekEnd:
		target = b.base.Len() + offset
	default:
		return 0, errors.New("vio: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("vio: negative seek position")
	}
	b.cursor = target
	return b.cursor, nil
}

func (b *BufferedStream) Read(p []byte) (int, error) {
	if err := b.Flush(); err != nil {
		return 0, err
	}
	if _, err := b.base.Seek(b.cursor, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := b.base.Read(p)
	b.cursor += int64(n)
	return n, err
}

func (b *BufferedStream) Write(p []byte) (int, error) {
	if !b.CanWrite() {
		return 0, ErrReadOnly
	}

	// Non-contiguous write: flush whatever is pending first so the
	// buffer only ever represents one contiguous run.
	if b.pend.Len() > 0 && b.pos+b.pend.Len() != b.cursor {
		if err := b.Flush(); err != nil {
			return 0, err
		}
	}
	if b.pend.Len() == 0 {
		b.pos = b.cursor
	}

	written := 0
	for len(p) > 0 {
		room := b.quota - b.pend.Len()
		if room <= 0 {
			if err := b.Flush(); err != nil {
				return written, err
			}
			b.pos = b.cursor
			room = b.quota
		}
		chunk := p
		if int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		n, err := b.pend.Write(chunk)
		written += n
		b.cursor += int64(n)
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

func (b *BufferedStream) Extents() ([]extent.StreamExtent, bool) {
	if err := b.Flush(); err != nil {
		return nil, false
	}
	return b.base.Extents()
}
