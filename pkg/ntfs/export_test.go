package ntfs

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorfs/corefs/pkg/vio"
)

// nonSeekableBuffer hides bytes.Buffer's absence of Seek (it has none),
// standing in for a genuinely unseekable destination like a pipe.
type nonSeekableBuffer struct {
	buf bytes.Buffer
}

func (w *nonSeekableBuffer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func TestExportToDenseStream(t *testing.T) {
	content := []byte("hello, corefs")
	s := &NtfsFileStream{stream: vio.NewMemoryStreamFromBytes(append([]byte(nil), content...))}

	var dst nonSeekableBuffer
	require.NoError(t, ExportTo(&dst, s))
	assert.Equal(t, content, dst.buf.Bytes())
}

func TestExportToUsesDestinationSeekWhenAvailable(t *testing.T) {
	content := []byte("seekable destination")
	s := &NtfsFileStream{stream: vio.NewMemoryStreamFromBytes(append([]byte(nil), content...))}

	dst := &seekableBuffer{}
	require.NoError(t, ExportTo(dst, s))
	assert.Equal(t, content, dst.data)
}

// seekableBuffer is a trivial io.WriteSeeker backed by a byte slice, used
// to exercise ExportTo/vio.WriteSeeker's direct-seek branch.
type seekableBuffer struct {
	data []byte
	pos  int64
}

func (w *seekableBuffer) Write(p []byte) (int, error) {
	end := w.pos + int64(len(p))
	if end > int64(len(w.data)) {
		grown := make([]byte, end)
		copy(grown, w.data)
		w.data = grown
	}
	n := copy(w.data[w.pos:end], p)
	w.pos = end
	return n, nil
}

func (w *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = w.pos + offset
	case io.SeekEnd:
		target = int64(len(w.data)) + offset
	}
	w.pos = target
	return w.pos, nil
}
