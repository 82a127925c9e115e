package ntfs

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/vio"
)

// ExportTo copies stream's content to dst in extent order. dst need not be
// seekable: vio.WriteSeeker turns each forward Seek between extents into
// zero-fill writes when dst can't seek for itself (a pipe, a network
// connection, stdout), so a sparse NTFS file can be streamed out without
// the caller having to hand-roll hole bookkeeping. When dst does implement
// io.Seeker (e.g. a destination host file), WriteSeeker uses that directly
// and the gaps cost nothing.
func ExportTo(dst io.Writer, stream *NtfsFileStream) error {
	ws, err := vio.WriteSeeker(dst)
	if err != nil {
		return errors.Wrap(err, "ntfs: wrapping export destination")
	}

	extents, ok := stream.Extents()
	if !ok || extents == nil {
		_, err := io.Copy(ws, stream)
		return errors.Wrap(err, "ntfs: exporting stream")
	}

	for _, e := range extents {
		if _, err := stream.Seek(e.Offset, io.SeekStart); err != nil {
			return errors.Wrap(err, "ntfs: seeking source extent")
		}
		if _, err := ws.Seek(e.Offset, io.SeekStart); err != nil {
			return errors.Wrap(err, "ntfs: seeking export destination")
		}
		if _, err := io.CopyN(ws, stream, e.Length); err != nil {
			return errors.Wrap(err, "ntfs: copying extent")
		}
	}

	end := stream.Len()
	if _, err := ws.Seek(end, io.SeekStart); err != nil {
		return errors.Wrap(err, "ntfs: seeking export destination to final length")
	}
	return nil
}
