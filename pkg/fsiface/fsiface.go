// Package fsiface defines the uniform file-system surface pkg/ntfs
// implements, scoped so that a second, unrelated on-disk format could sit
// behind the same callers (spec §1's "collaborating filesystem" framing)
// without either side depending on the other's internals.
package fsiface

import (
	"io"
	"time"
)

// Entry describes one name in a directory listing, the minimum a caller
// needs to decide whether to recurse or open.
type Entry struct {
	Name       string
	ShortName  string
	IsDir      bool
	Size       uint64
	ModifiedAt time.Time
}

// Info is a file or directory's metadata, the fsiface analog of os.FileInfo
// plus the NTFS-specific timestamp quartet (spec §4.8).
type Info struct {
	Name          string
	IsDir         bool
	Size          uint64
	AllocatedSize uint64
	CreatedAt     time.Time
	ModifiedAt    time.Time
	AccessedAt    time.Time
	ChangedAt     time.Time
	ReadOnly      bool
	Hidden        bool
	System        bool
}

// Stream is a readable, writable, seekable file data stream — the
// subset of vio.SparseStream a consumer of fsiface needs, without binding
// it to vio's sparse-extent reporting.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Len() int64
	SetLen(n int64) error
}

// FileSystem is the operation set a volume implementation exposes
// (spec §4.8's File/NtfsFileStream surface, generalized). Paths are
// slash-separated and always rooted ("/", "/boot/vmlinuz").
type FileSystem interface {
	// Stat returns metadata for path.
	Stat(path string) (*Info, error)

	// ReadDir lists path's immediate children. path must name a
	// directory.
	ReadDir(path string) ([]Entry, error)

	// Open returns a Stream over path's unnamed $DATA stream (or the
	// stream named by streamName, when non-empty, spec §4.8's named
	// alternate data streams).
	Open(path, streamName string) (Stream, error)

	// Export copies path's stream (or, if streamName is non-empty, the
	// named alternate stream) to dst. dst need not be seekable: sparse
	// regions become zero-fill writes rather than requiring the caller
	// to read every hole byte by byte.
	Export(path, streamName string, dst io.Writer) error

	// Create makes a new file (or, if isDir, an empty directory) at
	// path and returns a Stream open on its primary data stream (nil
	// for a directory).
	Create(path string, isDir bool) (Stream, error)

	// Remove deletes the file or empty directory at path.
	Remove(path string) error

	// RemoveAll recursively deletes path and everything beneath it
	// (spec §8 scenario 3/6).
	RemoveAll(path string) error

	// Rename moves/renames oldPath to newPath, updating both the long
	// and any short (8.3) $FILE_NAME index entries (spec §8 scenario 4).
	Rename(oldPath, newPath string) error

	// Close releases the underlying volume resources.
	Close() error
}
