package vio

import (
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HostFile represents a file read from the host operating system, the
// source side of importing content into an NTFS volume: ntfs.Import and
// ntfs.ImportTree stream from a HostFile's Read method into a new $DATA
// attribute.
type HostFile interface {

	// Name returns the base name of the file, not a full path.
	Name() string

	// Size returns the size of the file in bytes. Zero for directories.
	Size() int

	// ModTime returns the time the file was most recently modified.
	ModTime() time.Time

	// Read implements io.Reader to retrieve file contents.
	Read(p []byte) (n int, err error)

	// Close implements io.Closer.
	Close() error

	IsDir() bool

	IsSymlink() bool

	// SymlinkIsCached reports whether Symlink can be read without
	// performing any further I/O.
	SymlinkIsCached() bool

	// Symlink returns the link target when SymlinkIsCached is true.
	Symlink() string
}

// OpenHostFile mimics os.Open but returns a HostFile, resolving symlinks
// into their cached target string rather than following them.
func OpenHostFile(path string) (HostFile, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	if fi.Mode()&os.ModeSymlink == os.ModeSymlink {

		lpath, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}
		lpath = filepath.ToSlash(lpath)

		rdr := strings.NewReader(lpath)
		rc := ioutil.NopCloser(rdr)

		return CustomHostFile(CustomHostFileArgs{
			Name:       fi.Name(),
			Size:       len(lpath),
			ModTime:    fi.ModTime(),
			IsDir:      fi.IsDir(),
			IsSymlink:  true,
			Symlink:    lpath,
			ReadCloser: rc,
		}), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return CustomHostFile(CustomHostFileArgs{
		Name:       fi.Name(),
		Size:       int(fi.Size()),
		ModTime:    fi.ModTime(),
		IsDir:      fi.IsDir(),
		IsSymlink:  false,
		ReadCloser: f,
	}), nil
}

// CustomHostFileArgs supplies everything needed to build a HostFile that
// isn't backed by an actual path on disk (useful in tests, or for feeding
// generated content into ntfs.Import).
type CustomHostFileArgs struct {
	Name               string
	Size               int
	ModTime            time.Time
	IsDir              bool
	IsSymlink          bool
	IsSymlinkNotCached bool
	Symlink            string
	ReadCloser         io.ReadCloser
}

// CustomHostFile constructs a HostFile without requiring a real path.
func CustomHostFile(args CustomHostFileArgs) HostFile {
	return &customHostFile{
		name:            args.Name,
		size:            args.Size,
		modTime:         args.ModTime,
		isDir:           args.IsDir,
		isSymlink:       args.IsSymlink,
		isSymlinkCached: !args.IsSymlinkNotCached,
		symlink:         args.Symlink,
		rc:              args.ReadCloser,
	}
}

type customHostFile struct {
	name            string
	size            int
	modTime         time.Time
	isDir           bool
	isSymlink       bool
	isSymlinkCached bool
	symlink         string
	rc              io.ReadCloser
}

func (f *customHostFile) Name() string            { return f.name }
func (f *customHostFile) Size() int               { return f.size }
func (f *customHostFile) ModTime() time.Time      { return f.modTime }
func (f *customHostFile) IsDir() bool             { return f.isDir }
func (f *customHostFile) IsSymlink() bool         { return f.isSymlink }
func (f *customHostFile) SymlinkIsCached() bool   { return f.isSymlinkCached }
func (f *customHostFile) Symlink() string         { return f.symlink }

func (f *customHostFile) Read(p []byte) (n int, err error) {
	return f.rc.Read(p)
}

func (f *customHostFile) Close() error {
	if f.rc != nil {
		return f.rc.Close()
	}
	return nil
}

// LazyReadCloser defers opening its source until the first Read call.
func LazyReadCloser(openFunc func() (io.Reader, error), closeFunc func() error) io.ReadCloser {
	return &lazyReadCloser{openFunc: openFunc, closeFunc: closeFunc}
}

type lazyReadCloser struct {
	opened    bool
	closed    bool
	r         io.Reader
	openFunc  func() (io.Reader, error)
	closeFunc func() error
}

func (rc *lazyReadCloser) Read(p []byte) (n int, err error) {
	if rc.closed {
		return 0, errors.New("vio: lazy readcloser is closed")
	}
	if rc.r == nil {
		rc.r, err = rc.openFunc()
		if err != nil {
			return
		}
		rc.opened = true
	}
	return rc.r.Read(p)
}

func (rc *lazyReadCloser) Close() error {
	if rc.closed {
		return errors.New("vio: lazy readcloser already closed")
	}
	rc.closed = true
	return rc.closeFunc()
}

// LazyOpenHostFile is OpenHostFile, but defers the actual os.Open call
// until the first Read, useful when walking a large host tree where most
// entries will never be imported.
func LazyOpenHostFile(path string) (HostFile, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	var f *os.File
	var lpath string
	var lrdr io.Reader
	islink := fi.Mode()&os.ModeSymlink == os.ModeSymlink
	if islink {
		lpath, err = os.Readlink(path)
		if err != nil {
			return nil, err
		}
		lpath = filepath.ToSlash(lpath)
		lrdr = strings.NewReader(lpath)
	}

	openFunc := func() (io.Reader, error) {
		if lrdr != nil {
			return lrdr, nil
		}
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	closeFunc := func() error {
		if f != nil {
			return f.Close()
		}
		return nil
	}

	fsize := int(fi.Size())
	if islink && fsize == 0 {
		fsize = len(lpath)
	}

	return CustomHostFile(CustomHostFileArgs{
		Name:               fi.Name(),
		Size:               fsize,
		ModTime:            fi.ModTime(),
		IsDir:              fi.IsDir(),
		IsSymlink:          islink,
		IsSymlinkNotCached: false,
		Symlink:            lpath,
		ReadCloser:         LazyReadCloser(openFunc, closeFunc),
	}), nil
}
