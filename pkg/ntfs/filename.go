package ntfs

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// FileNameNamespace distinguishes how a $FILE_NAME record's name should be
// interpreted (spec §4.7's collation key layout plus boundary scenario 4's
// short-name generation).
type FileNameNamespace uint8

const (
	NamespacePOSIX       FileNameNamespace = 0
	NamespaceWin32       FileNameNamespace = 1
	NamespaceDOS         FileNameNamespace = 2
	NamespaceWin32AndDOS FileNameNamespace = 3
)

// FileNameAttribute is the $FILE_NAME attribute value (spec §4.7: "byte
// 0x40 is the name length ... 0x42+ is the UTF-16 name"), matching the
// standard on-disk layout byte-for-byte.
type FileNameAttribute struct {
	ParentDirectory  FileReference
	CreationTime     uint64
	LastModified     uint64
	LastMFTChange    uint64
	LastAccess       uint64
	AllocatedSize    uint64
	RealSize         uint64
	Flags            uint32
	ReparseValue     uint32
	Namespace        FileNameNamespace
	Name             string
}

const fileNameFixedSize = 0x42

// ParseFileName decodes a $FILE_NAME attribute value.
func ParseFileName(buf []byte) (*FileNameAttribute, error) {
	if len(buf) < fileNameFixedSize {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: file name attribute too short")
	}
	nameLen := int(buf[0x40])
	namespace := FileNameNamespace(buf[0x41])
	end := fileNameFixedSize + nameLen*2
	if end > len(buf) {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: file name length overruns buffer")
	}
	return &FileNameAttribute{
		ParentDirectory: FileReference(binary.LittleEndian.Uint64(buf[0x00:])),
		CreationTime:    binary.LittleEndian.Uint64(buf[0x08:]),
		LastModified:    binary.LittleEndian.Uint64(buf[0x10:]),
		LastMFTChange:   binary.LittleEndian.Uint64(buf[0x18:]),
		LastAccess:      binary.LittleEndian.Uint64(buf[0x20:]),
		AllocatedSize:   binary.LittleEndian.Uint64(buf[0x28:]),
		RealSize:        binary.LittleEndian.Uint64(buf[0x30:]),
		Flags:           binary.LittleEndian.Uint32(buf[0x38:]),
		ReparseValue:    binary.LittleEndian.Uint32(buf[0x3C:]),
		Namespace:       namespace,
		Name:            decodeUTF16(buf[fileNameFixedSize:end]),
	}, nil
}

// Encode serializes a FileNameAttribute back to its on-disk layout.
func (f *FileNameAttribute) Encode() []byte {
	nameBytes := encodeUTF16(f.Name)
	buf := make([]byte, fileNameFixedSize+len(nameBytes))
	binary.LittleEndian.PutUint64(buf[0x00:], uint64(f.ParentDirectory))
	binary.LittleEndian.PutUint64(buf[0x08:], f.CreationTime)
	binary.LittleEndian.PutUint64(buf[0x10:], f.LastModified)
	binary.LittleEndian.PutUint64(buf[0x18:], f.LastMFTChange)
	binary.LittleEndian.PutUint64(buf[0x20:], f.LastAccess)
	binary.LittleEndian.PutUint64(buf[0x28:], f.AllocatedSize)
	binary.LittleEndian.PutUint64(buf[0x30:], f.RealSize)
	binary.LittleEndian.PutUint32(buf[0x38:], f.Flags)
	binary.LittleEndian.PutUint32(buf[0x3C:], f.ReparseValue)
	buf[0x40] = byte(len(nameBytes) / 2)
	buf[0x41] = byte(f.Namespace)
	copy(buf[fileNameFixedSize:], nameBytes)
	return buf
}

// isValid83Char reports whether r is legal in an unquoted 8.3 short name
// component.
func isValid83Char(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("!#$%&'()-@^_`{}~", r):
		return true
	}
	return false
}

// GenerateShortName derives an 8.3 DOS alias for a long name, the
// "ALONGF~1.TXT" scheme of spec §8 boundary scenario 4. n is the numeric
// tail to use (1-based); callers probing for a free alias increment it on
// collision.
func GenerateShortName(longName string, n int, upcase *UpCaseTable) string {
	base := longName
	ext := ""
	if i := strings.LastIndex(longName, "."); i > 0 {
		base, ext = longName[:i], longName[i+1:]
	}

	clean := func(s string, maxLen int) string {
		u := s
		if upcase != nil {
			u = upcase.UpperString(u)
		} else {
			u = strings.ToUpper(u)
		}
		var b strings.Builder
		for _, r := range u {
			if isValid83Char(r) {
				b.WriteRune(r)
			}
		}
		out := b.String()
		if len(out) > maxLen {
			out = out[:maxLen]
		}
		return out
	}

	baseClean := clean(base, 8)
	extClean := clean(ext, 3)

	tail := fmt.Sprintf("~%d", n)
	keep := 8 - len(tail)
	if keep < 1 {
		keep = 1
	}
	if len(baseClean) > keep {
		baseClean = baseClean[:keep]
	}
	if baseClean == "" {
		baseClean = "FILE"
		if len(baseClean) > keep {
			baseClean = baseClean[:keep]
		}
	}

	short := baseClean + tail
	if extClean != "" {
		short += "." + extClean
	}
	return short
}

// Is83Compliant reports whether name is already a legal 8.3 name and so
// needs no generated short-name alias (spec §8 scenario 4 only generates
// one when "the long name isn't already 8.3-compliant").
func Is83Compliant(name string) bool {
	base := name
	ext := ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	if base == "" || len(base) > 8 || len(ext) > 3 {
		return false
	}
	if strings.Contains(ext, ".") {
		return false
	}
	for _, r := range base + ext {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if !isValid83Char(r) {
			return false
		}
	}
	return true
}
