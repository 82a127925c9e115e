package ntfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, time.July, 29, 12, 0, 0, 0, time.UTC)
	ft := FileTime(now)
	back := FileTimeToTime(ft)
	assert.True(t, now.Equal(back), "got %v want %v", back, now)
}

func TestStandardInformationEncodeParseRoundTrip(t *testing.T) {
	si := &StandardInformation{
		CreationTime:   FileTime(time.Now().UTC()),
		LastModified:   FileTime(time.Now().UTC()),
		RecordChanged:  FileTime(time.Now().UTC()),
		LastAccessed:   FileTime(time.Now().UTC()),
		FileAttributes: FileAttrArchive | FileAttrReadOnly,
		QuotaCharged:   1024,
		USN:            99,
	}
	buf := si.Encode()
	assert.Len(t, buf, 72)

	parsed, err := ParseStandardInformation(buf)
	require.NoError(t, err)
	assert.Equal(t, si.FileAttributes, parsed.FileAttributes)
	assert.Equal(t, si.QuotaCharged, parsed.QuotaCharged)
	assert.Equal(t, si.USN, parsed.USN)
}

func TestParseStandardInformationAcceptsShortV1Form(t *testing.T) {
	si := &StandardInformation{FileAttributes: FileAttrHidden}
	buf := si.Encode()[:standardInfoV1Size]

	parsed, err := ParseStandardInformation(buf)
	require.NoError(t, err)
	assert.Equal(t, FileAttrHidden, parsed.FileAttributes)
	assert.Zero(t, parsed.QuotaCharged)
}

func TestParseStandardInformationRejectsTooShort(t *testing.T) {
	_, err := ParseStandardInformation(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
