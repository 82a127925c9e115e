package ntfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNameAttributeEncodeParseRoundTrip(t *testing.T) {
	fn := &FileNameAttribute{
		ParentDirectory: NewFileReference(5, 1),
		CreationTime:    FileTime(filetimeEpoch.AddDate(20, 0, 0)),
		AllocatedSize:   4096,
		RealSize:        100,
		Flags:           FileAttrArchive,
		Namespace:       NamespaceWin32,
		Name:            "A Long File Name.txt",
	}
	buf := fn.Encode()
	parsed, err := ParseFileName(buf)
	require.NoError(t, err)
	assert.Equal(t, fn.ParentDirectory, parsed.ParentDirectory)
	assert.Equal(t, fn.Name, parsed.Name)
	assert.Equal(t, fn.RealSize, parsed.RealSize)
	assert.Equal(t, NamespaceWin32, parsed.Namespace)
}

func TestIs83Compliant(t *testing.T) {
	cases := map[string]bool{
		"README.TXT":           true,
		"FILE":                 true,
		"a long file name.txt": false,
		"TOOLONGNAME.TXT":      false,
		"README.TOOLONG":       false,
		"readme.txt":           false,
		"a.b.c":                false,
	}
	for name, want := range cases {
		assert.Equal(t, want, Is83Compliant(name), "name=%q", name)
	}
}

func TestGenerateShortNameTruncatesAndTags(t *testing.T) {
	short := GenerateShortName("A Long File Name.txt", 1, nil)
	assert.Equal(t, "ALONGF~1.TXT", short)

	short2 := GenerateShortName("A Long File Name.txt", 2, nil)
	assert.Equal(t, "ALONGF~2.TXT", short2)
	assert.True(t, Is83Compliant(short2))
}

func TestGenerateShortNameNoExtension(t *testing.T) {
	short := GenerateShortName("averylongdirectoryname", 1, nil)
	assert.Equal(t, "AVERYL~1", short)
}
