package ntfs

// AttributeType identifies the kind of an attribute record (spec §3.5).
type AttributeType uint32

// Well-known attribute types, per the fixed $AttrDef table every NTFS
// volume carries at MFT index 4.
const (
	AttrStandardInformation AttributeType = 0x10
	AttrAttributeList       AttributeType = 0x20
	AttrFileName            AttributeType = 0x30
	AttrObjectID            AttributeType = 0x40
	AttrSecurityDescriptor  AttributeType = 0x50
	AttrVolumeName          AttributeType = 0x60
	AttrVolumeInformation   AttributeType = 0x70
	AttrData                AttributeType = 0x80
	AttrIndexRoot           AttributeType = 0x90
	AttrIndexAllocation     AttributeType = 0xA0
	AttrBitmap              AttributeType = 0xB0
	AttrReparsePoint        AttributeType = 0xC0
	AttrEAInformation       AttributeType = 0xD0
	AttrEA                  AttributeType = 0xE0
	AttrLoggedUtilityStream AttributeType = 0x100
	AttrEndOfList           AttributeType = 0xFFFFFFFF
)

// AttrDefEntry is one row of the $AttrDef system table (spec §3.3: "the
// attribute-definition table").
type AttrDefEntry struct {
	Name          string
	Type          AttributeType
	MinSize       int64
	MaxSize       int64 // -1 means unbounded
	CanBeNonResident bool
	CanBeIndexed  bool
}

// DefaultAttrDef is the table a fresh volume is formatted with, matching
// the fixed set of attributes this package actually interprets.
var DefaultAttrDef = []AttrDefEntry{
	{Name: "$STANDARD_INFORMATION", Type: AttrStandardInformation, MinSize: 48, MaxSize: 72},
	{Name: "$ATTRIBUTE_LIST", Type: AttrAttributeList, MinSize: 0, MaxSize: -1, CanBeNonResident: true},
	{Name: "$FILE_NAME", Type: AttrFileName, MinSize: 68, MaxSize: 578},
	{Name: "$OBJECT_ID", Type: AttrObjectID, MinSize: 0, MaxSize: 256},
	{Name: "$SECURITY_DESCRIPTOR", Type: AttrSecurityDescriptor, MinSize: 0, MaxSize: -1, CanBeNonResident: true},
	{Name: "$VOLUME_NAME", Type: AttrVolumeName, MinSize: 0, MaxSize: 256},
	{Name: "$VOLUME_INFORMATION", Type: AttrVolumeInformation, MinSize: 12, MaxSize: 12},
	{Name: "$DATA", Type: AttrData, MinSize: 0, MaxSize: -1, CanBeNonResident: true},
	{Name: "$INDEX_ROOT", Type: AttrIndexRoot, MinSize: 0, MaxSize: -1},
	{Name: "$INDEX_ALLOCATION", Type: AttrIndexAllocation, MinSize: 0, MaxSize: -1, CanBeNonResident: true},
	{Name: "$BITMAP", Type: AttrBitmap, MinSize: 0, MaxSize: -1, CanBeNonResident: true, CanBeIndexed: true},
	{Name: "$REPARSE_POINT", Type: AttrReparsePoint, MinSize: 0, MaxSize: 16384, CanBeNonResident: true},
	{Name: "$EA_INFORMATION", Type: AttrEAInformation, MinSize: 8, MaxSize: 8},
	{Name: "$EA", Type: AttrEA, MinSize: 0, MaxSize: 65536, CanBeNonResident: true},
	{Name: "$LOGGED_UTILITY_STREAM", Type: AttrLoggedUtilityStream, MinSize: 0, MaxSize: 65536, CanBeNonResident: true},
}

// LookupAttrDef finds the table entry for a type, nil if unknown.
func LookupAttrDef(table []AttrDefEntry, t AttributeType) *AttrDefEntry {
	for i := range table {
		if table[i].Type == t {
			return &table[i]
		}
	}
	return nil
}
