package pagestore

import "github.com/ridgekv/ridgekv/internal/binfmt"

// Page 0 layout (spec §6.3 "Page 0: environment header"):
//
//	offset  size  field
//	0       4     magic
//	4       1     version major
//	5       1     version minor
//	6       1     version revision
//	7       1     version file-format
//	8       4     page size
//	12      4     max database count
//	16      8     free-list head page-id
//	24      4     number of descriptors in use
//	28      ...   descriptor array, one DescriptorSize slot each
const (
	Magic = 0x52474b56 // "RGKV"

	VersionMajor      = 1
	VersionMinor      = 0
	VersionRevision   = 0
	VersionFileFormat = 1

	headerMagicOff     = 0
	headerVersionOff   = 4
	headerPageSizeOff  = 8
	headerMaxDBsOff    = 12
	headerFreeListOff  = 16
	headerDBCountOff   = 24
	headerDescStartOff = 28

	// DescriptorSize is the on-disk size of one per-database descriptor
	// (spec §6.3 "Per-database descriptor (inlined in page 0)").
	DescriptorSize = 32

	descNameIDOff     = 0  // 2 bytes, 0 = slot free
	descFlagsOff      = 2  // 2 bytes
	descKeyKindOff    = 4  // 1 byte
	descKeyMaxSizeOff = 8  // 4 bytes (0 = unlimited)
	descRootPageOff   = 12 // 8 bytes
	descRecordSizeOff = 20 // 4 bytes (0 = variable)
	// remaining bytes reserved for future use.
)

// Descriptor is the decoded form of one per-database slot in page 0.
type Descriptor struct {
	NameID     uint16
	Flags      uint16
	KeyKind    uint8
	KeyMaxSize uint32
	RootPageID uint64
	RecordSize uint32
}

func (d Descriptor) Free() bool { return d.NameID == 0 }

func encodeDescriptor(b []byte, d Descriptor) {
	binfmt.PutUint16(b[descNameIDOff:], d.NameID)
	binfmt.PutUint16(b[descFlagsOff:], d.Flags)
	b[descKeyKindOff] = d.KeyKind
	binfmt.PutUint32(b[descKeyMaxSizeOff:], d.KeyMaxSize)
	binfmt.PutUint64(b[descRootPageOff:], d.RootPageID)
	binfmt.PutUint32(b[descRecordSizeOff:], d.RecordSize)
}

func decodeDescriptor(b []byte) Descriptor {
	return Descriptor{
		NameID:     binfmt.Uint16(b[descNameIDOff:]),
		Flags:      binfmt.Uint16(b[descFlagsOff:]),
		KeyKind:    b[descKeyKindOff],
		KeyMaxSize: binfmt.Uint32(b[descKeyMaxSizeOff:]),
		RootPageID: binfmt.Uint64(b[descRootPageOff:]),
		RecordSize: binfmt.Uint32(b[descRecordSizeOff:]),
	}
}

// header is the decoded page-0 environment header.
type header struct {
	pageSize     uint32
	maxDatabases uint32
	freeListHead uint64
	descriptors  []Descriptor // len == maxDatabases
}

func (h *header) encode(pageSize uint32) []byte {
	buf := make([]byte, pageSize-checksumSize)
	binfmt.PutUint32(buf[headerMagicOff:], Magic)
	buf[headerVersionOff+0] = VersionMajor
	buf[headerVersionOff+1] = VersionMinor
	buf[headerVersionOff+2] = VersionRevision
	buf[headerVersionOff+3] = VersionFileFormat
	binfmt.PutUint32(buf[headerPageSizeOff:], h.pageSize)
	binfmt.PutUint32(buf[headerMaxDBsOff:], h.maxDatabases)
	binfmt.PutUint64(buf[headerFreeListOff:], h.freeListHead)
	inUse := uint32(0)
	for i, d := range h.descriptors {
		if !d.Free() {
			inUse++
		}
		off := headerDescStartOff + i*DescriptorSize
		encodeDescriptor(buf[off:off+DescriptorSize], d)
	}
	binfmt.PutUint32(buf[headerDBCountOff:], inUse)
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if binfmt.Uint32(buf[headerMagicOff:]) != Magic {
		return nil, errInvalidHeader("bad magic")
	}
	if buf[headerVersionOff+3] != VersionFileFormat {
		return nil, errInvalidVersion("unsupported file format version")
	}
	h := &header{
		pageSize:     binfmt.Uint32(buf[headerPageSizeOff:]),
		maxDatabases: binfmt.Uint32(buf[headerMaxDBsOff:]),
		freeListHead: binfmt.Uint64(buf[headerFreeListOff:]),
	}
	h.descriptors = make([]Descriptor, h.maxDatabases)
	for i := range h.descriptors {
		off := headerDescStartOff + i*DescriptorSize
		h.descriptors[i] = decodeDescriptor(buf[off : off+DescriptorSize])
	}
	return h, nil
}
