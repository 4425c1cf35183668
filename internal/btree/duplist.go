package btree

import (
	"github.com/ridgekv/ridgekv/internal/binfmt"
	"github.com/ridgekv/ridgekv/internal/pagestore"
)

// A key with more than one record (spec.md §4.5 "Duplicates") stores its
// leaf item with recDupList and a payload of the 8-byte duplist-id; the
// entry count lives in the first duplist page's header. The duplist
// chain itself is a page-0-independent list of length-prefixed
// entries, one per duplicate, each entry a record locator
// identical in shape to a leaf item's (flags, payload) pair — inline
// bytes, or a blob-id for oversized duplicate values.
//
// Grounded on blobstore's chained-page technique, since the teacher has
// no concept of duplicate keys at all (plain map semantics).
const (
	duplistCountOff = 2
	duplistNextOff  = 6
	duplistDataOff  = 14

	dupEntryHeaderSize = 1 + 2 // flags(1) payload_len(2)
)

type dupEntry struct {
	flags   uint8
	payload []byte
}

type dupList struct {
	entries []dupEntry
}

func (t *Btree) dupEntryCapacity() int {
	return int(t.store.PageSize()) - duplistDataOff - 8
}

// readDupList loads every entry of the duplicate-list chain rooted at
// payload's duplist-id.
func (t *Btree) readDupList(payload []byte, cs *pagestore.Changeset) (*dupList, error) {
	id := beUint64(payload)
	return t.readDupListByID(id, cs)
}

func (t *Btree) readDupListByID(id uint64, cs *pagestore.Changeset) (*dupList, error) {
	raw, err := t.readChain(id, cs)
	if err != nil {
		return nil, err
	}
	count := 0
	if id != 0 {
		p, err := t.store.Fetch(id, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
		count = int(binfmt.Uint32(p.Data()[duplistCountOff:]))
	}
	dl := &dupList{}
	pos := 0
	for pos < len(raw) && len(dl.entries) < count {
		if pos+dupEntryHeaderSize > len(raw) {
			break
		}
		flags := raw[pos]
		n := int(binfmt.Uint16(raw[pos+1:]))
		pos += dupEntryHeaderSize
		if pos+n > len(raw) {
			break
		}
		dl.entries = append(dl.entries, dupEntry{flags: flags, payload: append([]byte(nil), raw[pos:pos+n]...)})
		pos += n
	}
	return dl, nil
}

// readChain concatenates the raw payload bytes of every page in a
// duplist chain (mirrors blobstore.Manager.Read's chain-walk, duplicated
// here to avoid a cross-package dependency on blobstore's private blob
// layout, which differs from duplist's entry-framed layout).
func (t *Btree) readChain(id uint64, cs *pagestore.Changeset) ([]byte, error) {
	if id == 0 {
		return nil, nil
	}
	p, err := t.store.Fetch(id, pagestore.ReadOnly, cs)
	if err != nil {
		return nil, err
	}
	d := p.Data()
	total := binfmt.Uint32(d[duplistCountOff:])
	_ = total // entry count is informational; chain length is data-driven
	var out []byte
	cur := p
	for {
		cd := cur.Data()
		out = append(out, cd[duplistDataOff:]...)
		next := binfmt.Uint64(cd[duplistNextOff:])
		if next == 0 {
			break
		}
		cur, err = t.store.Fetch(next, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
	}
	return trimTrailingZeros(out), nil
}

// trimTrailingZeros returns the buffer unchanged: the padding at the
// tail of the last page is left in place, and readDupListByID stops
// after the entry count writeDupList stores in the first page's header,
// so the padding is never decoded as entries.
func trimTrailingZeros(b []byte) []byte { return b }

// writeDupList serialises entries into a fresh chain of duplist pages,
// storing the entry count in the first page's header, and returns the
// chain's id (the id of its first page).
func (t *Btree) writeDupList(entries []dupEntry, cs *pagestore.Changeset) (uint64, error) {
	var body []byte
	for _, e := range entries {
		body = append(body, e.flags)
		body = append(body, uint16ToBytes(uint16(len(e.payload)))...)
		body = append(body, e.payload...)
	}

	capacity := t.dupEntryCapacity()
	if capacity <= 0 {
		return 0, ErrInvalidRecordSize
	}

	var pages []*pagestore.Page
	remaining := body
	for {
		p, err := t.store.AllocatePage(pagestore.PageTypeDupList, cs)
		if err != nil {
			for _, prev := range pages {
				t.store.FreePage(prev, cs)
			}
			return 0, err
		}
		pages = append(pages, p)
		n := len(remaining)
		if n > capacity {
			n = capacity
		}
		copy(p.Data()[duplistDataOff:], remaining[:n])
		remaining = remaining[n:]
		if len(remaining) == 0 {
			break
		}
	}
	for i, p := range pages {
		d := p.Data()
		if i == 0 {
			binfmt.PutUint32(d[duplistCountOff:], uint32(len(entries)))
		}
		var next uint64
		if i+1 < len(pages) {
			next = pages[i+1].ID()
		}
		binfmt.PutUint64(d[duplistNextOff:], next)
		p.MarkDirty()
	}
	return pages[0].ID(), nil
}

func uint16ToBytes(v uint16) []byte {
	b := make([]byte, 2)
	binfmt.PutUint16(b, v)
	return b
}

func (t *Btree) freeDupList(payload []byte, cs *pagestore.Changeset) error {
	id := beUint64(payload)
	for id != 0 {
		p, err := t.store.Fetch(id, pagestore.ReadWrite, cs)
		if err != nil {
			return err
		}
		next := binfmt.Uint64(p.Data()[duplistNextOff:])
		if err := t.store.FreePage(p, cs); err != nil {
			return err
		}
		id = next
	}
	return nil
}

// readDupEntry materialises one duplicate's value, resolving a blob
// indirection if the entry's payload exceeds the inline threshold.
func (t *Btree) readDupEntry(e dupEntry, cs *pagestore.Changeset) ([]byte, error) {
	switch e.flags {
	case recInline:
		return append([]byte(nil), e.payload...), nil
	case recBlob:
		return t.blobs.Read(beUint64(e.payload), cs)
	default:
		return nil, ErrIntegrityViolated
	}
}

func (t *Btree) encodeDupEntry(record []byte, cs *pagestore.Changeset) (dupEntry, error) {
	if len(record) <= t.maxInline {
		return dupEntry{flags: recInline, payload: record}, nil
	}
	blobID, err := t.blobs.Allocate(record, cs)
	if err != nil {
		return dupEntry{}, err
	}
	return dupEntry{flags: recBlob, payload: uint64ToBytes(blobID)}, nil
}

// spliceDupEntry inserts ne at position at (clamped to the existing
// slice's bounds), used for DuplicateInsertBefore/After which place a
// new duplicate relative to an existing one rather than at either end.
func spliceDupEntry(entries []dupEntry, at int, ne dupEntry) []dupEntry {
	if at < 0 {
		at = 0
	}
	if at > len(entries) {
		at = len(entries)
	}
	out := make([]dupEntry, 0, len(entries)+1)
	out = append(out, entries[:at]...)
	out = append(out, ne)
	out = append(out, entries[at:]...)
	return out
}

// addDuplicateInPlace appends/prepends/inserts record into the existing
// duplicate set for a leaf item, converting a single-record item into a
// recDupList item on its first duplicate (spec.md §4.5 insertion modes:
// Duplicate==last, DuplicateInsertFirst/Last/Before/After). dupIndex is
// the 0-based index into dl.entries that Before/After insert relative
// to — the same indexing Erase already uses for its own dupIndex.
func (t *Btree) addDuplicateInPlace(it *leafItem, record []byte, dupIndex uint32, flags InsertFlag, cs *pagestore.Changeset) error {
	var dl *dupList
	switch it.flags {
	case recInline, recBlob:
		dl = &dupList{entries: []dupEntry{{flags: it.flags, payload: it.payload}}}
	case recDupList:
		var err error
		dl, err = t.readDupList(it.payload, cs)
		if err != nil {
			return err
		}
		if err := t.freeDupList(it.payload, cs); err != nil {
			return err
		}
	}

	ne, err := t.encodeDupEntry(record, cs)
	if err != nil {
		return err
	}

	switch {
	case flags&DuplicateInsertFirst != 0:
		dl.entries = append([]dupEntry{ne}, dl.entries...)
	case flags&(Duplicate|DuplicateInsertLast) != 0:
		dl.entries = append(dl.entries, ne)
	case flags&DuplicateInsertBefore != 0:
		dl.entries = spliceDupEntry(dl.entries, int(dupIndex), ne)
	case flags&DuplicateInsertAfter != 0:
		dl.entries = spliceDupEntry(dl.entries, int(dupIndex)+1, ne)
	default:
		dl.entries = append(dl.entries, ne)
	}

	chainID, err := t.writeDupList(dl.entries, cs)
	if err != nil {
		return err
	}
	it.flags = recDupList
	it.payload = uint64ToBytes(chainID)
	return nil
}
