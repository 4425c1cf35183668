// Package btree implements the on-disk B+tree index (spec.md §4.1,
// §4.2): BtreeNode, Btree, and BtreeCursor. Grounded directly on
// refactor_code/internal/storage/btree/{node,operations,iterator}.go —
// the same "rebuild the whole node on every mutation" technique (no
// in-place slot compaction), the same type+nkeys+pointers+offsets
// slotted header, generalized to duplicate-aware leaf items and to the
// explicit sibling-link / ptr-down header fields spec.md §6.3 names.
package btree

import (
	"fmt"

	"github.com/ridgekv/ridgekv/internal/binfmt"
)

// Node kinds, stored in the 2-byte type tag every page carries.
const (
	KindInternal uint16 = 1
	KindLeaf     uint16 = 2
)

// Leaf record-locator kinds (record_flags in spec.md §6.3's item layout).
const (
	recInline  uint8 = 0 // payload holds the record bytes directly
	recBlob    uint8 = 1 // payload is an 8-byte blob-id
	recDupList uint8 = 2 // payload is an 8-byte duplist-id
)

// Common header: type(2) nkeys(2).
const commonHeaderSize = 4

// Leaf header adds: leftSibling(8) rightSibling(8) lsn(8).
const leafHeaderSize = commonHeaderSize + 8 + 8 + 8

// Internal header adds: ptrDown(8).
const internalHeaderSize = commonHeaderSize + 8

const maxInlineRecord = 255

// node is a thin, mutable view over one page's payload bytes (the
// teacher's BNode, generalized). It never owns the backing array.
type node struct {
	data []byte
}

func newNode(data []byte) node { return node{data: data} }

func (n node) kind() uint16 { return binfmt.Uint16(n.data[0:2]) }
func (n node) nkeys() uint16 { return binfmt.Uint16(n.data[2:4]) }

func (n node) setHeader(kind, nkeys uint16) {
	binfmt.PutUint16(n.data[0:2], kind)
	binfmt.PutUint16(n.data[2:4], nkeys)
}

func (n node) isLeaf() bool { return n.kind() == KindLeaf }

func (n node) headerSize() int {
	if n.isLeaf() {
		return leafHeaderSize
	}
	return internalHeaderSize
}

// Leaf-only header fields.
func (n node) leftSibling() uint64  { return binfmt.Uint64(n.data[4:12]) }
func (n node) rightSibling() uint64 { return binfmt.Uint64(n.data[12:20]) }
func (n node) lsn() uint64          { return binfmt.Uint64(n.data[20:28]) }

func (n node) setLeftSibling(v uint64)  { binfmt.PutUint64(n.data[4:12], v) }
func (n node) setRightSibling(v uint64) { binfmt.PutUint64(n.data[12:20], v) }
func (n node) setLSN(v uint64)          { binfmt.PutUint64(n.data[20:28], v) }

// Internal-only header field: the leftmost child, for keys less than
// item 0's separator.
func (n node) ptrDown() uint64     { return binfmt.Uint64(n.data[4:12]) }
func (n node) setPtrDown(v uint64) { binfmt.PutUint64(n.data[4:12], v) }

// offsets array: nkeys * 2 bytes of cumulative end-offsets, immediately
// following the type-specific header (teacher's offsetPos/getOffset).
func (n node) offsetPos(idx uint16) int { return n.headerSize() + int(idx-1)*2 }

func (n node) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binfmt.Uint16(n.data[n.offsetPos(idx):])
}

func (n node) setOffset(idx, val uint16) {
	binfmt.PutUint16(n.data[n.offsetPos(idx):], val)
}

// kvPos returns the byte offset (from the start of the page) where
// item idx begins.
func (n node) kvPos(idx uint16) int {
	return n.headerSize() + int(n.nkeys())*2 + int(n.getOffset(idx))
}

// nbytes is the total size of the node's used region.
func (n node) nbytes() int { return n.kvPos(n.nkeys()) }

// --- Leaf items: key_size(2) key record_flags(1) payload ---

func (n node) leafKey(idx uint16) []byte {
	pos := n.kvPos(idx)
	klen := binfmt.Uint16(n.data[pos:])
	return n.data[pos+2:][:klen]
}

func (n node) leafRecFlags(idx uint16) uint8 {
	pos := n.kvPos(idx)
	klen := binfmt.Uint16(n.data[pos:])
	return n.data[pos+2+int(klen):][0]
}

// leafPayload returns the raw record-locator payload following the
// record_flags byte (inline bytes, an 8-byte blob-id, or an 8-byte
// duplist-id).
func (n node) leafPayload(idx uint16) []byte {
	pos := n.kvPos(idx)
	klen := binfmt.Uint16(n.data[pos:])
	flagsPos := pos + 2 + int(klen)
	payloadStart := flagsPos + 1
	return n.data[payloadStart:n.itemEnd(idx)]
}

func (n node) itemEnd(idx uint16) int {
	return n.headerSize() + int(n.nkeys())*2 + int(n.getOffset(idx+1))
}

func (n node) itemSize(idx uint16) int { return n.itemEnd(idx) - n.kvPos(idx) }

// --- Internal items: key_size(2) key child_page_id(8) ---

func (n node) internalKey(idx uint16) []byte {
	pos := n.kvPos(idx)
	klen := binfmt.Uint16(n.data[pos:])
	return n.data[pos+2:][:klen]
}

func (n node) internalChild(idx uint16) uint64 {
	pos := n.kvPos(idx)
	klen := binfmt.Uint16(n.data[pos:])
	return binfmt.Uint64(n.data[pos+2+int(klen):])
}

// child returns the child page-id to descend into for item idx, where
// idx == 0 uses ptrDown and idx > 0 uses the (idx-1)th item's child
// (separator i routes keys >= separator[i] into child i's subtree,
// mirroring the teacher's getPtr(idx) addressing by the same index as
// the separator key).
func (n node) child(idx uint16) uint64 {
	if idx == 0 {
		return n.ptrDown()
	}
	return n.internalChild(idx - 1)
}

// appendLeaf writes one leaf item at logical position idx into a node
// being built from scratch (nodeAppendKV's generalisation).
func (n node) appendLeaf(idx uint16, key []byte, recFlags uint8, payload []byte) {
	pos := n.kvPos(idx)
	binfmt.PutUint16(n.data[pos:], uint16(len(key)))
	copy(n.data[pos+2:], key)
	n.data[pos+2+len(key)] = recFlags
	copy(n.data[pos+2+len(key)+1:], payload)
	end := pos + 2 + len(key) + 1 + len(payload)
	n.setOffset(idx+1, uint16(end-n.headerSize()-int(n.nkeys())*2))
}

// appendInternal writes one internal item (separator_key, child) at
// logical position idx.
func (n node) appendInternal(idx uint16, key []byte, child uint64) {
	pos := n.kvPos(idx)
	binfmt.PutUint16(n.data[pos:], uint16(len(key)))
	copy(n.data[pos+2:], key)
	binfmt.PutUint64(n.data[pos+2+len(key):], child)
	end := pos + 2 + len(key) + 8
	n.setOffset(idx+1, uint16(end-n.headerSize()-int(n.nkeys())*2))
}

func validateFits(pageSize int, used int) error {
	if used > pageSize {
		return fmt.Errorf("%w: node would exceed page size (%d > %d)", ErrIntegrityViolated, used, pageSize)
	}
	return nil
}
