package pagestore

import "github.com/ridgekv/ridgekv/internal/binfmt"

// Free-list node layout, grounded on the teacher's FreeList (head/total/
// freePages in refactor_code/internal/storage/disk/page_manager.go),
// adapted from a single flat array into a linked chain of pages so an
// arbitrarily large free list fits without a dedicated size limit:
//
//	offset  size  field
//	0       2     type tag (PageTypeFreeList)
//	2       2     count of page-ids in this node
//	4       8     next free-list node page-id (0 = end of chain)
//	12      ...   count * 8 bytes of free page-ids
const (
	flCountOff = 2
	flNextOff  = 4
	flItemsOff = 12
)

func flCapacity(pageSize uint32) int {
	return int(pageSize-checksumSize-flItemsOff) / 8
}

// popFree removes and returns one page-id from the free list, or ok=false
// if the list is empty. Mirrors the teacher's reuse-before-append policy
// (FreeList.get consumes freed pages before the store appends new ones).
func (s *Store) popFree(cs *Changeset) (uint64, bool, error) {
	if s.hdr.freeListHead == 0 {
		return 0, false, nil
	}
	node, err := s.fetchRaw(s.hdr.freeListHead, cs)
	if err != nil {
		return 0, false, err
	}
	d := node.Data()
	count := binfmt.Uint16(d[flCountOff:])
	if count == 0 {
		next := binfmt.Uint64(d[flNextOff:])
		freed := s.hdr.freeListHead
		s.hdr.freeListHead = next
		s.dirtyHeader = true
		if next == 0 {
			return freed, true, nil
		}
		return s.popFree(cs)
	}
	count--
	off := flItemsOff + int(count)*8
	id := binfmt.Uint64(d[off:])
	binfmt.PutUint16(d[flCountOff:], count)
	node.MarkDirty()
	cs.touch(node)
	return id, true, nil
}

// pushFree appends id to the free list, creating a new list node if the
// current head is full or absent.
func (s *Store) pushFree(cs *Changeset, id uint64) error {
	cap := flCapacity(s.pageSize)
	if s.hdr.freeListHead != 0 {
		node, err := s.fetchRaw(s.hdr.freeListHead, cs)
		if err != nil {
			return err
		}
		d := node.Data()
		count := binfmt.Uint16(d[flCountOff:])
		if int(count) < cap {
			off := flItemsOff + int(count)*8
			binfmt.PutUint64(d[off:], id)
			binfmt.PutUint16(d[flCountOff:], count+1)
			node.MarkDirty()
			cs.touch(node)
			return nil
		}
	}
	// Head full or absent: id itself becomes a fresh list node pointing
	// at the previous head. This is why free-list nodes never need to be
	// "allocated" through the free list itself (that would recurse).
	node, err := s.newPageRaw(id, cs)
	if err != nil {
		return err
	}
	d := node.Data()
	binfmt.PutUint16(d[0:], PageTypeFreeList)
	binfmt.PutUint16(d[flCountOff:], 0)
	binfmt.PutUint64(d[flNextOff:], s.hdr.freeListHead)
	node.MarkDirty()
	cs.touch(node)
	s.hdr.freeListHead = id
	s.dirtyHeader = true
	return nil
}
