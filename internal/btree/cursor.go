package btree

import (
	"fmt"

	"github.com/ridgekv/ridgekv/internal/pagestore"
)

// cursorState is the three-state machine spec.md §4.2 requires: a fresh
// cursor is Nil, a successful find/move couples it to a concrete
// (page, slot, dup_index), and uncouple turns a coupled cursor into a
// standalone copy of the key it was last pointing at. Splits, merges
// and erases do not uncouple cursors: a cursor coupled to a page that a
// mutation rewrites or frees keeps its old (page, slot) binding.
type cursorState int

const (
	cursorNil cursorState = iota
	cursorCoupled
	cursorUncoupled
)

// MoveFlag selects the direction/behaviour of Cursor.Move (spec.md §4.2).
type MoveFlag uint32

const (
	MoveFirst MoveFlag = 1 << iota
	MoveLast
	MoveNext
	MovePrevious
	SkipDuplicates
)

// Cursor walks one Btree's keys (and, within a key, its duplicates),
// grounded on the teacher's BIter but reworked from a path-copying
// functional iterator into the tri-state cursor spec.md names
// (original_source/src/btree_cursor.cc's coupled/uncoupled split).
// Cursors are not registered with the pages they point at, and there is
// no broadcast that uncouples every cursor on a page.
type Cursor struct {
	tree  *Btree
	state cursorState

	pageID   uint64
	slot     uint16
	dupIndex uint32

	uncoupledKey []byte
}

// NewCursor returns a fresh, Nil-state cursor over tree.
func NewCursor(tree *Btree) *Cursor { return &Cursor{tree: tree} }

func (c *Cursor) IsNil() bool { return c.state == cursorNil }

// Clone copies a cursor's current position without sharing state.
func (c *Cursor) Clone() *Cursor {
	nc := &Cursor{tree: c.tree, state: c.state, pageID: c.pageID, slot: c.slot, dupIndex: c.dupIndex}
	if c.uncoupledKey != nil {
		nc.uncoupledKey = append([]byte(nil), c.uncoupledKey...)
	}
	return nc
}

// currentKey returns the key the cursor currently addresses, fetching
// the coupled page if needed.
func (c *Cursor) currentKey(cs *pagestore.Changeset) ([]byte, error) {
	switch c.state {
	case cursorUncoupled:
		return c.uncoupledKey, nil
	case cursorCoupled:
		n, err := c.tree.fetch(c.pageID, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
		if c.slot >= n.nkeys() {
			return nil, ErrCursorIsNil
		}
		return n.leafKey(c.slot), nil
	default:
		return nil, ErrCursorIsNil
	}
}

// uncouple drops the page/slot binding, retaining a private copy of the
// key so the cursor can still answer PointsTo and can be re-coupled by a
// subsequent Find. No code in the module calls it: the insert and erase
// paths rebuild or free pages without uncoupling the cursors coupled to
// them.
func (c *Cursor) uncouple(cs *pagestore.Changeset) {
	if c.state != cursorCoupled {
		return
	}
	key, err := c.currentKey(cs)
	if err != nil {
		c.state = cursorNil
		return
	}
	c.uncoupledKey = append([]byte(nil), key...)
	c.state = cursorUncoupled
}

// Find couples the cursor to key (or the nearest approximate match per
// flags), mirroring Btree.Find's semantics but leaving the cursor
// positioned on success.
func (c *Cursor) Find(key []byte, flags FindFlag, cs *pagestore.Changeset) (*Record, error) {
	root := c.tree.rootPageID()
	if root == 0 {
		c.state = cursorNil
		return nil, ErrKeyNotFound
	}
	pageID := root
	for {
		n, err := c.tree.fetch(pageID, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
		if n.isLeaf() {
			idx, exact := c.tree.lookupLeaf(n, key)
			var approx Approx
			switch {
			case exact:
				approx = ApproxNone
			case flags&FindExact != 0 || flags == 0:
				c.state = cursorNil
				return nil, ErrKeyNotFound
			case flags&(FindLT|FindLEQ) != 0:
				if idx == 0 {
					c.state = cursorNil
					return nil, ErrKeyNotFound
				}
				idx--
				approx = ApproxLT
			case flags&(FindGT|FindGEQ) != 0:
				if idx >= n.nkeys() {
					c.state = cursorNil
					return nil, ErrKeyNotFound
				}
				approx = ApproxGT
			default:
				c.state = cursorNil
				return nil, ErrKeyNotFound
			}
			rec, err := c.tree.buildRecord(n, idx, approx, cs)
			if err != nil {
				return nil, err
			}
			c.state = cursorCoupled
			c.pageID = pageID
			c.slot = idx
			c.dupIndex = 0
			return rec, nil
		}
		sep := c.tree.lookupInternal(n, key)
		pageID = n.child(uint16(sep + 1))
	}
}

// Move repositions the cursor per flags (spec.md §4.2's
// First/Last/Next/Previous, optionally SkipDuplicates to step past the
// remaining duplicates of the current key).
func (c *Cursor) Move(flags MoveFlag, cs *pagestore.Changeset) (*Record, error) {
	switch {
	case flags&MoveFirst != 0:
		return c.moveFirst(cs)
	case flags&MoveLast != 0:
		return c.moveLast(cs)
	case flags&MoveNext != 0:
		return c.moveNext(flags&SkipDuplicates != 0, cs)
	case flags&MovePrevious != 0:
		return c.movePrevious(flags&SkipDuplicates != 0, cs)
	default:
		return nil, fmt.Errorf("btree: Move requires a direction flag")
	}
}

func (c *Cursor) moveFirst(cs *pagestore.Changeset) (*Record, error) {
	root := c.tree.rootPageID()
	if root == 0 {
		c.state = cursorNil
		return nil, ErrKeyNotFound
	}
	leafID, err := c.tree.leftmostLeaf(root, cs)
	if err != nil {
		return nil, err
	}
	n, err := c.tree.fetch(leafID, pagestore.ReadOnly, cs)
	if err != nil {
		return nil, err
	}
	if n.nkeys() == 0 {
		c.state = cursorNil
		return nil, ErrKeyNotFound
	}
	rec, err := c.tree.buildRecord(n, 0, ApproxNone, cs)
	if err != nil {
		return nil, err
	}
	c.state, c.pageID, c.slot, c.dupIndex = cursorCoupled, leafID, 0, 0
	return rec, nil
}

func (c *Cursor) moveLast(cs *pagestore.Changeset) (*Record, error) {
	root := c.tree.rootPageID()
	if root == 0 {
		c.state = cursorNil
		return nil, ErrKeyNotFound
	}
	pageID := root
	for {
		n, err := c.tree.fetch(pageID, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
		if n.isLeaf() {
			if n.nkeys() == 0 {
				c.state = cursorNil
				return nil, ErrKeyNotFound
			}
			idx := n.nkeys() - 1
			rec, err := c.tree.buildRecord(n, idx, ApproxNone, cs)
			if err != nil {
				return nil, err
			}
			c.state, c.pageID, c.slot = cursorCoupled, pageID, idx
			if rec.DupCount > 0 {
				c.dupIndex = rec.DupCount - 1
			}
			return rec, nil
		}
		pageID = n.child(n.nkeys())
	}
}

func (c *Cursor) requireCoupled(cs *pagestore.Changeset) (node, error) {
	if c.state == cursorUncoupled {
		// Re-find the key to re-couple before stepping.
		if _, err := c.Find(c.uncoupledKey, FindGEQ, cs); err != nil {
			return node{}, err
		}
	}
	if c.state != cursorCoupled {
		return node{}, ErrCursorIsNil
	}
	return c.tree.fetch(c.pageID, pagestore.ReadOnly, cs)
}

func (c *Cursor) moveNext(skipDup bool, cs *pagestore.Changeset) (*Record, error) {
	n, err := c.requireCoupled(cs)
	if err != nil {
		return nil, err
	}
	if !skipDup {
		rec, err := c.tree.buildRecord(n, c.slot, ApproxNone, cs)
		if err == nil && c.dupIndex+1 < rec.DupCount {
			c.dupIndex++
			return c.recordAtDup(n, c.slot, c.dupIndex, cs)
		}
	}
	if c.slot+1 < n.nkeys() {
		c.slot++
		c.dupIndex = 0
		return c.tree.buildRecord(n, c.slot, ApproxNone, cs)
	}
	right := n.rightSibling()
	for right != 0 {
		rn, err := c.tree.fetch(right, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
		if rn.nkeys() > 0 {
			c.pageID, c.slot, c.dupIndex = right, 0, 0
			return c.tree.buildRecord(rn, 0, ApproxNone, cs)
		}
		right = rn.rightSibling()
	}
	c.state = cursorNil
	return nil, ErrKeyNotFound
}

func (c *Cursor) movePrevious(skipDup bool, cs *pagestore.Changeset) (*Record, error) {
	n, err := c.requireCoupled(cs)
	if err != nil {
		return nil, err
	}
	if !skipDup && c.dupIndex > 0 {
		c.dupIndex--
		return c.recordAtDup(n, c.slot, c.dupIndex, cs)
	}
	if c.slot > 0 {
		c.slot--
		rec, err := c.tree.buildRecord(n, c.slot, ApproxNone, cs)
		if err != nil {
			return nil, err
		}
		if rec.DupCount > 0 {
			c.dupIndex = rec.DupCount - 1
		}
		return rec, nil
	}
	left := n.leftSibling()
	for left != 0 {
		ln, err := c.tree.fetch(left, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
		if ln.nkeys() > 0 {
			idx := ln.nkeys() - 1
			c.pageID, c.slot = left, idx
			rec, err := c.tree.buildRecord(ln, idx, ApproxNone, cs)
			if err != nil {
				return nil, err
			}
			if rec.DupCount > 0 {
				c.dupIndex = rec.DupCount - 1
			}
			return rec, nil
		}
		left = ln.leftSibling()
	}
	c.state = cursorNil
	return nil, ErrKeyNotFound
}

// recordAtDup returns the record at a specific duplicate index of the
// key at n's slot idx, refreshing DupCount for the caller.
func (c *Cursor) recordAtDup(n node, idx uint16, dupIdx uint32, cs *pagestore.Changeset) (*Record, error) {
	flags := n.leafRecFlags(idx)
	if flags != recDupList {
		return c.tree.buildRecord(n, idx, ApproxNone, cs)
	}
	dl, err := c.tree.readDupList(n.leafPayload(idx), cs)
	if err != nil {
		return nil, err
	}
	if int(dupIdx) >= len(dl.entries) {
		return nil, ErrKeyNotFound
	}
	v, err := c.tree.readDupEntry(dl.entries[dupIdx], cs)
	if err != nil {
		return nil, err
	}
	return &Record{Key: append([]byte(nil), n.leafKey(idx)...), Value: v, DupCount: uint32(len(dl.entries))}, nil
}

// PointsTo reports whether the cursor currently addresses key (used by
// callers that need to detect whether a just-completed Find landed
// exactly versus approximately).
func (c *Cursor) PointsTo(key []byte, cs *pagestore.Changeset) bool {
	cur, err := c.currentKey(cs)
	if err != nil {
		return false
	}
	return c.tree.cmp(cur, key) == 0
}

// DuplicateCount returns how many records the cursor's current key has.
func (c *Cursor) DuplicateCount(cs *pagestore.Changeset) (uint32, error) {
	if c.state == cursorNil {
		return 0, ErrCursorIsNil
	}
	key, err := c.currentKey(cs)
	if err != nil {
		return 0, err
	}
	rec, err := c.tree.Find(key, FindExact, cs)
	if err != nil {
		return 0, err
	}
	return rec.DupCount, nil
}

// Erase removes the record the cursor currently addresses (its exact
// duplicate slot if the key has duplicates), leaving the cursor Nil —
// spec.md §4.2 requires callers to Find/Move again afterward, since the
// owning leaf may have been rebuilt or freed.
func (c *Cursor) Erase(eraseFlags EraseFlag, cs *pagestore.Changeset) error {
	if c.state == cursorNil {
		return ErrCursorIsNil
	}
	key, err := c.currentKey(cs)
	if err != nil {
		return err
	}
	dupIdx := c.dupIndex
	c.state = cursorNil
	return c.tree.Erase(key, dupIdx, eraseFlags, cs)
}
