// Package union implements UnionCursor and DupCache (spec.md §3, §4.6):
// the merged view of a Btree's committed, on-disk state and a
// transaction's pending overlay (internal/txn.Index) that every
// Database-level cursor actually walks.
//
// Grounded on the teacher's BIter in spirit (a cursor that knows how to
// step forward/back through an ordered structure) but with no direct
// teacher equivalent for the merge itself, since the teacher has no
// transactional overlay at all; the merge/switch-side logic follows
// original_source/src/btree_cursor.cc and txn_cursor.cc's "union" of a
// btree-side and txn-side cursor. Find consults the txn side first,
// since it is always the more recent state. Move walks the keys of the
// Btree side only, checking each against the overlay; a key that exists
// solely as a pending transaction insert is reached by Find, not by
// Move.
package union

import (
	"errors"

	"github.com/ridgekv/ridgekv/internal/btree"
	"github.com/ridgekv/ridgekv/internal/pagestore"
	"github.com/ridgekv/ridgekv/internal/txn"
)

// ErrWriteConflict is returned when a key's newest pending op belongs to
// a different, still-active transaction (spec.md §4.4).
var ErrWriteConflict = errors.New("union: write conflict with an active transaction")

// side marks which collaborator currently supplies a UnionCursor's
// position.
type side int

const (
	sideNone side = iota
	sideBtree
	sideTxn
)

// dupCacheEntry is one materialised duplicate: either a committed Btree
// duplicate or a transaction-pending one, normalised to the same shape
// so the cache can be indexed uniformly (spec.md §4.5 "DupCache").
type dupCacheEntry struct {
	fromTxn bool
	value   []byte
	txnOp   *txn.Op
}

// Mirrors options.go's Flag bit layout for DuplicateInsertBefore/After —
// union cannot import the root package (it would be a cyclic import),
// so op.Flags is interpreted against these local copies of the same two
// bits instead.
const (
	flagDuplicateInsertBefore uint32 = 1 << 4
	flagDuplicateInsertAfter  uint32 = 1 << 5
)

// spliceDupCacheEntry inserts e at position at (clamped to the existing
// slice's bounds).
func spliceDupCacheEntry(entries []dupCacheEntry, at int, e dupCacheEntry) []dupCacheEntry {
	if at < 0 {
		at = 0
	}
	if at > len(entries) {
		at = len(entries)
	}
	out := make([]dupCacheEntry, 0, len(entries)+1)
	out = append(out, entries[:at]...)
	out = append(out, e)
	out = append(out, entries[at:]...)
	return out
}

// DupCache is the merged, ordered duplicate list for the cursor's
// current key: the Btree's own duplicates with any transaction-pending
// inserts/erases for that key layered on top, in commit order.
type DupCache struct {
	key     []byte
	entries []dupCacheEntry
}

// rebuild repopulates the cache for key from both collaborators.
func (c *DupCache) rebuild(key []byte, btreeValues [][]byte, txnOps []*txn.Op) {
	c.key = append([]byte(nil), key...)
	c.entries = c.entries[:0]
	for _, v := range btreeValues {
		c.entries = append(c.entries, dupCacheEntry{value: v})
	}
	for _, op := range txnOps {
		switch op.Kind {
		case txn.KindErase:
			if int(op.DupIndex) < len(c.entries) {
				c.entries = append(c.entries[:op.DupIndex], c.entries[op.DupIndex+1:]...)
			}
		case txn.KindInsertDuplicate:
			entry := dupCacheEntry{fromTxn: true, value: op.Value, txnOp: op}
			switch {
			case op.Flags&flagDuplicateInsertBefore != 0:
				c.entries = spliceDupCacheEntry(c.entries, int(op.DupIndex), entry)
			case op.Flags&flagDuplicateInsertAfter != 0:
				c.entries = spliceDupCacheEntry(c.entries, int(op.DupIndex)+1, entry)
			default:
				c.entries = append(c.entries, entry)
			}
		default: // Insert / InsertOverwrite replace the whole set
			c.entries = []dupCacheEntry{{fromTxn: true, value: op.Value, txnOp: op}}
		}
	}
}

func (c *DupCache) count() int { return len(c.entries) }

func (c *DupCache) at(i int) (dupCacheEntry, bool) {
	if i < 0 || i >= len(c.entries) {
		return dupCacheEntry{}, false
	}
	return c.entries[i], true
}

// Cursor merges a btree.Cursor with a transaction Index, presenting the
// single forward/backward sequence a Database cursor walks (spec.md
// §4.6 "UnionCursor").
type Cursor struct {
	tree  *btree.Btree
	index *txn.Index
	btc   *btree.Cursor

	activeSide side
	lastKey    []byte
	dupCache   DupCache
	dupPos     int
}

func NewCursor(tree *btree.Btree, index *txn.Index) *Cursor {
	return &Cursor{tree: tree, index: index, btc: btree.NewCursor(tree)}
}

// Clone returns an independent cursor positioned identically to c.
func (c *Cursor) Clone() *Cursor {
	nc := &Cursor{
		tree:       c.tree,
		index:      c.index,
		btc:        c.btc.Clone(),
		activeSide: c.activeSide,
		dupPos:     c.dupPos,
	}
	if c.lastKey != nil {
		nc.lastKey = append([]byte(nil), c.lastKey...)
	}
	nc.dupCache = DupCache{
		key:     append([]byte(nil), c.dupCache.key...),
		entries: append([]dupCacheEntry(nil), c.dupCache.entries...),
	}
	return nc
}

// visibility reports self's view of key's pending-op chain, nil self
// meaning "read only committed state" (auto-commit reads): ops of
// committed transactions that are not yet flushed are still visible.
func (c *Cursor) visibility(key []byte, self *txn.Transaction) txn.VisibilityResult {
	return c.index.Visible(key, self)
}

// Find couples the union cursor to key, consulting the transaction
// overlay first (it is always the more current state) and falling back
// to the Btree when no pending op covers key.
//
// When flags asks for an approximate match (LT/GT/LEQ/GEQ) and the
// nearest candidate turns out to be erased by a visible transaction
// op, Find keeps stepping in the requested direction until it lands on
// a candidate the caller can actually see, rather than surfacing the
// erased key's own erasure as a plain KeyNotFound (spec.md §8.2 S6).
func (c *Cursor) Find(key []byte, flags btree.FindFlag, self *txn.Transaction, cs *pagestore.Changeset) (*btree.Record, error) {
	approxOK := flags&(btree.FindLT|btree.FindGT|btree.FindLEQ|btree.FindGEQ) != 0

	vis := c.visibility(key, self)
	if vis.Conflict {
		return nil, ErrWriteConflict
	}
	if vis.Found {
		if vis.Deleted && !approxOK {
			return nil, btree.ErrKeyNotFound
		}
		if !vis.Deleted {
			c.activeSide = sideTxn
			c.lastKey = append([]byte(nil), key...)
			if err := c.loadDupCache(key, cs); err != nil {
				return nil, err
			}
			c.dupPos = 0
			return &btree.Record{Key: key, Value: vis.Value, DupCount: uint32(c.dupCache.count())}, nil
		}
	}

	rec, err := c.btc.Find(key, flags, cs)
	if err != nil {
		return nil, err
	}

	dir := btree.MoveNext
	if flags&(btree.FindLT|btree.FindLEQ) != 0 {
		dir = btree.MovePrevious
	}
	stepped := false
	for approxOK {
		v := c.visibility(rec.Key, self)
		if v.Conflict {
			return nil, ErrWriteConflict
		}
		if !(v.Found && v.Deleted) {
			if v.Found {
				rec = &btree.Record{Key: rec.Key, Value: v.Value, DupCount: rec.DupCount, Approx: rec.Approx}
			}
			break
		}
		next, err := c.btc.Move(dir, cs)
		if err != nil {
			return nil, err
		}
		rec = next
		stepped = true
	}
	if stepped {
		if dir == btree.MovePrevious {
			rec.Approx = btree.ApproxLT
		} else {
			rec.Approx = btree.ApproxGT
		}
	}

	c.activeSide = sideBtree
	c.lastKey = append([]byte(nil), rec.Key...)
	if err := c.loadDupCache(rec.Key, cs); err != nil {
		return nil, err
	}
	c.dupPos = 0
	out := c.currentMergedRecord()
	out.Approx = rec.Approx
	return out, nil
}

// btreeDuplicateValues walks the Btree's own on-disk duplicate list for
// key (if key is present there at all) and returns every value, oldest
// first, using a scratch cursor so c.btc's own position is undisturbed.
func (c *Cursor) btreeDuplicateValues(key []byte, cs *pagestore.Changeset) ([][]byte, error) {
	scratch := btree.NewCursor(c.tree)
	rec, err := scratch.Find(key, btree.FindExact, cs)
	if err != nil {
		if errors.Is(err, btree.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	values := [][]byte{rec.Value}
	for i := uint32(1); i < rec.DupCount; i++ {
		next, err := scratch.Move(btree.MoveNext, cs)
		if err != nil {
			return nil, err
		}
		values = append(values, next.Value)
	}
	return values, nil
}

// loadDupCache merges the Btree's own on-disk duplicates for key with
// the transaction's pending duplicate ops layered on top, in commit
// order (spec.md §8.2 S2 "duplicate merging across layers").
func (c *Cursor) loadDupCache(key []byte, cs *pagestore.Changeset) error {
	btreeValues, err := c.btreeDuplicateValues(key, cs)
	if err != nil {
		return err
	}
	ops := c.index.Duplicates(key)
	c.dupCache.rebuild(key, btreeValues, ops)
	return nil
}

// currentMergedRecord builds the Record for c.lastKey's entry at
// c.dupPos in the merged DupCache.
func (c *Cursor) currentMergedRecord() *btree.Record {
	e, ok := c.dupCache.at(c.dupPos)
	if !ok {
		return &btree.Record{Key: c.lastKey, DupCount: uint32(c.dupCache.count())}
	}
	return &btree.Record{Key: c.lastKey, Value: e.value, DupCount: uint32(c.dupCache.count())}
}

// Move steps the merged sequence: first through any remaining merged
// duplicates of the current key (on-disk duplicates and transaction-
// pending ones, in one ordered list), then — once that list is
// exhausted in the requested direction — on to the next distinct key
// via the Btree-side cursor, skipping any key a visible transaction op
// has erased (spec.md §4.6 "switching directions", §8.2 S2/S5).
func (c *Cursor) Move(flags btree.MoveFlag, self *txn.Transaction, cs *pagestore.Changeset) (*btree.Record, error) {
	if c.activeSide != sideNone && c.lastKey != nil {
		if flags&btree.MoveNext != 0 && flags&btree.SkipDuplicates == 0 {
			if c.dupPos+1 < c.dupCache.count() {
				c.dupPos++
				return c.currentMergedRecord(), nil
			}
		}
		if flags&btree.MovePrevious != 0 && flags&btree.SkipDuplicates == 0 {
			if c.dupPos > 0 {
				c.dupPos--
				return c.currentMergedRecord(), nil
			}
		}
	}

	btFlags := flags | btree.SkipDuplicates
	rec, err := c.btc.Move(btFlags, cs)
	for {
		if err != nil {
			return nil, err
		}
		vis := c.visibility(rec.Key, self)
		if vis.Conflict {
			return nil, ErrWriteConflict
		}
		if vis.Found && vis.Deleted {
			rec, err = c.btc.Move(btFlags, cs)
			continue
		}
		break
	}

	c.activeSide = sideBtree
	c.lastKey = append([]byte(nil), rec.Key...)
	if err := c.loadDupCache(rec.Key, cs); err != nil {
		return nil, err
	}
	if flags&btree.MovePrevious != 0 {
		c.dupPos = c.dupCache.count() - 1
		if c.dupPos < 0 {
			c.dupPos = 0
		}
	} else {
		c.dupPos = 0
	}
	return c.currentMergedRecord(), nil
}

// CurrentKey returns the key the union cursor currently addresses.
func (c *Cursor) CurrentKey() []byte { return c.lastKey }

// IsTxnCoupled reports whether the cursor's current position is backed
// by the transaction overlay rather than the Btree.
func (c *Cursor) IsTxnCoupled() bool { return c.activeSide == sideTxn }

// Resync re-validates a Txn-coupled cursor against the overlay: once
// the op it rode in on has been flushed (applied to the Btree and
// unlinked from the index), it re-couples to the Btree at the same key
// instead of continuing to report a stale cached value (spec.md §4.7
// "every coupled TxnCursor is moved to the B+tree").
func (c *Cursor) Resync(self *txn.Transaction, cs *pagestore.Changeset) error {
	if c.activeSide != sideTxn || c.lastKey == nil {
		return nil
	}
	if vis := c.visibility(c.lastKey, self); vis.Found {
		return nil
	}
	rec, err := c.btc.Find(c.lastKey, btree.FindExact, cs)
	if err != nil {
		return err
	}
	c.activeSide = sideBtree
	if err := c.loadDupCache(rec.Key, cs); err != nil {
		return err
	}
	c.dupPos = 0
	return nil
}

// Value returns the value at the cursor's current position, re-syncing
// first in case the op it was coupled to has since been flushed.
func (c *Cursor) Value(self *txn.Transaction, cs *pagestore.Changeset) ([]byte, error) {
	if err := c.Resync(self, cs); err != nil {
		return nil, err
	}
	return c.currentMergedRecord().Value, nil
}

// DuplicateAt returns the merged duplicate at i (0-based), if any.
func (c *Cursor) DuplicateAt(i int) ([]byte, bool) {
	e, ok := c.dupCache.at(i)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// DuplicateCount reports how many merged duplicates the current key has.
func (c *Cursor) DuplicateCount() int { return c.dupCache.count() }

// MergedDupIndex returns the cursor's current position within the
// merged DupCache — what DuplicateInsertBefore/After (spec.md §4.5)
// resolve against when a transaction is staging the new duplicate in
// the overlay, mirroring the reference implementation's
// cursor->get_dupecache_index() captured onto the pending op.
func (c *Cursor) MergedDupIndex() uint32 { return uint32(c.dupPos) }

// PhysicalDupIndex maps the cursor's merged DupCache position back to
// the 0-based index into the Btree's own on-disk duplicate list: the
// index of the last committed (non-txn) entry at or before dupPos. This
// is what DuplicateInsertBefore/After resolve against when inserting
// straight into the Btree (no transaction active, so the merged cache
// and the physical list coincide exactly). If the cursor sits on a
// still-pending transaction duplicate ahead of any physical one, the
// splice lands next to the nearest physical duplicate seen so far
// rather than failing outright, since that duplicate hasn't reached the
// physical list yet for "before/after" to mean anything more precise.
func (c *Cursor) PhysicalDupIndex() uint32 {
	physCount := 0
	for i := 0; i <= c.dupPos && i < len(c.dupCache.entries); i++ {
		if !c.dupCache.entries[i].fromTxn {
			physCount++
		}
	}
	if physCount == 0 {
		return 0
	}
	return uint32(physCount - 1)
}
