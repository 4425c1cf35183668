package ridgekv

import (
	"github.com/ridgekv/ridgekv/internal/btree"
	"github.com/ridgekv/ridgekv/internal/pagestore"
	"github.com/ridgekv/ridgekv/internal/txn"
	"github.com/ridgekv/ridgekv/internal/union"
)

// Cursor walks one Database's keys (spec.md §6.2 "cursor_create" and
// the Move/Find/Erase trio), merging committed state with its owning
// transaction's pending overlay via internal/union.Cursor.
type Cursor struct {
	db   *Database
	txn  *Transaction
	self *txn.Transaction
	u    *union.Cursor
}

func newCursor(db *Database, self *txn.Transaction, t *Transaction) *Cursor {
	return &Cursor{db: db, txn: t, self: self, u: union.NewCursor(db.tree, db.txnIndex)}
}

func toMoveFlag(f Flag) btree.MoveFlag {
	var out btree.MoveFlag
	if f&moveFirst != 0 {
		out |= btree.MoveFirst
	}
	if f&moveLast != 0 {
		out |= btree.MoveLast
	}
	if f&moveNext != 0 {
		out |= btree.MoveNext
	}
	if f&movePrevious != 0 {
		out |= btree.MovePrevious
	}
	if f&SkipDuplicates != 0 {
		out |= btree.SkipDuplicates
	}
	return out
}

// Cursor-only move direction bits, distinct from the public Flag space
// used by Insert/Find/Erase — spec.md §6.2 scopes First/Last/Next/
// Previous to cursor moves only.
const (
	moveFirst    Flag = 1 << 24
	moveLast     Flag = 1 << 25
	moveNext     Flag = 1 << 26
	movePrevious Flag = 1 << 27
)

const (
	MoveFirst    = moveFirst
	MoveLast     = moveLast
	MoveNext     = moveNext
	MovePrevious = movePrevious
)

// MatchKind reports whether a Cursor.Find that allowed an approximate
// match had to land on a neighbouring key, and in which direction
// (spec.md §8.2 S6 "approximate-match flag").
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchLT
	MatchGT
)

func matchKindOf(a btree.Approx) MatchKind {
	switch a {
	case btree.ApproxLT:
		return MatchLT
	case btree.ApproxGT:
		return MatchGT
	default:
		return MatchExact
	}
}

// Find couples the cursor to key, or (when flags requests an
// approximate match) to the nearest key in the requested direction.
// The returned MatchKind distinguishes an exact hit from a fallback to
// a neighbouring key.
func (c *Cursor) Find(key []byte, flags Flag) ([]byte, MatchKind, error) {
	rec, err := c.u.Find(key, toFindFlag(flags), c.self, pagestore.NewChangeset())
	if err != nil {
		return nil, MatchExact, translateCursorErr(err)
	}
	return rec.Value, matchKindOf(rec.Approx), nil
}

// Move repositions the cursor per flags and returns the key/value it
// now addresses.
func (c *Cursor) Move(flags Flag) ([]byte, []byte, error) {
	rec, err := c.u.Move(toMoveFlag(flags), c.self, pagestore.NewChangeset())
	if err != nil {
		return nil, nil, translateCursorErr(err)
	}
	return rec.Key, rec.Value, nil
}

// DuplicateCount reports how many records the cursor's current key has,
// merging committed duplicates with the owning transaction's pending
// ones.
func (c *Cursor) DuplicateCount() int { return c.u.DuplicateCount() }

// DuplicateAt returns the value of the i'th (0-based) duplicate of the
// cursor's current key.
func (c *Cursor) DuplicateAt(i int) ([]byte, bool) { return c.u.DuplicateAt(i) }

// CurrentKey returns the key the cursor currently addresses.
func (c *Cursor) CurrentKey() []byte { return c.u.CurrentKey() }

// Value returns the record at the cursor's current position, re-syncing
// to the B+tree first if the transaction op it was coupled to has since
// been flushed (spec.md §8.2 S7 "committed flush re-couples cursors").
func (c *Cursor) Value() ([]byte, error) {
	v, err := c.u.Value(c.self, pagestore.NewChangeset())
	if err != nil {
		return nil, translateCursorErr(err)
	}
	return v, nil
}

// IsTxnCoupled reports whether the cursor's current position is backed
// by its owning transaction's pending overlay rather than the B+tree.
func (c *Cursor) IsTxnCoupled() bool { return c.u.IsTxnCoupled() }

// Erase removes the record the cursor currently addresses, delegating
// to Database.Erase so the erase is staged (or applied, for an
// auto-commit cursor) through the same path as a direct call.
func (c *Cursor) Erase(flags Flag) error {
	key := c.u.CurrentKey()
	if key == nil {
		return wrapErr(ErrCursorIsNil, "", nil)
	}
	return c.db.Erase(c.txn, key, flags)
}

// Insert adds record as a new duplicate of the cursor's current key, or
// a brand-new key, per flags (spec.md §4.3 "insert/erase/overwrite ...
// route through the Txn layer when a transaction is active; else
// directly to the Btree"). Unlike Database.Insert, DuplicateInsertBefore
// and DuplicateInsertAfter are meaningful here: they resolve against
// the cursor's own current duplicate (spec.md §4.5), which only a
// cursor — never a bare key — can supply.
func (c *Cursor) Insert(record []byte, flags Flag) error {
	key := c.u.CurrentKey()
	if key == nil {
		return wrapErr(ErrCursorIsNil, "", nil)
	}
	var dupIndex uint32
	if c.txn == nil {
		dupIndex = c.u.PhysicalDupIndex()
	} else {
		dupIndex = c.u.MergedDupIndex()
	}
	return c.db.insertAt(c.txn, key, dupIndex, record, flags)
}

// Overwrite replaces the value of the record the cursor currently
// addresses, without changing key or position.
func (c *Cursor) Overwrite(record []byte) error {
	key := c.u.CurrentKey()
	if key == nil {
		return wrapErr(ErrCursorIsNil, "", nil)
	}
	return c.db.Insert(c.txn, key, record, Overwrite)
}

// Clone returns an independent cursor positioned identically to c.
func (c *Cursor) Clone() *Cursor {
	return &Cursor{db: c.db, txn: c.txn, self: c.self, u: c.u.Clone()}
}

// Close releases the cursor. Cursors hold no resources beyond Go
// memory, so Close only exists to mirror the teacher's own acquire/
// release symmetry at the API boundary.
func (c *Cursor) Close() error { return nil }

func translateCursorErr(err error) error {
	switch {
	case isErr(err, union.ErrWriteConflict):
		return conflictErr(0)
	case isErr(err, btree.ErrKeyNotFound):
		return wrapErr(ErrKeyNotFound, "", err)
	case isErr(err, btree.ErrCursorIsNil):
		return wrapErr(ErrCursorIsNil, "", err)
	default:
		return translateBtreeErr(err)
	}
}
