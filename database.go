package ridgekv

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgekv/ridgekv/internal/btree"
	"github.com/ridgekv/ridgekv/internal/keycodec"
	"github.com/ridgekv/ridgekv/internal/pagestore"
	"github.com/ridgekv/ridgekv/internal/txn"
	"github.com/ridgekv/ridgekv/internal/wal"
)

// Database is one named B+tree within an Environment (spec.md §6.2
// "create_db"/"open_db"), backed by its own internal/btree.Btree for
// committed state and internal/txn.Index for the transactional overlay
// every Insert/Find/Erase consults first.
type Database struct {
	env    *Environment
	nameID uint16

	tree     *btree.Btree
	txnIndex *txn.Index
	keyDesc  keycodec.Descriptor

	recordSize   uint32
	recordNumber bool
	nextRecord   uint64
}

// Name returns the database's name-id.
func (db *Database) Name() uint16 { return db.nameID }

func toInsertFlag(f Flag) btree.InsertFlag {
	var out btree.InsertFlag
	if f&Overwrite != 0 {
		out |= btree.Overwrite
	}
	if f&Duplicate != 0 {
		out |= btree.Duplicate
	}
	if f&DuplicateInsertFirst != 0 {
		out |= btree.DuplicateInsertFirst
	}
	if f&DuplicateInsertLast != 0 {
		out |= btree.DuplicateInsertLast
	}
	if f&DuplicateInsertBefore != 0 {
		out |= btree.DuplicateInsertBefore
	}
	if f&DuplicateInsertAfter != 0 {
		out |= btree.DuplicateInsertAfter
	}
	if f&HintAppend != 0 {
		out |= btree.HintAppend
	}
	if f&HintPrepend != 0 {
		out |= btree.HintPrepend
	}
	return out
}

func toFindFlag(f Flag) btree.FindFlag {
	var out btree.FindFlag
	switch {
	case f&FindLtMatch != 0:
		out = btree.FindLT
	case f&FindGtMatch != 0:
		out = btree.FindGT
	case f&FindLeqMatch != 0:
		out = btree.FindLEQ
	case f&FindGeqMatch != 0:
		out = btree.FindGEQ
	default:
		out = btree.FindExact
	}
	return out
}

func toEraseFlag(f Flag) btree.EraseFlag {
	var out btree.EraseFlag
	if f&EraseAllDuplicates != 0 {
		out |= btree.EraseAllDuplicates
	}
	return out
}

// txnOpKind maps an insert's flags to the txn.Kind recorded for it.
func txnOpKind(f Flag, exact bool) txn.Kind {
	switch {
	case f.isDuplicateInsert():
		return txn.KindInsertDuplicate
	case exact && f&Overwrite != 0:
		return txn.KindInsertOverwrite
	default:
		return txn.KindInsert
	}
}

func (f Flag) isDuplicateInsert() bool {
	return f&(Duplicate|DuplicateInsertFirst|DuplicateInsertLast|DuplicateInsertBefore|DuplicateInsertAfter) != 0
}

// autoRecordNumberKey returns the next auto-increment key for a
// RecordNumber database (spec.md §9 supplemented feature), encoded as
// the configured key kind's fixed width in little-endian, which is how
// keycodec decodes fixed-width integer keys before comparing them; for
// a variable-length bytes kind it is 8 bytes big-endian, so
// lexicographic byte comparison orders the same as the numeric value.
func (db *Database) autoRecordNumberKey() []byte {
	db.nextRecord++
	buf := make([]byte, 8)
	if n, fixed := db.keyDesc.FixedSize(); fixed {
		binary.LittleEndian.PutUint64(buf, db.nextRecord)
		return buf[:n]
	}
	binary.BigEndian.PutUint64(buf, db.nextRecord)
	return buf
}

// Insert adds or updates key/record per flags (spec.md §6.2 "insert").
// A nil Transaction applies immediately (auto-commit); a non-nil one
// stages the op in the database's transactional overlay until Commit.
//
// DuplicateInsertBefore/After are defined relative to "the cursor's
// current duplicate" (spec.md §4.5) — with no cursor in scope here,
// there is nothing for them to be relative to, so Insert rejects them
// outright, exactly as the reference implementation restricts them to
// its cursor-insert entry point. Use Cursor.Insert for positional
// duplicate insertion.
func (db *Database) Insert(t *Transaction, key, record []byte, flags Flag) error {
	if flags&(DuplicateInsertBefore|DuplicateInsertAfter) != 0 {
		return wrapErr(ErrInvalidParameter, "DuplicateInsertBefore/After require Cursor.Insert", nil)
	}
	return db.insertAt(t, key, 0, record, flags)
}

// insertAt is Insert generalised with an explicit dupIndex, the
// position DuplicateInsertBefore/After resolve against — exposed only
// to Cursor.Insert, which is the sole caller able to supply a
// meaningful one (spec.md §4.5).
func (db *Database) insertAt(t *Transaction, key []byte, dupIndex uint32, record []byte, flags Flag) error {
	if db.recordNumber && len(key) == 0 {
		key = db.autoRecordNumberKey()
	}
	if err := db.validateRecordSize(record, flags); err != nil {
		return err
	}

	if t == nil {
		cs := pagestore.NewChangeset()
		if err := db.tree.Insert(key, record, dupIndex, toInsertFlag(flags), cs); err != nil {
			return translateBtreeErr(err)
		}
		return db.env.flushChangeset(cs)
	}

	vis := db.txnIndex.Visible(key, t.inner)
	if vis.Conflict {
		return conflictErr(0)
	}
	exact := vis.Found
	if !exact {
		if _, err := db.tree.Find(key, btree.FindExact, pagestore.NewChangeset()); err == nil {
			exact = true
		}
	}
	if exact && !flags.isDuplicateInsert() && flags&Overwrite == 0 {
		return wrapErr(ErrDuplicateKey, "", nil)
	}
	lsn := db.env.txnMgr.NextLSN()
	db.txnIndex.Record(key, txnOpKind(flags, exact), record, dupIndex, uint32(flags), lsn, t.inner)
	if err := db.env.journal.AppendInsert(db.nameID, t.inner.ID, key, record, dupIndex, uint32(flags), lsn); err != nil {
		return wrapErr(ErrIO, "journal insert", err)
	}
	t.markTouched(db)
	return nil
}

func (db *Database) validateRecordSize(record []byte, flags Flag) error {
	if db.recordSize == 0 || flags&Partial != 0 {
		return nil
	}
	if uint32(len(record)) != db.recordSize {
		return wrapErr(ErrInvalidRecordSize, fmt.Sprintf("want %d, got %d", db.recordSize, len(record)), nil)
	}
	return nil
}

// Find looks up key, consulting t's pending overlay (or, for
// auto-commit reads, the committed state of every transaction that has
// already committed) before the on-disk tree.
func (db *Database) Find(t *Transaction, key []byte, flags Flag) ([]byte, error) {
	var self *txn.Transaction
	if t != nil {
		self = t.inner
	}
	vis := db.txnIndex.Visible(key, self)
	if vis.Conflict {
		return nil, conflictErr(0)
	}
	if vis.Found {
		if vis.Deleted {
			return nil, wrapErr(ErrKeyNotFound, "", nil)
		}
		return vis.Value, nil
	}
	rec, err := db.tree.Find(key, toFindFlag(flags), pagestore.NewChangeset())
	if err != nil {
		return nil, translateBtreeErr(err)
	}
	return rec.Value, nil
}

// Erase removes key (spec.md §6.2 "erase").
func (db *Database) Erase(t *Transaction, key []byte, flags Flag) error {
	if t == nil {
		cs := pagestore.NewChangeset()
		if err := db.tree.Erase(key, 0, toEraseFlag(flags), cs); err != nil {
			return translateBtreeErr(err)
		}
		return db.env.flushChangeset(cs)
	}

	vis := db.txnIndex.Visible(key, t.inner)
	if vis.Conflict {
		return conflictErr(0)
	}
	if !vis.Found {
		if _, err := db.tree.Find(key, btree.FindExact, pagestore.NewChangeset()); err != nil {
			return translateBtreeErr(err)
		}
	} else if vis.Deleted {
		return wrapErr(ErrKeyNotFound, "", nil)
	}
	lsn := db.env.txnMgr.NextLSN()
	db.txnIndex.Record(key, txn.KindErase, nil, 0, uint32(flags), lsn, t.inner)
	if err := db.env.journal.AppendErase(db.nameID, t.inner.ID, key, 0, uint32(flags), lsn); err != nil {
		return wrapErr(ErrIO, "journal erase", err)
	}
	t.markTouched(db)
	return nil
}

// Count returns the number of keys (or, if !distinct, records including
// duplicates) in the database's on-disk tree. t is not consulted: ops
// still pending in any transaction's overlay, including committed ops
// not yet flushed, are not counted.
func (db *Database) Count(t *Transaction, distinct bool) (uint64, error) {
	n, err := db.tree.Count(distinct, pagestore.NewChangeset())
	if err != nil {
		return 0, translateBtreeErr(err)
	}
	return n, nil
}

// CheckIntegrity walks the database's on-disk tree verifying structural
// invariants (spec.md §4.1 "check_integrity").
func (db *Database) CheckIntegrity() error {
	if err := db.tree.CheckIntegrity(pagestore.NewChangeset()); err != nil {
		return translateBtreeErr(err)
	}
	return nil
}

// CursorCreate opens a new cursor over the database, scoped to t's
// overlay (nil for auto-commit / committed-only visibility).
func (db *Database) CursorCreate(t *Transaction) *Cursor {
	var self *txn.Transaction
	if t != nil {
		self = t.inner
		t.markTouched(db)
	}
	return newCursor(db, self, t)
}

// flushCommittedLocked applies every now-flushable op in this database's
// overlay into the B+tree, called by Environment.Flush and
// Transaction.Commit while env.mu is held.
func (db *Database) flushCommittedLocked() error {
	ops := db.txnIndex.Flushable()
	if len(ops) == 0 {
		return nil
	}
	cs := pagestore.NewChangeset()
	for _, op := range ops {
		if err := db.applyOp(op, cs); err != nil {
			return err
		}
		db.txnIndex.MarkFlushed(op)
		db.env.journal.TransactionFlushed(op.Txn.ID)
	}
	return db.env.flushChangesetLocked(cs)
}

func (db *Database) applyOp(op *txn.Op, cs *pagestore.Changeset) error {
	switch op.Kind {
	case txn.KindErase:
		err := db.tree.Erase(op.Key, op.DupIndex, toEraseFlag(Flag(op.Flags)), cs)
		if err != nil && !isErr(err, btree.ErrKeyNotFound) {
			return translateBtreeErr(err)
		}
		return nil
	default:
		if err := db.tree.Insert(op.Key, op.Value, op.DupIndex, toInsertFlag(Flag(op.Flags)), cs); err != nil {
			return translateBtreeErr(err)
		}
		return nil
	}
}

// applyRecoveredOp replays one durable journal record directly into the
// tree during Environment.Open's recovery pass (spec.md §8.1 invariant
// 8), bypassing the transactional overlay entirely since the owning
// transaction is long gone.
func (db *Database) applyRecoveredOp(r wal.Record, cs *pagestore.Changeset) error {
	switch r.Kind {
	case wal.KindInsert:
		if err := db.tree.Insert(r.Key, r.Record, r.DupIndex, toInsertFlag(Flag(r.Flags)), cs); err != nil && !isErr(err, btree.ErrDuplicateKey) {
			return translateBtreeErr(err)
		}
		return nil
	case wal.KindErase:
		if err := db.tree.Erase(r.Key, r.DupIndex, toEraseFlag(Flag(r.Flags)), cs); err != nil && !isErr(err, btree.ErrKeyNotFound) {
			return translateBtreeErr(err)
		}
		return nil
	}
	return nil
}
