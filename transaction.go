package ridgekv

import (
	"github.com/ridgekv/ridgekv/internal/txn"
)

// Transaction is a handle returned by Environment.BeginTxn (spec.md §6.2
// "begin_txn"/"commit"/"abort"). Every Insert/Find/Erase/CursorCreate
// call that is handed a Transaction stages its effect in the owning
// Database's transactional overlay until Commit flushes it into the
// B+tree; a nil Transaction means "auto-commit", applying immediately.
type Transaction struct {
	env     *Environment
	inner   *txn.Transaction
	touched map[uint16]*Database
}

func (t *Transaction) markTouched(db *Database) {
	if _, ok := t.touched[db.nameID]; !ok {
		t.touched[db.nameID] = db
	}
}

// Name returns the transaction's name, auto-generated if BeginTxn was
// called with an empty string.
func (t *Transaction) Name() string { return t.inner.Name }

// Commit durably records every staged op and applies the ones that are
// now safe to flush into their databases' B+trees.
func (t *Transaction) Commit() error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()

	if err := t.env.txnMgr.Commit(t.inner); err != nil {
		return wrapErr(ErrTxnStillOpen, "commit", err)
	}
	if err := t.env.journal.AppendTxnCommit(t.inner.ID, t.inner.CommitLSN()); err != nil {
		return wrapErr(ErrIO, "journal commit", err)
	}
	for _, db := range t.touched {
		if err := db.flushCommittedLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Abort discards every op the transaction staged, leaving the databases
// it touched exactly as they were before BeginTxn.
func (t *Transaction) Abort() error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()

	if err := t.env.txnMgr.Abort(t.inner); err != nil {
		return wrapErr(ErrTxnStillOpen, "abort", err)
	}
	if err := t.env.journal.AppendTxnAbort(t.inner.ID, 0); err != nil {
		return wrapErr(ErrIO, "journal abort", err)
	}
	for _, db := range t.touched {
		db.txnIndex.MarkAborted(t.inner)
	}
	return nil
}
