// Package ridgekv is an embeddable, transactional, ordered key/value
// storage engine: a B+tree index per named database, multiple databases
// per environment file, and snapshot-isolated transactions layered over
// the on-disk tree until they commit (spec.md §1 PURPOSE & SCOPE).
//
// Ambient stack grounded on the teacher (refactor_code/cmd/server and
// its config/logging wiring): github.com/rs/zerolog for structured
// logging, github.com/BurntSushi/toml for the CLI's optional config
// file, and github.com/google/uuid (in internal/txn) for default
// transaction names. Flushing applies committed ops one at a time,
// database by database; nothing runs concurrently.
package ridgekv

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ridgekv/ridgekv/internal/blobstore"
	"github.com/ridgekv/ridgekv/internal/btree"
	"github.com/ridgekv/ridgekv/internal/keycodec"
	"github.com/ridgekv/ridgekv/internal/pagestore"
	"github.com/ridgekv/ridgekv/internal/txn"
	"github.com/ridgekv/ridgekv/internal/wal"
)

// Environment is one open storage file (or in-memory arena) and every
// database, transaction, and cursor opened against it (spec.md §6.2).
type Environment struct {
	mu sync.Mutex

	path    string
	store   *pagestore.Store
	blobs   *blobstore.Manager
	journal *wal.Journal
	txnMgr  *txn.Manager
	log     zerolog.Logger

	databases map[uint16]*Database
}

// Create initializes a brand-new environment. path == "" selects the
// in-memory arena mode spec.md §9 supplements (HAM_IN_MEMORY): no file,
// no journal durability, everything lost on Close.
func Create(path string, opts CreateOptions) (*Environment, error) {
	store, err := pagestore.Create(path, pagestore.CreateOptions{
		PageSize:     opts.PageSize,
		MaxDatabases: opts.MaxDatabases,
		CacheSize:    opts.CacheSize,
	})
	if err != nil {
		return nil, translatePagestoreErr(err)
	}
	journalPath := opts.JournalPath
	if path != "" && journalPath == "" {
		journalPath = path + ".jrnl"
	}
	j, err := wal.Open(journalPath)
	if err != nil {
		store.Close()
		return nil, wrapErr(ErrIO, "open journal", err)
	}
	env := newEnvironment(path, store, j)
	env.log.Info().Str("path", path).Msg("environment created")
	return env, nil
}

// Open attaches to an existing environment file, replaying its journal
// to reconstruct any committed-but-unflushed transactions (spec.md §8.1
// invariant 8 "recovery equivalence").
func Open(path string, opts OpenOptions) (*Environment, error) {
	store, err := pagestore.Open(path, opts.CacheSize)
	if err != nil {
		return nil, translatePagestoreErr(err)
	}
	j, err := wal.Open(path + ".jrnl")
	if err != nil {
		store.Close()
		return nil, wrapErr(ErrIO, "open journal", err)
	}
	env := newEnvironment(path, store, j)
	if err := env.recover(); err != nil {
		env.log.Error().Err(err).Msg("recovery failed")
		return nil, err
	}
	env.log.Info().Str("path", path).Msg("environment opened")
	return env, nil
}

func newEnvironment(path string, store *pagestore.Store, j *wal.Journal) *Environment {
	return &Environment{
		path:      path,
		store:     store,
		blobs:     blobstore.New(store),
		journal:   j,
		txnMgr:    txn.NewManager(),
		log:       zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
		databases: make(map[uint16]*Database),
	}
}

// recover replays every well-formed journal record, applying the ops of
// every transaction whose TxnCommit record made it durably into the log
// before the last crash. A transaction with no commit record is treated
// as if it never happened (spec.md §9 "as if that last append never
// happened").
func (e *Environment) recover() error {
	records, err := e.journal.Recover()
	if err != nil {
		return wrapErr(ErrIO, "journal recovery", err)
	}
	committed := make(map[uint64]bool)
	var byTxn = make(map[uint64][]wal.Record)
	for _, r := range records {
		switch r.Kind {
		case wal.KindTxnCommit:
			committed[r.Txn] = true
		case wal.KindInsert, wal.KindErase:
			byTxn[r.Txn] = append(byTxn[r.Txn], r)
		}
	}
	cs := pagestore.NewChangeset()
	for txnID, ops := range byTxn {
		if !committed[txnID] {
			continue
		}
		for _, op := range ops {
			db, err := e.openDatabaseForRecovery(op.DB)
			if err != nil {
				return err
			}
			if err := db.applyRecoveredOp(op, cs); err != nil {
				return err
			}
		}
	}
	if !cs.Empty() {
		if err := e.store.Flush(cs); err != nil {
			return wrapErr(ErrIO, "flush recovered state", err)
		}
	}
	return nil
}

func (e *Environment) openDatabaseForRecovery(nameID uint16) (*Database, error) {
	if db, ok := e.databases[nameID]; ok {
		return db, nil
	}
	return e.OpenDatabase(nameID)
}

// CreateDatabase reserves a descriptor and an empty root page for a new
// named database.
func (e *Environment) CreateDatabase(nameID uint16, params DatabaseParams) (*Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	desc := pagestore.Descriptor{
		KeyKind:    uint8(params.KeyKind),
		KeyMaxSize: params.KeyMaxSize,
		RecordSize: params.RecordSize,
	}
	if params.RecordNumber {
		desc.Flags |= databaseFlagRecordNumber
	}
	slot, err := e.store.CreateDatabaseDescriptor(nameID, desc)
	if err != nil {
		return nil, translatePagestoreErr(err)
	}
	cs := pagestore.NewChangeset()
	rootPage, err := e.store.AllocatePage(pagestore.PageTypeLeaf, cs)
	if err != nil {
		return nil, translatePagestoreErr(err)
	}
	desc.RootPageID = rootPage.ID()
	e.store.UpdateDescriptor(slot, desc)
	if err := e.store.Flush(cs); err != nil {
		return nil, wrapErr(ErrIO, "flush new database root", err)
	}

	db := e.newDatabaseHandle(nameID, desc, params.KeyKind, params.KeyMaxSize)
	e.databases[nameID] = db
	return db, nil
}

const databaseFlagRecordNumber uint16 = 1 << 0

func (e *Environment) newDatabaseHandle(nameID uint16, desc pagestore.Descriptor, kind KeyKind, maxSize uint32) *Database {
	keyDesc := keycodec.Descriptor{Kind: keycodec.Kind(kind), MaxSize: maxSize}
	bt := btree.New(e.store, e.blobs, nameID, keyDesc)
	return &Database{
		env:          e,
		nameID:       nameID,
		tree:         bt,
		txnIndex:     txn.NewIndex(keyDesc.Compare),
		keyDesc:      keyDesc,
		recordSize:   desc.RecordSize,
		recordNumber: desc.Flags&databaseFlagRecordNumber != 0,
	}
}

// flushChangeset writes cs to the store under the environment lock.
func (e *Environment) flushChangeset(cs *pagestore.Changeset) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushChangesetLocked(cs)
}

// flushChangesetLocked writes cs to the store; callers must already
// hold e.mu.
func (e *Environment) flushChangesetLocked(cs *pagestore.Changeset) error {
	if cs.Empty() {
		return nil
	}
	if err := e.store.Flush(cs); err != nil {
		return wrapErr(ErrIO, "flush", err)
	}
	return nil
}

// OpenDatabase attaches to an already-created database by name.
func (e *Environment) OpenDatabase(nameID uint16) (*Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.databases[nameID]; ok {
		return db, nil
	}
	desc, _, ok := e.store.DescriptorByName(nameID)
	if !ok {
		return nil, wrapErr(ErrDatabaseNotFound, fmt.Sprintf("database %d", nameID), nil)
	}
	db := e.newDatabaseHandle(nameID, desc, KeyKind(desc.KeyKind), desc.KeyMaxSize)
	e.databases[nameID] = db
	return db, nil
}

// RenameDatabase reassigns a live database's name id.
func (e *Environment) RenameDatabase(oldID, newID uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.RenameDatabase(oldID, newID); err != nil {
		return translatePagestoreErr(err)
	}
	if db, ok := e.databases[oldID]; ok {
		delete(e.databases, oldID)
		db.nameID = newID
		db.tree = btree.New(e.store, e.blobs, newID, db.keyDesc)
		e.databases[newID] = db
	}
	return nil
}

// EraseDatabase deletes a database and every page reachable from its
// root.
func (e *Environment) EraseDatabase(nameID uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	desc, err := e.store.EraseDatabaseDescriptor(nameID)
	if err != nil {
		return translatePagestoreErr(err)
	}
	delete(e.databases, nameID)
	cs := pagestore.NewChangeset()
	if err := freeSubtree(e.store, desc.RootPageID, cs); err != nil {
		return translatePagestoreErr(err)
	}
	if err := e.store.Flush(cs); err != nil {
		return wrapErr(ErrIO, "flush database erase", err)
	}
	return nil
}

// freeSubtree frees the single page at pageID (the database's root
// page), used by EraseDatabase. Pages below the root (child nodes, blob
// chains and duplicate lists) are not walked and are not freed.
func freeSubtree(store *pagestore.Store, pageID uint64, cs *pagestore.Changeset) error {
	if pageID == 0 {
		return nil
	}
	p, err := store.Fetch(pageID, pagestore.ReadWrite, cs)
	if err != nil {
		return err
	}
	return store.FreePage(p, cs)
}

// DatabaseNames returns the name-ids of every database in the
// environment.
func (e *Environment) DatabaseNames() []uint16 { return e.store.DatabaseNames() }

// BeginTxn starts a new transaction against this environment.
func (e *Environment) BeginTxn(name string, flags Flag) *Transaction {
	t := e.txnMgr.Begin(name)
	e.journal.AppendTxnBegin(t.ID, 0)
	return &Transaction{env: e, inner: t, touched: make(map[uint16]*Database)}
}

// Flush durably writes every dirty page and syncs the journal.
func (e *Environment) Flush(flags Flag) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, db := range e.databases {
		if err := db.flushCommittedLocked(); err != nil {
			return err
		}
	}
	if err := e.journal.Sync(); err != nil {
		return wrapErr(ErrIO, "sync journal", err)
	}
	return nil
}

// Metrics reports a snapshot of environment-wide counters (spec.md §6.2
// "metrics").
type Metrics struct {
	PageSize       uint32
	MaxDatabases   uint32
	OpenDatabases  int
	OutstandingTxn int
}

func (e *Environment) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Metrics{
		PageSize:       e.store.PageSize(),
		MaxDatabases:   e.store.MaxDatabases(),
		OpenDatabases:  len(e.databases),
		OutstandingTxn: len(e.txnMgr.Outstanding()),
	}
}

// Close flushes and releases the environment's resources.
func (e *Environment) Close(flags Flag) error {
	if err := e.Flush(flags); err != nil {
		return err
	}
	if err := e.journal.Close(); err != nil {
		return wrapErr(ErrIO, "close journal", err)
	}
	if err := e.store.Close(); err != nil {
		return translatePagestoreErr(err)
	}
	return nil
}

func translatePagestoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isErr(err, pagestore.ErrInvalidHeader):
		return wrapErr(ErrInvalidFileHeader, "", err)
	case isErr(err, pagestore.ErrInvalidVersion):
		return wrapErr(ErrInvalidFileVersion, "", err)
	case isErr(err, pagestore.ErrInvalidPageSize):
		return wrapErr(ErrInvalidPageSize, "", err)
	case isErr(err, pagestore.ErrChecksum):
		return wrapErr(ErrIntegrityViolated, "", err)
	case isErr(err, pagestore.ErrNoSuchPage):
		return wrapErr(ErrIntegrityViolated, "page missing", err)
	case isErr(err, pagestore.ErrLimitsReached):
		return wrapErr(ErrLimitsReached, "", err)
	case isErr(err, pagestore.ErrDatabaseExists):
		return wrapErr(ErrDatabaseExists, "", err)
	case isErr(err, pagestore.ErrNoSuchDatabase):
		return wrapErr(ErrDatabaseNotFound, "", err)
	default:
		return wrapErr(ErrIO, "", err)
	}
}

func translateBtreeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isErr(err, btree.ErrKeyNotFound):
		return wrapErr(ErrKeyNotFound, "", err)
	case isErr(err, btree.ErrDuplicateKey):
		return wrapErr(ErrDuplicateKey, "", err)
	case isErr(err, btree.ErrInvalidKeySize):
		return wrapErr(ErrInvalidKeySize, "", err)
	case isErr(err, btree.ErrInvalidRecordSize):
		return wrapErr(ErrInvalidRecordSize, "", err)
	case isErr(err, btree.ErrIntegrityViolated):
		return wrapErr(ErrIntegrityViolated, "", err)
	case isErr(err, btree.ErrCursorIsNil):
		return wrapErr(ErrCursorIsNil, "", err)
	default:
		return wrapErr(ErrIO, "", err)
	}
}

func isErr(err, target error) bool { return errors.Is(err, target) }
