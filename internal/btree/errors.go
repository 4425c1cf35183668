package btree

import "errors"

// Sentinel errors local to this package; the root package translates
// them into its own public error kinds via errors.Is, the same pattern
// internal/pagestore uses for its own sentinel set.
var (
	ErrIntegrityViolated = errors.New("btree: integrity violated")
	ErrKeyNotFound        = errors.New("btree: key not found")
	ErrDuplicateKey       = errors.New("btree: duplicate key")
	ErrInvalidKeySize     = errors.New("btree: invalid key size")
	ErrInvalidRecordSize  = errors.New("btree: invalid record size")
	ErrCursorIsNil        = errors.New("btree: cursor is nil")
)
