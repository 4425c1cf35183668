package pagestore

import (
	"errors"
	"fmt"
)

// Sentinel errors a caller (the root ridgekv package) translates into its
// own public error kinds via errors.Is. Kept local to this package so
// pagestore has no dependency on the public API surface it is wired into.
var (
	ErrInvalidHeader  = errors.New("pagestore: invalid file header")
	ErrInvalidVersion = errors.New("pagestore: invalid file version")
	ErrInvalidPageSize = errors.New("pagestore: invalid page size")
	ErrChecksum       = errors.New("pagestore: checksum mismatch")
	ErrNoSuchPage     = errors.New("pagestore: no such page")
	ErrLimitsReached  = errors.New("pagestore: database slot limit reached")
	ErrIO             = errors.New("pagestore: i/o error")
	ErrDatabaseExists = errors.New("pagestore: database already exists")
	ErrNoSuchDatabase = errors.New("pagestore: no such database")
)

func errInvalidHeader(msg string) error  { return fmt.Errorf("%w: %s", ErrInvalidHeader, msg) }
func errInvalidVersion(msg string) error { return fmt.Errorf("%w: %s", ErrInvalidVersion, msg) }
