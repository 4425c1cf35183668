package ridgekv

// Flag is the single closed set of bits spec.md §6.2 names, shared
// across Environment/Database/Cursor calls — which bits apply depends
// on the call, exactly as the teacher's sql.Open DSN options are one
// flat set interpreted differently per call site.
type Flag uint32

const (
	Overwrite Flag = 1 << iota
	Duplicate
	DuplicateInsertFirst
	DuplicateInsertLast
	DuplicateInsertBefore
	DuplicateInsertAfter
	SkipDuplicates
	OnlyDuplicates
	FindExact
	FindLtMatch
	FindGtMatch
	FindLeqMatch
	FindGeqMatch
	HintAppend
	HintPrepend
	Partial
	UserAlloc
	Temporary
	AutoCleanup
	AutoCommit
	AutoAbort
	EraseAllDuplicates
)

// CreateOptions configures Environment.Create.
type CreateOptions struct {
	PageSize     uint32
	MaxDatabases uint32
	CacheSize    int
	// JournalPath, when empty, derives "<path>.jrnl"; set explicitly to
	// relocate the journal (e.g. onto separate storage).
	JournalPath string
}

// OpenOptions configures Environment.Open.
type OpenOptions struct {
	CacheSize int
}

// DatabaseParams configures Environment.CreateDatabase.
type DatabaseParams struct {
	KeyKind     KeyKind
	KeyMaxSize  uint32 // 0 = unlimited, only valid for KeyKindBytes
	RecordSize  uint32 // 0 = variable-length records
	RecordNumber bool  // auto-increment integer keys (spec.md supplemented feature)
}

// KeyKind mirrors internal/keycodec.Kind at the public API boundary, so
// callers never need to import an internal package to configure a
// database.
type KeyKind uint8

const (
	KeyKindBytes KeyKind = iota
	KeyKindUint8
	KeyKindUint16
	KeyKindUint32
	KeyKindUint64
	KeyKindFloat32
	KeyKindFloat64
)
