package pagestore

import (
	"fmt"
	"sync"
)

const headerPageID uint64 = 0

// Store is the PageStore collaborator (spec.md §6.1, §9 "Page 0:
// environment header"). It owns the backing medium (file or in-memory
// arena), the decoded environment header / per-database descriptor
// array, a free list, and a bounded page cache.
type Store struct {
	mu   sync.Mutex
	back backend

	pageSize uint32
	hdr      *header

	dirtyHeader bool

	cache    map[uint64]*Page
	cacheCap int
}

// CreateOptions configures a freshly created environment.
type CreateOptions struct {
	PageSize     uint32
	MaxDatabases uint32
	CacheSize    int
}

func defaultCreateOptions(o CreateOptions) CreateOptions {
	if o.PageSize == 0 {
		o.PageSize = 4096
	}
	if o.MaxDatabases == 0 {
		o.MaxDatabases = 16
	}
	if o.CacheSize == 0 {
		o.CacheSize = 1024
	}
	return o
}

// Create initializes a brand-new environment file at path and writes
// page 0. If path is empty, the store is backed by an in-memory arena
// (spec §9 supplemented HAM_IN_MEMORY mode).
func Create(path string, opts CreateOptions) (*Store, error) {
	opts = defaultCreateOptions(opts)
	if opts.PageSize < 512 || opts.PageSize&(opts.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: %d (must be a power of two >= 512)", ErrInvalidPageSize, opts.PageSize)
	}

	var b backend
	var err error
	if path == "" {
		b = newArenaBackend()
	} else {
		b, err = openFileBackend(path, true)
		if err != nil {
			return nil, err
		}
	}
	if err := b.lock(); err != nil {
		b.close()
		return nil, err
	}

	s := &Store{
		back:     b,
		pageSize: opts.PageSize,
		hdr: &header{
			pageSize:     opts.PageSize,
			maxDatabases: opts.MaxDatabases,
			descriptors:  make([]Descriptor, opts.MaxDatabases),
		},
		cache:    make(map[uint64]*Page),
		cacheCap: opts.CacheSize,
	}
	if err := b.growTo(1, opts.PageSize); err != nil {
		b.close()
		return nil, err
	}
	s.dirtyHeader = true
	if err := s.flushHeader(); err != nil {
		b.close()
		return nil, err
	}
	return s, nil
}

// Open attaches to an existing environment file and loads page 0.
func Open(path string, cacheSize int) (*Store, error) {
	if cacheSize == 0 {
		cacheSize = 1024
	}
	b, err := openFileBackend(path, false)
	if err != nil {
		return nil, err
	}
	if err := b.lock(); err != nil {
		b.close()
		return nil, err
	}
	s := &Store{back: b, cache: make(map[uint64]*Page), cacheCap: cacheSize}

	// Page size and database count are unknown until the header itself
	// is decoded, so first probe just enough bytes to learn them, then
	// re-probe wide enough to cover every descriptor slot.
	probe := make([]byte, headerDescStartOff)
	if _, err := b.readPrefix(probe); err != nil {
		b.close()
		return nil, err
	}
	if binfmtPeekMagic(probe) != Magic {
		b.close()
		return nil, errInvalidHeader("bad magic")
	}
	maxDBs := peekUint32(probe, headerMaxDBsOff)
	full := make([]byte, headerDescStartOff+int(maxDBs)*DescriptorSize)
	if _, err := b.readPrefix(full); err != nil {
		b.close()
		return nil, err
	}
	hdr, err := decodeHeader(full)
	if err != nil {
		b.close()
		return nil, err
	}
	s.pageSize = hdr.pageSize
	s.hdr = hdr
	return s, nil
}

func binfmtPeekMagic(b []byte) uint32 { return peekUint32(b, headerMagicOff) }

func peekUint32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func (s *Store) PageSize() uint32     { return s.pageSize }
func (s *Store) MaxDatabases() uint32 { return s.hdr.maxDatabases }

// fetchRaw reads a page without a cache entry's type expectations
// checked — used internally by the free list, which manages its own
// page-0-adjacent bookkeeping pages. Callers already hold s.mu.
func (s *Store) fetchRaw(id uint64, cs *Changeset) (*Page, error) {
	return s.fetchLocked(id, ReadWrite, cs)
}

func (s *Store) newPageRaw(id uint64, cs *Changeset) (*Page, error) {
	p := &Page{id: id, data: make([]byte, s.pageSize)}
	s.cacheInsert(p)
	return p, nil
}

// Fetch pins page id in memory, reading it from the backend on a cache
// miss and verifying its checksum. Pages fetched ReadWrite are added to
// the changeset so a flush can find every page a caller might mutate.
func (s *Store) Fetch(id uint64, mode FetchMode, cs *Changeset) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchLocked(id, mode, cs)
}

// fetchLocked is Fetch's body, callable while s.mu is already held.
func (s *Store) fetchLocked(id uint64, mode FetchMode, cs *Changeset) (*Page, error) {
	if p, ok := s.cache[id]; ok {
		if mode == ReadWrite && cs != nil {
			cs.touch(p)
		}
		return p, nil
	}
	data := make([]byte, s.pageSize)
	if err := s.back.readPage(id, s.pageSize, data); err != nil {
		return nil, err
	}
	p := &Page{id: id, data: data}
	if err := p.verify(); err != nil {
		return nil, err
	}
	s.cacheInsert(p)
	if mode == ReadWrite && cs != nil {
		cs.touch(p)
	}
	return p, nil
}

// cacheInsert adds p to the bounded cache, evicting one clean page at
// random if at capacity. The spec leaves eviction policy outside the
// core's concern; this is the simplest policy that satisfies "bounded".
func (s *Store) cacheInsert(p *Page) {
	s.cache[p.id] = p
	if s.cacheCap <= 0 || len(s.cache) <= s.cacheCap {
		return
	}
	for id, victim := range s.cache {
		if id != p.id && !victim.dirty {
			delete(s.cache, id)
			return
		}
	}
}

// AllocatePage returns a zeroed page for kind, reusing a free-listed
// page-id before growing the backend (teacher's reuse-before-append
// policy in FreeList.get / pageAppend).
func (s *Store) AllocatePage(kind uint16, cs *Changeset) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.popFree(cs)
	if err != nil {
		return nil, err
	}
	if !ok {
		id = s.back.numPages(s.pageSize)
		if id == 0 {
			id = 1 // page 0 is always the header
		}
		if err := s.back.growTo(id+1, s.pageSize); err != nil {
			return nil, err
		}
	}
	p := &Page{id: id, data: make([]byte, s.pageSize)}
	binfmtPutType(p.Data(), kind)
	p.dirty = true
	s.cacheInsert(p)
	cs.touch(p)
	return p, nil
}

// FreePage releases p back to the free list. The in-memory
// representation is dropped from the cache so a stale handle cannot be
// fetched again until it is reallocated and rewritten.
func (s *Store) FreePage(p *Page, cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, p.id)
	return s.pushFree(cs, p.id)
}

// Flush writes every dirty page in cs (and the header, if it changed)
// back to the backend and durably syncs it.
func (s *Store) Flush(cs *Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range cs.Pages() {
		if !p.dirty {
			continue
		}
		p.seal()
		if err := s.back.writePage(p.id, s.pageSize, p.data); err != nil {
			return err
		}
		p.dirty = false
	}
	if err := s.flushHeaderLocked(); err != nil {
		return err
	}
	return s.back.sync()
}

func (s *Store) flushHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushHeaderLocked()
}

func (s *Store) flushHeaderLocked() error {
	if !s.dirtyHeader {
		return nil
	}
	buf := s.hdr.encode(s.pageSize)
	page := &Page{id: headerPageID, data: make([]byte, s.pageSize)}
	copy(page.Data(), buf)
	page.seal()
	if err := s.back.writePage(headerPageID, s.pageSize, page.data); err != nil {
		return err
	}
	s.dirtyHeader = false
	return nil
}

// CreateDatabaseDescriptor reserves a free descriptor slot for a new
// database and returns its index. The caller is responsible for filling
// in RootPageID once the database's empty root page is allocated.
func (s *Store) CreateDatabaseDescriptor(nameID uint16, d Descriptor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.hdr.descriptors {
		if !existing.Free() && existing.NameID == nameID {
			return 0, fmt.Errorf("%w: database %d", ErrDatabaseExists, nameID)
		}
	}
	for i, existing := range s.hdr.descriptors {
		if existing.Free() {
			d.NameID = nameID
			s.hdr.descriptors[i] = d
			s.dirtyHeader = true
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d database slots in use", ErrLimitsReached, len(s.hdr.descriptors))
}

// DescriptorByName returns the current descriptor for nameID, its slot
// index, and whether such a database exists.
func (s *Store) DescriptorByName(nameID uint16) (Descriptor, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.hdr.descriptors {
		if !d.Free() && d.NameID == nameID {
			return d, i, true
		}
	}
	return Descriptor{}, 0, false
}

// UpdateDescriptor overwrites the descriptor at slot i (e.g. after a
// root-page split changes the database's root page-id).
func (s *Store) UpdateDescriptor(i int, d Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hdr.descriptors[i] = d
	s.dirtyHeader = true
}

// RenameDatabase reassigns a live descriptor's name id.
func (s *Store) RenameDatabase(oldID, newID uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.hdr.descriptors {
		if !d.Free() && d.NameID == newID {
			return fmt.Errorf("%w: database %d", ErrDatabaseExists, newID)
		}
	}
	for i, d := range s.hdr.descriptors {
		if !d.Free() && d.NameID == oldID {
			s.hdr.descriptors[i].NameID = newID
			s.dirtyHeader = true
			return nil
		}
	}
	return fmt.Errorf("%w: database %d", ErrNoSuchDatabase, oldID)
}

// EraseDatabaseDescriptor frees the descriptor slot for nameID, returning
// the freed descriptor so the caller can reclaim its pages.
func (s *Store) EraseDatabaseDescriptor(nameID uint16) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.hdr.descriptors {
		if !d.Free() && d.NameID == nameID {
			s.hdr.descriptors[i] = Descriptor{}
			s.dirtyHeader = true
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: database %d", ErrNoSuchDatabase, nameID)
}

// DatabaseNames returns the name-ids of every in-use descriptor.
func (s *Store) DatabaseNames() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []uint16
	for _, d := range s.hdr.descriptors {
		if !d.Free() {
			names = append(names, d.NameID)
		}
	}
	return names
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.back.close()
}

func binfmtPutType(data []byte, kind uint16) {
	data[0] = byte(kind)
	data[1] = byte(kind >> 8)
}
