// Package pagestore implements the PageStore collaborator (spec §6.1):
// fetch/pin/flush of fixed-size pages by page-id, with a dirty-tracking
// changeset per top-level operation. Grounded on the teacher's
// disk/page_manager.go and disk/file_ops.go (page.updates map as
// changeset, free-list reuse-before-append, mmap chunk list), extended
// to a multi-database page space (page 0 header + per-db descriptors,
// spec §6.3) with page checksums and an in-memory arena backend.
package pagestore

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/ridgekv/ridgekv/internal/binfmt"
)

// Page types, stored in the 2-byte type tag of every page header.
const (
	PageTypeHeader   = 0 // page 0: environment header
	PageTypeInternal = 1 // B+tree internal node
	PageTypeLeaf     = 2 // B+tree leaf node
	PageTypeFreeList = 3 // free-list node
	PageTypeBlob     = 4 // blob-manager payload page
	PageTypeDupList  = 5 // duplicate-list overflow page
)

// checksumSize is the trailing xxhash64 every page carries over its
// payload (domain-stack wiring: github.com/cespare/xxhash/v2).
const checksumSize = 8

// Page is one fixed-size block, identified by its page-id (byte offset /
// page size). Exactly one in-memory representation exists per resident
// page; mutating it through Data() and marking it Dirty is how the core
// communicates a write back to the store.
type Page struct {
	id    uint64
	data  []byte // full page, including trailing checksum
	dirty bool
}

func (p *Page) ID() uint64 { return p.id }

// Data returns the usable payload (excludes the trailing checksum).
func (p *Page) Data() []byte { return p.data[:len(p.data)-checksumSize] }

func (p *Page) MarkDirty() { p.dirty = true }
func (p *Page) Dirty() bool { return p.dirty }

func (p *Page) seal() {
	sum := xxhash.Sum64(p.Data())
	binfmt.PutUint64(p.data[len(p.data)-checksumSize:], sum)
}

func (p *Page) verify() error {
	want := binfmt.Uint64(p.data[len(p.data)-checksumSize:])
	got := xxhash.Sum64(p.Data())
	if want != got {
		return fmt.Errorf("%w: page %d (corrupt page or torn write)", ErrChecksum, p.id)
	}
	return nil
}

// FetchMode selects read/write intent for Store.Fetch.
type FetchMode int

const (
	ReadWrite FetchMode = iota
	ReadOnly
)

// Changeset accumulates the pages made dirty by one top-level operation.
// It is cleared after read-like operations that only populated it as a
// side effect, and written out with Store.Flush after a successful
// mutation; no LSN is recorded with it (spec §5, §9 open question 2:
// implemented as a value threaded through call parameters rather than a
// field cleared post-hoc on the store).
type Changeset struct {
	pages map[uint64]*Page
}

// NewChangeset returns an empty changeset scoped to one operation.
func NewChangeset() *Changeset {
	return &Changeset{pages: make(map[uint64]*Page)}
}

func (cs *Changeset) touch(p *Page) {
	cs.pages[p.id] = p
}

// Pages returns the dirty pages accumulated so far, in page-id order.
func (cs *Changeset) Pages() []*Page {
	out := make([]*Page, 0, len(cs.pages))
	for _, p := range cs.pages {
		out = append(out, p)
	}
	// simple insertion sort by id; changesets are small (one operation's
	// worth of split/merge/insert pages).
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].id > out[j].id; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func (cs *Changeset) Empty() bool { return len(cs.pages) == 0 }
