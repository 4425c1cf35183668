// Package blobstore implements the BlobManager collaborator (spec.md
// §6.1, §4.5): records too large to fit inline in a leaf item spill
// into one or more chained blob pages, addressed by the page-id of the
// first page in the chain (the "blob-id").
//
// The teacher has no equivalent concept (a from-scratch BYODB engine
// inlines every value), so this is new code, built directly on
// pagestore.Store's page-allocation primitives in the teacher's
// page-callback idiom.
package blobstore

import (
	"fmt"

	"github.com/ridgekv/ridgekv/internal/binfmt"
	"github.com/ridgekv/ridgekv/internal/pagestore"
)

// Blob page layout:
//
//	offset  size  field
//	0       2     type tag (pagestore.PageTypeBlob)
//	2       4     total blob length (only meaningful on the first page)
//	6       8     next page-id in chain (0 = last page)
//	14      ...   payload bytes
const (
	blobLenOff  = 2
	blobNextOff = 6
	blobDataOff = 14
)

// Manager allocates, reads, and frees blob chains on top of a Store.
type Manager struct {
	store *pagestore.Store
}

func New(store *pagestore.Store) *Manager { return &Manager{store: store} }

func (m *Manager) payloadCapacity() int {
	return int(m.store.PageSize()) - blobDataOff - 8 // trailing checksum reserved by pagestore
}

// Allocate writes data into a freshly allocated chain of blob pages and
// returns the id (page-id of the first page) that a leaf item stores as
// its record locator.
func (m *Manager) Allocate(data []byte, cs *pagestore.Changeset) (uint64, error) {
	capacity := m.payloadCapacity()
	if capacity <= 0 {
		return 0, fmt.Errorf("blobstore: page size too small to hold blob data")
	}

	var pages []*pagestore.Page
	remaining := data
	for {
		p, err := m.store.AllocatePage(pagestore.PageTypeBlob, cs)
		if err != nil {
			for _, prev := range pages {
				m.store.FreePage(prev, cs)
			}
			return 0, err
		}
		pages = append(pages, p)
		n := len(remaining)
		if n > capacity {
			n = capacity
		}
		copy(p.Data()[blobDataOff:], remaining[:n])
		remaining = remaining[n:]
		if len(remaining) == 0 {
			break
		}
	}
	for i, p := range pages {
		d := p.Data()
		if i == 0 {
			binfmt.PutUint32(d[blobLenOff:], uint32(len(data)))
		}
		var next uint64
		if i+1 < len(pages) {
			next = pages[i+1].ID()
		}
		binfmt.PutUint64(d[blobNextOff:], next)
		p.MarkDirty()
	}
	return pages[0].ID(), nil
}

// Read reconstructs the full value stored under blobID.
func (m *Manager) Read(blobID uint64, cs *pagestore.Changeset) ([]byte, error) {
	p, err := m.store.Fetch(blobID, pagestore.ReadOnly, cs)
	if err != nil {
		return nil, err
	}
	d := p.Data()
	total := binfmt.Uint32(d[blobLenOff:])
	out := make([]byte, 0, total)

	cur := p
	for {
		d := cur.Data()
		remaining := int(total) - len(out)
		take := m.payloadCapacity()
		if take > remaining {
			take = remaining
		}
		out = append(out, d[blobDataOff:blobDataOff+take]...)
		next := binfmt.Uint64(d[blobNextOff:])
		if next == 0 || len(out) >= int(total) {
			break
		}
		cur, err = m.store.Fetch(next, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Free releases every page in blobID's chain back to the page store.
func (m *Manager) Free(blobID uint64, cs *pagestore.Changeset) error {
	id := blobID
	for id != 0 {
		p, err := m.store.Fetch(id, pagestore.ReadWrite, cs)
		if err != nil {
			return err
		}
		next := binfmt.Uint64(p.Data()[blobNextOff:])
		if err := m.store.FreePage(p, cs); err != nil {
			return err
		}
		id = next
	}
	return nil
}

// Overwrite replaces the value stored under blobID with data, freeing
// the old chain and allocating a fresh one — blob chains are not
// mutated in place since their page count may change.
func (m *Manager) Overwrite(blobID uint64, data []byte, cs *pagestore.Changeset) (uint64, error) {
	if err := m.Free(blobID, cs); err != nil {
		return 0, err
	}
	return m.Allocate(data, cs)
}
