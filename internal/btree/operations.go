package btree

import (
	"fmt"

	"github.com/ridgekv/ridgekv/internal/binfmt"
	"github.com/ridgekv/ridgekv/internal/blobstore"
	"github.com/ridgekv/ridgekv/internal/keycodec"
	"github.com/ridgekv/ridgekv/internal/pagestore"
)

// FindFlag / InsertFlag / EraseFlag mirror the closed flag set of
// spec.md §6.2, scoped to what the Btree layer itself interprets.
type FindFlag uint32

const (
	FindExact FindFlag = 1 << iota
	FindLT
	FindGT
	FindLEQ
	FindGEQ
)

type InsertFlag uint32

const (
	Overwrite InsertFlag = 1 << iota
	Duplicate
	DuplicateInsertFirst
	DuplicateInsertLast
	DuplicateInsertBefore
	DuplicateInsertAfter
	HintAppend
	HintPrepend
)

func (f InsertFlag) isDuplicateInsert() bool {
	return f&(Duplicate|DuplicateInsertFirst|DuplicateInsertLast|DuplicateInsertBefore|DuplicateInsertAfter) != 0
}

// Approx reports which direction (if any) a find had to approximate.
type Approx int

const (
	ApproxNone Approx = iota
	ApproxLT
	ApproxGT
)

// Record is the result of a successful find: the primary (first, or
// exact duplicate_index) record plus the total duplicate count for the
// key, so callers can decide whether to open a duplicate list.
type Record struct {
	Key       []byte
	Value     []byte
	DupCount  uint32
	Approx    Approx
}

// Btree is a handle over one database's B+tree (spec.md §3 "Btree"),
// addressed by the stable name-id its descriptor was created under
// (spec.md §6.3 "per-database descriptor").
type Btree struct {
	store   *pagestore.Store
	blobs   *blobstore.Manager
	nameID  uint16
	keyDesc keycodec.Descriptor

	maxInline int
}

func New(store *pagestore.Store, blobs *blobstore.Manager, nameID uint16, keyDesc keycodec.Descriptor) *Btree {
	return &Btree{store: store, blobs: blobs, nameID: nameID, keyDesc: keyDesc, maxInline: maxInlineRecord}
}

func (t *Btree) rootPageID() uint64 {
	d, _, ok := t.store.DescriptorByName(t.nameID)
	if !ok {
		return 0
	}
	return d.RootPageID
}

func (t *Btree) cmp(a, b []byte) int { return t.keyDesc.Compare(a, b) }

func (t *Btree) fetch(id uint64, mode pagestore.FetchMode, cs *pagestore.Changeset) (node, error) {
	p, err := t.store.Fetch(id, mode, cs)
	if err != nil {
		return node{}, err
	}
	return newNode(p.Data()), nil
}

// lookupLeaf finds the exact-or-insertion-point index within a leaf
// node's items using the key comparator (binary search).
func (t *Btree) lookupLeaf(n node, key []byte) (idx uint16, exact bool) {
	nkeys := n.nkeys()
	lo, hi := uint16(0), nkeys
	for lo < hi {
		mid := (lo + hi) / 2
		c := t.cmp(n.leafKey(mid), key)
		if c == 0 {
			return mid, true
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// lookupInternal returns the separator index whose key is the largest
// one <= target, or -1 if target is less than every separator (route to
// ptrDown).
func (t *Btree) lookupInternal(n node, key []byte) int {
	nkeys := n.nkeys()
	found := -1
	lo, hi := uint16(0), nkeys
	for lo < hi {
		mid := (lo + hi) / 2
		c := t.cmp(n.internalKey(mid), key)
		if c <= 0 {
			found = int(mid)
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return found
}

// Find descends to the owning leaf and returns the record for key, or
// (per flags) the nearest approximate neighbour.
func (t *Btree) Find(key []byte, flags FindFlag, cs *pagestore.Changeset) (*Record, error) {
	root := t.rootPageID()
	if root == 0 {
		return nil, ErrKeyNotFound
	}
	pageID := root
	for {
		n, err := t.fetch(pageID, pagestore.ReadOnly, cs)
		if err != nil {
			return nil, err
		}
		if n.isLeaf() {
			return t.findInLeaf(n, key, flags, cs)
		}
		sep := t.lookupInternal(n, key)
		pageID = n.child(uint16(sep + 1))
	}
}

func (t *Btree) findInLeaf(n node, key []byte, flags FindFlag, cs *pagestore.Changeset) (*Record, error) {
	idx, exact := t.lookupLeaf(n, key)
	if exact {
		return t.buildRecord(n, idx, ApproxNone, cs)
	}
	if flags&FindExact != 0 || flags == 0 {
		return nil, ErrKeyNotFound
	}
	// idx is the insertion point: n[idx-1] < key < n[idx].
	switch {
	case flags&(FindLT|FindLEQ) != 0:
		if idx == 0 {
			return nil, ErrKeyNotFound
		}
		return t.buildRecord(n, idx-1, ApproxLT, cs)
	case flags&(FindGT|FindGEQ) != 0:
		if idx >= n.nkeys() {
			return nil, ErrKeyNotFound
		}
		return t.buildRecord(n, idx, ApproxGT, cs)
	}
	return nil, ErrKeyNotFound
}

func (t *Btree) buildRecord(n node, idx uint16, approx Approx, cs *pagestore.Changeset) (*Record, error) {
	flags := n.leafRecFlags(idx)
	payload := n.leafPayload(idx)
	rec := &Record{Key: append([]byte(nil), n.leafKey(idx)...), Approx: approx, DupCount: 1}
	switch flags {
	case recInline:
		rec.Value = append([]byte(nil), payload...)
	case recBlob:
		blobID := beUint64(payload)
		v, err := t.blobs.Read(blobID, cs)
		if err != nil {
			return nil, err
		}
		rec.Value = v
	case recDupList:
		dl, err := t.readDupList(payload, cs)
		if err != nil {
			return nil, err
		}
		rec.DupCount = uint32(len(dl.entries))
		if len(dl.entries) > 0 {
			v, err := t.readDupEntry(dl.entries[0], cs)
			if err != nil {
				return nil, err
			}
			rec.Value = v
		}
	default:
		return nil, fmt.Errorf("%w: unknown record locator kind %d", ErrIntegrityViolated, flags)
	}
	return rec, nil
}

func beUint64(b []byte) uint64 { return binfmt.Uint64(b) }

// Insert inserts or updates key with record according to flags.
// dupIndex is the 0-based index, into the key's existing on-disk
// duplicate list, that DuplicateInsertBefore/After resolve against
// (spec.md §4.5); it is ignored for every other flag combination, the
// same convention Erase already uses for its own dupIndex parameter.
func (t *Btree) Insert(key, record []byte, dupIndex uint32, flags InsertFlag, cs *pagestore.Changeset) error {
	if err := t.keyDesc.Validate(key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}
	root := t.rootPageID()
	if root == 0 {
		return t.insertFirst(key, record, cs)
	}
	newRootPages, promoted, err := t.insertRec(root, key, record, dupIndex, flags, cs)
	if err != nil {
		return err
	}
	if len(newRootPages) == 1 {
		t.setRoot(newRootPages[0])
		return nil
	}
	// The root split: build a new internal root over the returned pages.
	return t.growNewRoot(newRootPages, promoted, cs)
}

func (t *Btree) insertFirst(key, record []byte, cs *pagestore.Changeset) error {
	p, err := t.store.AllocatePage(uint16(KindLeaf), cs)
	if err != nil {
		return err
	}
	n := newNode(p.Data())
	n.setHeader(KindLeaf, 1)
	flags, payload, err := t.encodeNewRecord(record, cs)
	if err != nil {
		return err
	}
	n.appendLeaf(0, key, flags, payload)
	p.MarkDirty()
	t.setRoot(p.ID())
	return nil
}

func (t *Btree) encodeNewRecord(record []byte, cs *pagestore.Changeset) (uint8, []byte, error) {
	if len(record) <= t.maxInline {
		return recInline, record, nil
	}
	blobID, err := t.blobs.Allocate(record, cs)
	if err != nil {
		return 0, nil, err
	}
	return recBlob, uint64ToBytes(blobID), nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binfmt.PutUint64(b, v)
	return b
}

// insertRec descends recursively, returning the (possibly split) set of
// replacement page-ids for pageID's position in its parent, along with
// the separator keys to promote for pages[1:].
func (t *Btree) insertRec(pageID uint64, key, record []byte, dupIndex uint32, flags InsertFlag, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	n, err := t.fetch(pageID, pagestore.ReadWrite, cs)
	if err != nil {
		return nil, nil, err
	}
	if n.isLeaf() {
		return t.insertLeaf(pageID, n, key, record, dupIndex, flags, cs)
	}

	sep := t.lookupInternal(n, key)
	childIdx := uint16(sep + 1)
	childID := n.child(childIdx)
	newChildren, promotedKeys, err := t.insertRec(childID, key, record, dupIndex, flags, cs)
	if err != nil {
		return nil, nil, err
	}
	return t.replaceChild(pageID, n, childIdx, newChildren, promotedKeys, cs)
}

func (t *Btree) insertLeaf(pageID uint64, n node, key, record []byte, dupIndex uint32, flags InsertFlag, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	idx, exact := t.lookupLeaf(n, key)
	if exact && !flags.isDuplicateInsert() && flags&Overwrite == 0 {
		return nil, nil, ErrDuplicateKey
	}

	items := t.snapshotLeafItems(n)
	if exact {
		if flags.isDuplicateInsert() {
			if err := t.addDuplicateInPlace(&items[idx], record, dupIndex, flags, cs); err != nil {
				return nil, nil, err
			}
		} else {
			// Overwrite: free the old locator, encode the new one.
			if err := t.freeLocator(items[idx].flags, items[idx].payload, cs); err != nil {
				return nil, nil, err
			}
			nf, np, err := t.encodeNewRecord(record, cs)
			if err != nil {
				return nil, nil, err
			}
			items[idx] = leafItem{key: items[idx].key, flags: nf, payload: np}
		}
	} else {
		nf, np, err := t.encodeNewRecord(record, cs)
		if err != nil {
			return nil, nil, err
		}
		inserted := leafItem{key: append([]byte(nil), key...), flags: nf, payload: np}
		items = append(items[:idx], append([]leafItem{inserted}, items[idx:]...)...)
	}

	return t.rebuildLeaf(pageID, items, cs)
}

type leafItem struct {
	key     []byte
	flags   uint8
	payload []byte
}

func (t *Btree) snapshotLeafItems(n node) []leafItem {
	out := make([]leafItem, n.nkeys())
	for i := uint16(0); i < n.nkeys(); i++ {
		out[i] = leafItem{
			key:     append([]byte(nil), n.leafKey(i)...),
			flags:   n.leafRecFlags(i),
			payload: append([]byte(nil), n.leafPayload(i)...),
		}
	}
	return out
}

func leafItemSize(it leafItem) int { return 2 + len(it.key) + 1 + len(it.payload) }

// rebuildLeaf writes items into one or more fresh leaf pages, splitting
// as needed (teacher's nodeSplit2/nodeSplit3 generalised to variable
// item sizes). Pages are filled greedily in key order, each up to its
// byte capacity, so a split leaves the first page full rather than
// splitting at the median; the HintAppend/HintPrepend flags are not
// consulted.
func (t *Btree) rebuildLeaf(oldPageID uint64, items []leafItem, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	capacity := int(t.store.PageSize()) - leafHeaderSize - 8 // reserve for checksum + offsets slack
	groups := splitItems(items, capacity, leafHeaderSize)

	var oldLeft, oldRight uint64
	if oldPageID != 0 {
		old, err := t.fetch(oldPageID, pagestore.ReadOnly, cs)
		if err == nil {
			oldLeft, oldRight = old.leftSibling(), old.rightSibling()
		}
	}

	ids := make([]uint64, len(groups))
	for i, g := range groups {
		p, err := t.store.AllocatePage(uint16(KindLeaf), cs)
		if err != nil {
			return nil, nil, err
		}
		nn := newNode(p.Data())
		nn.setHeader(KindLeaf, uint16(len(g)))
		for j, it := range g {
			nn.appendLeaf(uint16(j), it.key, it.flags, it.payload)
		}
		p.MarkDirty()
		ids[i] = p.ID()
	}
	// stitch sibling links: oldLeft -> ids... -> oldRight
	for i, id := range ids {
		n, err := t.fetch(id, pagestore.ReadWrite, cs)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			n.setLeftSibling(oldLeft)
		} else {
			n.setLeftSibling(ids[i-1])
		}
		if i == len(ids)-1 {
			n.setRightSibling(oldRight)
		} else {
			n.setRightSibling(ids[i+1])
		}
	}
	if oldLeft != 0 {
		if ln, err := t.fetch(oldLeft, pagestore.ReadWrite, cs); err == nil {
			ln.setRightSibling(ids[0])
		}
	}
	if oldRight != 0 {
		if rn, err := t.fetch(oldRight, pagestore.ReadWrite, cs); err == nil {
			rn.setLeftSibling(ids[len(ids)-1])
		}
	}

	if oldPageID != 0 {
		if err := t.freePageID(oldPageID, cs); err != nil {
			return nil, nil, err
		}
	}

	promoted := make([][]byte, len(ids)-1)
	for i := 1; i < len(ids); i++ {
		promoted[i-1] = groups[i][0].key
	}
	return ids, promoted, nil
}

func (t *Btree) freePageID(id uint64, cs *pagestore.Changeset) error {
	p, err := t.store.Fetch(id, pagestore.ReadWrite, cs)
	if err != nil {
		return err
	}
	return t.store.FreePage(p, cs)
}

// splitItems distributes items across pages of at most capacity bytes
// each, keeping groups non-empty and preserving order.
func splitItems(items []leafItem, capacity int, headerSize int) [][]leafItem {
	var groups [][]leafItem
	var cur []leafItem
	size := 0
	for _, it := range items {
		sz := leafItemSize(it)
		offsetCost := 2
		if size+sz+offsetCost > capacity && len(cur) > 0 {
			groups = append(groups, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, it)
		size += sz + offsetCost
	}
	if len(cur) > 0 || len(groups) == 0 {
		groups = append(groups, cur)
	}
	return groups
}

// internalItem is one (separator_key, child_page_id) pair of an internal
// node, used while rebuilding a node from scratch after a child split or
// merge (teacher's nodeReplaceKidN, generalised to variable-size keys).
type internalItem struct {
	key   []byte
	child uint64
}

// replaceChild rewrites an internal node's childIdx entry with one or
// more replacement children (teacher's nodeReplaceKidN), splitting the
// internal node itself if it overflows.
func (t *Btree) replaceChild(pageID uint64, n node, childIdx uint16, newChildren []uint64, promotedKeys [][]byte, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	oldItems := make([]internalItem, n.nkeys())
	for i := uint16(0); i < n.nkeys(); i++ {
		oldItems[i] = internalItem{key: append([]byte(nil), n.internalKey(i)...), child: n.internalChild(i)}
	}
	ptrDown := n.ptrDown()

	// Build the flat (ptrDown, items...) sequence, splice in the
	// replacement children at childIdx, then re-derive ptrDown/items.
	allChildren := append([]uint64{ptrDown}, childrenOf(oldItems)...)
	allKeys := append([][]byte{nil}, keysOf(oldItems)...) // allKeys[0] unused placeholder

	newAllChildren := append([]uint64{}, allChildren[:childIdx]...)
	newAllChildren = append(newAllChildren, newChildren...)
	newAllChildren = append(newAllChildren, allChildren[childIdx+1:]...)

	newAllKeys := append([][]byte{}, allKeys[:childIdx]...)
	if childIdx == 0 {
		// ptrDown position: first of newChildren becomes new ptrDown
		// (no key), remaining newChildren need promotedKeys as their
		// separators.
		newAllKeys = append(newAllKeys, nil)
		newAllKeys = append(newAllKeys, promotedKeys...)
	} else {
		newAllKeys = append(newAllKeys, allKeys[childIdx])
		newAllKeys = append(newAllKeys, promotedKeys...)
	}
	newAllKeys = append(newAllKeys, allKeys[childIdx+1:]...)

	newPtrDown := newAllChildren[0]
	items := make([]internalItem, 0, len(newAllChildren)-1)
	for i := 1; i < len(newAllChildren); i++ {
		items = append(items, internalItem{key: newAllKeys[i], child: newAllChildren[i]})
	}

	return t.rebuildInternal(pageID, newPtrDown, items, cs)
}

func childrenOf(items []internalItem) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.child
	}
	return out
}

func keysOf(items []internalItem) [][]byte {
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}

func (t *Btree) rebuildInternal(oldPageID uint64, ptrDown uint64, items []internalItem, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	capacity := int(t.store.PageSize()) - internalHeaderSize - 8
	groups, firstPtrs := splitInternalItems(items, ptrDown, capacity)

	ids := make([]uint64, len(groups))
	for gi, g := range groups {
		p, err := t.store.AllocatePage(uint16(KindInternal), cs)
		if err != nil {
			return nil, nil, err
		}
		nn := newNode(p.Data())
		nn.setHeader(KindInternal, uint16(len(g)))
		nn.setPtrDown(firstPtrs[gi])
		for j, it := range g {
			nn.appendInternal(uint16(j), it.key, it.child)
		}
		p.MarkDirty()
		ids[gi] = p.ID()
	}
	if oldPageID != 0 {
		if err := t.freePageID(oldPageID, cs); err != nil {
			return nil, nil, err
		}
	}
	promoted := make([][]byte, len(ids)-1)
	pos := 0
	for i := 1; i < len(ids); i++ {
		// The separator promoted for group i is the key that used to
		// route to firstPtrs[i], i.e. the key immediately preceding
		// group i's first item in the flattened sequence (the item
		// splitInternalItems trimmed off the end of group i-1).
		pos += len(groups[i-1])
		promoted[i-1] = items[pos].key
		pos++
	}
	return ids, promoted, nil
}

func splitInternalItems(items []internalItem, ptrDown uint64, capacity int) ([][]internalItem, []uint64) {
	var groups [][]internalItem
	var cur []internalItem
	size := 0
	for _, it := range items {
		sz := 2 + len(it.key) + 8 + 2
		if size+sz > capacity && len(cur) > 0 {
			groups = append(groups, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, it)
		size += sz
	}
	if len(cur) > 0 || len(groups) == 0 {
		groups = append(groups, cur)
	}
	firstPtrs := make([]uint64, len(groups))
	firstPtrs[0] = ptrDown
	for i := 1; i < len(groups); i++ {
		firstPtrs[i] = groups[i-1][len(groups[i-1])-1].child
		groups[i-1] = groups[i-1][:len(groups[i-1])-1]
	}
	return groups, firstPtrs
}

func (t *Btree) setRoot(id uint64) {
	d, idx, ok := t.store.DescriptorByName(t.nameID)
	if !ok {
		return
	}
	d.RootPageID = id
	t.store.UpdateDescriptor(idx, d)
}

func (t *Btree) freeLocator(flags uint8, payload []byte, cs *pagestore.Changeset) error {
	switch flags {
	case recBlob:
		return t.blobs.Free(beUint64(payload), cs)
	case recDupList:
		return t.freeDupList(payload, cs)
	}
	return nil
}

// EraseFlag mirrors the duplicate-targeting subset of spec.md §6.2 that
// applies to erase.
type EraseFlag uint32

const (
	EraseAllDuplicates EraseFlag = 1 << iota
)

// Erase removes key (or one duplicate of it) from the tree.
func (t *Btree) Erase(key []byte, dupIndex uint32, flags EraseFlag, cs *pagestore.Changeset) error {
	root := t.rootPageID()
	if root == 0 {
		return ErrKeyNotFound
	}
	newChildren, promoted, err := t.eraseRec(root, key, dupIndex, flags, cs)
	if err != nil {
		return err
	}
	if len(newChildren) == 0 {
		// The whole tree emptied out: leave the descriptor's root-page-id
		// pointing at a freshly allocated empty leaf rather than 0, so
		// Find/Insert don't need a special "no root yet" path mid-life.
		return t.insertFirstEmpty(cs)
	}
	if len(newChildren) == 1 {
		t.setRoot(newChildren[0])
		return t.collapseRootIfNeeded(cs)
	}
	// root split while erasing (can only happen if a rebuild pushed
	// items across a page boundary, e.g. after merging two undersized
	// halves back together produced more data than one page) — rebuild
	// a fresh internal root exactly as Insert does for a root split.
	return t.growNewRoot(newChildren, promoted, cs)
}

func (t *Btree) growNewRoot(children []uint64, promoted [][]byte, cs *pagestore.Changeset) error {
	rootPage, err := t.store.AllocatePage(pagestore.PageTypeInternal, cs)
	if err != nil {
		return err
	}
	nn := newNode(rootPage.Data())
	nn.setHeader(KindInternal, uint16(len(children)-1))
	nn.setPtrDown(children[0])
	for i := 1; i < len(children); i++ {
		nn.appendInternal(uint16(i-1), promoted[i-1], children[i])
	}
	rootPage.MarkDirty()
	t.setRoot(rootPage.ID())
	return nil
}

func (t *Btree) insertFirstEmpty(cs *pagestore.Changeset) error {
	p, err := t.store.AllocatePage(pagestore.PageTypeLeaf, cs)
	if err != nil {
		return err
	}
	n := newNode(p.Data())
	n.setHeader(KindLeaf, 0)
	p.MarkDirty()
	t.setRoot(p.ID())
	return nil
}

// collapseRootIfNeeded shrinks the tree's height by one when the current
// root is an internal node left with zero separator keys (its ptrDown is
// its only remaining child), matching the classic B+tree rule that the
// root is the one node allowed to run under the normal minimum-occupancy
// bound.
func (t *Btree) collapseRootIfNeeded(cs *pagestore.Changeset) error {
	root := t.rootPageID()
	n, err := t.fetch(root, pagestore.ReadOnly, cs)
	if err != nil {
		return err
	}
	if n.isLeaf() || n.nkeys() != 0 {
		return nil
	}
	newRoot := n.ptrDown()
	if err := t.freePageID(root, cs); err != nil {
		return err
	}
	t.setRoot(newRoot)
	return t.collapseRootIfNeeded(cs)
}

// eraseRec descends to key's leaf, removes it (or one duplicate slot),
// and propagates the resulting child-list change up through parents via
// the same replacement contract insertRec uses. An empty returned slice
// means pageID's subtree is now gone entirely (only possible at the
// root, handled by Erase).
func (t *Btree) eraseRec(pageID uint64, key []byte, dupIndex uint32, flags EraseFlag, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	n, err := t.fetch(pageID, pagestore.ReadWrite, cs)
	if err != nil {
		return nil, nil, err
	}
	if n.isLeaf() {
		return t.eraseLeaf(pageID, n, key, dupIndex, flags, cs)
	}

	sep := t.lookupInternal(n, key)
	childIdx := uint16(sep + 1)
	childID := n.child(childIdx)
	newChildren, promotedKeys, err := t.eraseRec(childID, key, dupIndex, flags, cs)
	if err != nil {
		return nil, nil, err
	}
	if len(newChildren) == 0 {
		return t.removeChild(pageID, n, childIdx, cs)
	}
	if len(newChildren) == 1 {
		if ok, ids, keys, err := t.rebalanceChild(pageID, n, childIdx, newChildren[0], cs); err != nil {
			return nil, nil, err
		} else if ok {
			return ids, keys, nil
		}
	}
	return t.replaceChild(pageID, n, childIdx, newChildren, promotedKeys, cs)
}

func (t *Btree) eraseLeaf(pageID uint64, n node, key []byte, dupIndex uint32, flags EraseFlag, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	idx, exact := t.lookupLeaf(n, key)
	if !exact {
		return nil, nil, ErrKeyNotFound
	}
	items := t.snapshotLeafItems(n)

	switch items[idx].flags {
	case recDupList:
		dl, err := t.readDupList(items[idx].payload, cs)
		if err != nil {
			return nil, nil, err
		}
		if flags&EraseAllDuplicates != 0 || len(dl.entries) <= 1 {
			if err := t.freeDupList(items[idx].payload, cs); err != nil {
				return nil, nil, err
			}
			items = append(items[:idx], items[idx+1:]...)
		} else {
			if int(dupIndex) >= len(dl.entries) {
				return nil, nil, ErrKeyNotFound
			}
			removed := dl.entries[dupIndex]
			if err := t.freeLocator(removed.flags, removed.payload, cs); err != nil {
				return nil, nil, err
			}
			dl.entries = append(dl.entries[:dupIndex], dl.entries[dupIndex+1:]...)
			chainID, err := t.writeDupList(dl.entries, cs)
			if err != nil {
				return nil, nil, err
			}
			items[idx].payload = uint64ToBytes(chainID)
		}
	default:
		if err := t.freeLocator(items[idx].flags, items[idx].payload, cs); err != nil {
			return nil, nil, err
		}
		items = append(items[:idx], items[idx+1:]...)
	}

	if len(items) == 0 {
		var left, right uint64
		if old, err := t.fetch(pageID, pagestore.ReadOnly, cs); err == nil {
			left, right = old.leftSibling(), old.rightSibling()
		}
		if left != 0 {
			if ln, err := t.fetch(left, pagestore.ReadWrite, cs); err == nil {
				ln.setRightSibling(right)
			}
		}
		if right != 0 {
			if rn, err := t.fetch(right, pagestore.ReadWrite, cs); err == nil {
				rn.setLeftSibling(left)
			}
		}
		if err := t.freePageID(pageID, cs); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	return t.rebuildLeaf(pageID, items, cs)
}

// isUnderfull reports whether n has fallen below the minimum occupancy
// a non-root node must keep (spec.md §3: item count in
// [ceil(capacity/2), capacity]). Items are variable-length here, so
// occupancy is judged by the same byte-budget rebuildLeaf/rebuildInternal
// already split against rather than a fixed item count — a quarter of a
// page, mirroring the teacher's own shouldMerge threshold.
func (t *Btree) isUnderfull(n node) bool {
	return n.nbytes() <= int(t.store.PageSize())/4
}

func (t *Btree) snapshotInternalItems(n node) ([]internalItem, uint64) {
	items := make([]internalItem, n.nkeys())
	for i := uint16(0); i < n.nkeys(); i++ {
		items[i] = internalItem{key: append([]byte(nil), n.internalKey(i)...), child: n.internalChild(i)}
	}
	return items, n.ptrDown()
}

func leafItemsSize(items []leafItem) int {
	size := 0
	for _, it := range items {
		size += leafItemSize(it) + 2
	}
	return size
}

func internalItemsSize(items []internalItem) int {
	size := 0
	for _, it := range items {
		size += 2 + len(it.key) + 8 + 2
	}
	return size
}

// rebalanceChild restores childPageID (the sole replacement page
// eraseRec returned for childIdx's subtree) to the minimum occupancy
// bound when it has fallen underfull, per spec.md §4.1's merge policy:
// try to borrow one item from the left sibling, else from the right,
// and only merge the pair outright once neither has anything to spare.
// ok is false when childPageID was not underfull, or was but had no
// sibling able to help (e.g. the only child of its parent) — the caller
// then falls back to a plain structural replaceChild.
func (t *Btree) rebalanceChild(pageID uint64, n node, childIdx uint16, childPageID uint64, cs *pagestore.Changeset) (ok bool, children []uint64, promoted [][]byte, err error) {
	cn, err := t.fetch(childPageID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, nil, err
	}
	if !t.isUnderfull(cn) {
		return false, nil, nil, nil
	}

	hasLeft := childIdx > 0
	hasRight := childIdx < n.nkeys()

	if hasLeft {
		leftID := n.child(childIdx - 1)
		sep := append([]byte(nil), n.internalKey(childIdx-1)...)
		if ok, newIDs, promo, err := t.tryBorrow(leftID, childPageID, sep, cs); err != nil {
			return false, nil, nil, err
		} else if ok {
			ids, keys, err := t.replaceChildWindow(pageID, n, childIdx-1, childIdx, newIDs, promo, cs)
			return true, ids, keys, err
		}
	}
	if hasRight {
		rightID := n.child(childIdx + 1)
		sep := append([]byte(nil), n.internalKey(childIdx)...)
		if ok, newIDs, promo, err := t.tryBorrow(childPageID, rightID, sep, cs); err != nil {
			return false, nil, nil, err
		} else if ok {
			ids, keys, err := t.replaceChildWindow(pageID, n, childIdx, childIdx+1, newIDs, promo, cs)
			return true, ids, keys, err
		}
	}
	if hasLeft {
		leftID := n.child(childIdx - 1)
		sep := append([]byte(nil), n.internalKey(childIdx-1)...)
		if ok, newIDs, err := t.tryMerge(leftID, childPageID, sep, cs); err != nil {
			return false, nil, nil, err
		} else if ok {
			ids, keys, err := t.replaceChildWindow(pageID, n, childIdx-1, childIdx, newIDs, nil, cs)
			return true, ids, keys, err
		}
	}
	if hasRight {
		rightID := n.child(childIdx + 1)
		sep := append([]byte(nil), n.internalKey(childIdx)...)
		if ok, newIDs, err := t.tryMerge(childPageID, rightID, sep, cs); err != nil {
			return false, nil, nil, err
		} else if ok {
			ids, keys, err := t.replaceChildWindow(pageID, n, childIdx, childIdx+1, newIDs, nil, cs)
			return true, ids, keys, err
		}
	}
	return false, nil, nil, nil
}

func (t *Btree) tryBorrow(leftID, rightID uint64, sep []byte, cs *pagestore.Changeset) (bool, []uint64, [][]byte, error) {
	left, err := t.fetch(leftID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, nil, err
	}
	if left.isLeaf() {
		return t.borrowLeafSiblings(leftID, rightID, cs)
	}
	return t.borrowInternalSiblings(leftID, rightID, sep, cs)
}

func (t *Btree) tryMerge(leftID, rightID uint64, sep []byte, cs *pagestore.Changeset) (bool, []uint64, error) {
	left, err := t.fetch(leftID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, err
	}
	if left.isLeaf() {
		return t.mergeLeafSiblings(leftID, rightID, cs)
	}
	return t.mergeInternalSiblings(leftID, rightID, sep, cs)
}

// borrowLeafSiblings moves exactly one item across the leftID/rightID
// boundary if one side has bytes to spare above the underfull threshold,
// rewriting both pages in place (no page count change, so no parent
// structural change beyond the new separator).
func (t *Btree) borrowLeafSiblings(leftID, rightID uint64, cs *pagestore.Changeset) (bool, []uint64, [][]byte, error) {
	leftNode, err := t.fetch(leftID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, nil, err
	}
	rightNode, err := t.fetch(rightID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, nil, err
	}
	leftItems := t.snapshotLeafItems(leftNode)
	rightItems := t.snapshotLeafItems(rightNode)
	threshold := int(t.store.PageSize()) / 4

	switch {
	case leafItemsSize(leftItems) > threshold && len(leftItems) > 1:
		moved := leftItems[len(leftItems)-1]
		leftItems = leftItems[:len(leftItems)-1]
		rightItems = append([]leafItem{moved}, rightItems...)
	case leafItemsSize(rightItems) > threshold && len(rightItems) > 1:
		moved := rightItems[0]
		rightItems = rightItems[1:]
		leftItems = append(leftItems, moved)
	default:
		return false, nil, nil, nil
	}

	ids, err := t.rewriteLeafPair(leftID, rightID, leftItems, rightItems, cs)
	if err != nil {
		return false, nil, nil, err
	}
	return true, ids, [][]byte{rightItems[0].key}, nil
}

// mergeLeafSiblings combines leftID and rightID into a single page when
// their items fit within one page's budget, freeing both old pages.
func (t *Btree) mergeLeafSiblings(leftID, rightID uint64, cs *pagestore.Changeset) (bool, []uint64, error) {
	leftNode, err := t.fetch(leftID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, err
	}
	rightNode, err := t.fetch(rightID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, err
	}
	leftItems := t.snapshotLeafItems(leftNode)
	rightItems := t.snapshotLeafItems(rightNode)
	capacity := int(t.store.PageSize()) - leafHeaderSize - 8
	combined := append(leftItems, rightItems...)
	if leafItemsSize(combined) > capacity {
		return false, nil, nil
	}
	ids, err := t.rebuildLeafMerged(leftID, rightID, combined, cs)
	if err != nil {
		return false, nil, err
	}
	return true, ids, nil
}

// borrowInternalSiblings rotates one separator through the parent's sep
// key, the classic internal-node borrow: the donor's outermost child
// crosses the boundary, sep becomes a real key on the receiving side, and
// the donor's former outermost key is promoted back up as the new sep.
func (t *Btree) borrowInternalSiblings(leftID, rightID uint64, sep []byte, cs *pagestore.Changeset) (bool, []uint64, [][]byte, error) {
	leftNode, err := t.fetch(leftID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, nil, err
	}
	rightNode, err := t.fetch(rightID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, nil, err
	}
	leftItems, leftPtrDown := t.snapshotInternalItems(leftNode)
	rightItems, rightPtrDown := t.snapshotInternalItems(rightNode)
	threshold := int(t.store.PageSize()) / 4

	var newLeftItems, newRightItems []internalItem
	var newRightPtrDown uint64
	var newSep []byte
	switch {
	case internalItemsSize(leftItems) > threshold && len(leftItems) > 0:
		moved := leftItems[len(leftItems)-1]
		newLeftItems = leftItems[:len(leftItems)-1]
		newRightItems = append([]internalItem{{key: sep, child: rightPtrDown}}, rightItems...)
		newRightPtrDown = moved.child
		newSep = moved.key
	case internalItemsSize(rightItems) > threshold && len(rightItems) > 0:
		moved := rightItems[0]
		newRightItems = rightItems[1:]
		newRightPtrDown = moved.child
		newLeftItems = append(leftItems, internalItem{key: sep, child: rightPtrDown})
		newSep = moved.key
	default:
		return false, nil, nil, nil
	}

	ids, err := t.rewriteInternalPair(leftID, rightID, leftPtrDown, newLeftItems, newRightPtrDown, newRightItems, cs)
	if err != nil {
		return false, nil, nil, err
	}
	return true, ids, [][]byte{newSep}, nil
}

// mergeInternalSiblings folds sep back in as a real key (it routed to
// rightPtrDown, which becomes an ordinary child of the merged node) and
// combines both sides into one page when they fit.
func (t *Btree) mergeInternalSiblings(leftID, rightID uint64, sep []byte, cs *pagestore.Changeset) (bool, []uint64, error) {
	leftNode, err := t.fetch(leftID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, err
	}
	rightNode, err := t.fetch(rightID, pagestore.ReadOnly, cs)
	if err != nil {
		return false, nil, err
	}
	leftItems, leftPtrDown := t.snapshotInternalItems(leftNode)
	rightItems, rightPtrDown := t.snapshotInternalItems(rightNode)
	capacity := int(t.store.PageSize()) - internalHeaderSize - 8

	combined := make([]internalItem, 0, len(leftItems)+len(rightItems)+1)
	combined = append(combined, leftItems...)
	combined = append(combined, internalItem{key: sep, child: rightPtrDown})
	combined = append(combined, rightItems...)
	if internalItemsSize(combined) > capacity {
		return false, nil, nil
	}
	ids, err := t.rebuildInternalMerged(leftID, rightID, leftPtrDown, combined, cs)
	if err != nil {
		return false, nil, err
	}
	return true, ids, nil
}

// rewriteLeafPair rewrites leftID and rightID's contents in place (the
// page count and sibling chain are unchanged by a borrow, only the item
// split point moves).
func (t *Btree) rewriteLeafPair(leftID, rightID uint64, leftItems, rightItems []leafItem, cs *pagestore.Changeset) ([]uint64, error) {
	lp, err := t.store.Fetch(leftID, pagestore.ReadWrite, cs)
	if err != nil {
		return nil, err
	}
	ln := newNode(lp.Data())
	ln.setHeader(KindLeaf, uint16(len(leftItems)))
	for i, it := range leftItems {
		ln.appendLeaf(uint16(i), it.key, it.flags, it.payload)
	}
	lp.MarkDirty()

	rp, err := t.store.Fetch(rightID, pagestore.ReadWrite, cs)
	if err != nil {
		return nil, err
	}
	rn := newNode(rp.Data())
	rn.setHeader(KindLeaf, uint16(len(rightItems)))
	for i, it := range rightItems {
		rn.appendLeaf(uint16(i), it.key, it.flags, it.payload)
	}
	rp.MarkDirty()

	return []uint64{leftID, rightID}, nil
}

// rewriteInternalPair is rewriteLeafPair's internal-node counterpart.
func (t *Btree) rewriteInternalPair(leftID, rightID uint64, leftPtrDown uint64, leftItems []internalItem, rightPtrDown uint64, rightItems []internalItem, cs *pagestore.Changeset) ([]uint64, error) {
	lp, err := t.store.Fetch(leftID, pagestore.ReadWrite, cs)
	if err != nil {
		return nil, err
	}
	ln := newNode(lp.Data())
	ln.setHeader(KindInternal, uint16(len(leftItems)))
	ln.setPtrDown(leftPtrDown)
	for i, it := range leftItems {
		ln.appendInternal(uint16(i), it.key, it.child)
	}
	lp.MarkDirty()

	rp, err := t.store.Fetch(rightID, pagestore.ReadWrite, cs)
	if err != nil {
		return nil, err
	}
	rn := newNode(rp.Data())
	rn.setHeader(KindInternal, uint16(len(rightItems)))
	rn.setPtrDown(rightPtrDown)
	for i, it := range rightItems {
		rn.appendInternal(uint16(i), it.key, it.child)
	}
	rp.MarkDirty()

	return []uint64{leftID, rightID}, nil
}

// rebuildLeafMerged writes combined into a single fresh leaf page,
// splicing it into the sibling chain where leftID and rightID used to sit
// and freeing both.
func (t *Btree) rebuildLeafMerged(leftID, rightID uint64, combined []leafItem, cs *pagestore.Changeset) ([]uint64, error) {
	var outerLeft, outerRight uint64
	if ln, err := t.fetch(leftID, pagestore.ReadOnly, cs); err == nil {
		outerLeft = ln.leftSibling()
	}
	if rn, err := t.fetch(rightID, pagestore.ReadOnly, cs); err == nil {
		outerRight = rn.rightSibling()
	}

	p, err := t.store.AllocatePage(uint16(KindLeaf), cs)
	if err != nil {
		return nil, err
	}
	nn := newNode(p.Data())
	nn.setHeader(KindLeaf, uint16(len(combined)))
	for i, it := range combined {
		nn.appendLeaf(uint16(i), it.key, it.flags, it.payload)
	}
	nn.setLeftSibling(outerLeft)
	nn.setRightSibling(outerRight)
	p.MarkDirty()

	if outerLeft != 0 {
		if ln, err := t.fetch(outerLeft, pagestore.ReadWrite, cs); err == nil {
			ln.setRightSibling(p.ID())
		}
	}
	if outerRight != 0 {
		if rn, err := t.fetch(outerRight, pagestore.ReadWrite, cs); err == nil {
			rn.setLeftSibling(p.ID())
		}
	}

	if err := t.freePageID(leftID, cs); err != nil {
		return nil, err
	}
	if err := t.freePageID(rightID, cs); err != nil {
		return nil, err
	}
	return []uint64{p.ID()}, nil
}

// rebuildInternalMerged is rebuildLeafMerged's internal-node counterpart;
// an internal node has no sibling chain to splice.
func (t *Btree) rebuildInternalMerged(leftID, rightID uint64, ptrDown uint64, combined []internalItem, cs *pagestore.Changeset) ([]uint64, error) {
	p, err := t.store.AllocatePage(uint16(KindInternal), cs)
	if err != nil {
		return nil, err
	}
	nn := newNode(p.Data())
	nn.setHeader(KindInternal, uint16(len(combined)))
	nn.setPtrDown(ptrDown)
	for i, it := range combined {
		nn.appendInternal(uint16(i), it.key, it.child)
	}
	p.MarkDirty()

	if err := t.freePageID(leftID, cs); err != nil {
		return nil, err
	}
	if err := t.freePageID(rightID, cs); err != nil {
		return nil, err
	}
	return []uint64{p.ID()}, nil
}

// replaceChildWindow rewrites pageID's children in the range
// [fromIdx, toIdx] (inclusive) with newChildren/promotedKeys —
// replaceChild generalised to a multi-child window so a borrow or merge
// can replace two adjacent children (or collapse them into one) in a
// single rebuild. newChildren must be non-empty; removeChild already
// covers the "subtree vanished entirely" case.
func (t *Btree) replaceChildWindow(pageID uint64, n node, fromIdx, toIdx uint16, newChildren []uint64, promotedKeys [][]byte, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	oldItems := make([]internalItem, n.nkeys())
	for i := uint16(0); i < n.nkeys(); i++ {
		oldItems[i] = internalItem{key: append([]byte(nil), n.internalKey(i)...), child: n.internalChild(i)}
	}
	ptrDown := n.ptrDown()

	allChildren := append([]uint64{ptrDown}, childrenOf(oldItems)...)
	allKeys := append([][]byte{nil}, keysOf(oldItems)...)

	newAllChildren := append([]uint64{}, allChildren[:fromIdx]...)
	newAllChildren = append(newAllChildren, newChildren...)
	newAllChildren = append(newAllChildren, allChildren[toIdx+1:]...)

	newAllKeys := append([][]byte{}, allKeys[:fromIdx]...)
	if fromIdx == 0 {
		newAllKeys = append(newAllKeys, nil)
	} else {
		newAllKeys = append(newAllKeys, allKeys[fromIdx])
	}
	newAllKeys = append(newAllKeys, promotedKeys...)
	newAllKeys = append(newAllKeys, allKeys[toIdx+1:]...)

	newPtrDown := newAllChildren[0]
	items := make([]internalItem, 0, len(newAllChildren)-1)
	for i := 1; i < len(newAllChildren); i++ {
		items = append(items, internalItem{key: newAllKeys[i], child: newAllChildren[i]})
	}
	return t.rebuildInternal(pageID, newPtrDown, items, cs)
}

// removeChild deletes childIdx's entry from n entirely (used when a
// recursive erase emptied that child's subtree), promoting the next
// sibling into ptrDown's slot if childIdx was 0.
func (t *Btree) removeChild(pageID uint64, n node, childIdx uint16, cs *pagestore.Changeset) ([]uint64, [][]byte, error) {
	oldItems := make([]internalItem, n.nkeys())
	for i := uint16(0); i < n.nkeys(); i++ {
		oldItems[i] = internalItem{key: append([]byte(nil), n.internalKey(i)...), child: n.internalChild(i)}
	}
	ptrDown := n.ptrDown()

	allChildren := append([]uint64{ptrDown}, childrenOf(oldItems)...)
	allKeys := append([][]byte{nil}, keysOf(oldItems)...)

	newAllChildren := append(append([]uint64{}, allChildren[:childIdx]...), allChildren[childIdx+1:]...)
	newAllKeys := append(append([][]byte{}, allKeys[:childIdx]...), allKeys[childIdx+1:]...)
	if len(newAllKeys) > 0 {
		newAllKeys[0] = nil
	}

	if len(newAllChildren) == 0 {
		if err := t.freePageID(pageID, cs); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	newPtrDown := newAllChildren[0]
	items := make([]internalItem, 0, len(newAllChildren)-1)
	for i := 1; i < len(newAllChildren); i++ {
		items = append(items, internalItem{key: newAllKeys[i], child: newAllChildren[i]})
	}
	return t.rebuildInternal(pageID, newPtrDown, items, cs)
}

// Scan walks every leaf item from the beginning of the tree in key
// order, invoking visitor for each primary record. visitor returning
// false stops the scan early. Duplicates are surfaced as their primary
// (first) record only; a cursor is required to enumerate a key's full
// duplicate set (spec.md §4.2).
func (t *Btree) Scan(visitor func(key, value []byte) bool, cs *pagestore.Changeset) error {
	root := t.rootPageID()
	if root == 0 {
		return nil
	}
	leafID, err := t.leftmostLeaf(root, cs)
	if err != nil {
		return err
	}
	for leafID != 0 {
		n, err := t.fetch(leafID, pagestore.ReadOnly, cs)
		if err != nil {
			return err
		}
		for i := uint16(0); i < n.nkeys(); i++ {
			rec, err := t.buildRecord(n, i, ApproxNone, cs)
			if err != nil {
				return err
			}
			if !visitor(rec.Key, rec.Value) {
				return nil
			}
		}
		leafID = n.rightSibling()
	}
	return nil
}

func (t *Btree) leftmostLeaf(pageID uint64, cs *pagestore.Changeset) (uint64, error) {
	for {
		n, err := t.fetch(pageID, pagestore.ReadOnly, cs)
		if err != nil {
			return 0, err
		}
		if n.isLeaf() {
			return pageID, nil
		}
		pageID = n.child(0)
	}
}

// Count returns the number of keys in the tree. If distinct is false,
// each key's duplicate count is added rather than counted once.
func (t *Btree) Count(distinct bool, cs *pagestore.Changeset) (uint64, error) {
	var total uint64
	root := t.rootPageID()
	if root == 0 {
		return 0, nil
	}
	leafID, err := t.leftmostLeaf(root, cs)
	if err != nil {
		return 0, err
	}
	for leafID != 0 {
		n, err := t.fetch(leafID, pagestore.ReadOnly, cs)
		if err != nil {
			return 0, err
		}
		for i := uint16(0); i < n.nkeys(); i++ {
			if distinct || n.leafRecFlags(i) != recDupList {
				total++
				continue
			}
			dl, err := t.readDupList(n.leafPayload(i), cs)
			if err != nil {
				return 0, err
			}
			total += uint64(len(dl.entries))
		}
		leafID = n.rightSibling()
	}
	return total, nil
}

// CheckIntegrity walks the tree verifying key ordering within every leaf
// and that every internal separator correctly bounds its subtree
// (spec.md §4.1 "check_integrity").
func (t *Btree) CheckIntegrity(cs *pagestore.Changeset) error {
	root := t.rootPageID()
	if root == 0 {
		return nil
	}
	_, _, err := t.checkNode(root, nil, nil, cs)
	return err
}

// checkNode returns the minimum and maximum key observed in pageID's
// subtree, verifying every key falls within [lo, hi) inclusive/exclusive
// bounds supplied by the caller (nil means unbounded).
func (t *Btree) checkNode(pageID uint64, lo, hi []byte, cs *pagestore.Changeset) ([]byte, []byte, error) {
	n, err := t.fetch(pageID, pagestore.ReadOnly, cs)
	if err != nil {
		return nil, nil, err
	}
	if n.isLeaf() {
		var min, max []byte
		var prev []byte
		for i := uint16(0); i < n.nkeys(); i++ {
			k := n.leafKey(i)
			if prev != nil && t.cmp(prev, k) >= 0 {
				return nil, nil, fmt.Errorf("%w: leaf page %d keys out of order", ErrIntegrityViolated, pageID)
			}
			if lo != nil && t.cmp(k, lo) < 0 {
				return nil, nil, fmt.Errorf("%w: leaf page %d key below lower bound", ErrIntegrityViolated, pageID)
			}
			if hi != nil && t.cmp(k, hi) >= 0 {
				return nil, nil, fmt.Errorf("%w: leaf page %d key at/above upper bound", ErrIntegrityViolated, pageID)
			}
			if i == 0 {
				min = k
			}
			max = k
			prev = k
		}
		return min, max, nil
	}

	var min, max []byte
	childLo := lo
	for i := uint16(0); i <= n.nkeys(); i++ {
		var childHi []byte
		if i < n.nkeys() {
			childHi = n.internalKey(i)
		} else {
			childHi = hi
		}
		cmin, cmax, err := t.checkNode(n.child(i), childLo, childHi, cs)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 && cmin != nil {
			min = cmin
		}
		if cmax != nil {
			max = cmax
		}
		childLo = childHi
	}
	return min, max, nil
}
