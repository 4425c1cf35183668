package pagestore

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// backend is the storage medium a Store is layered over: either a
// memory-mapped file (the durable case) or a growable in-memory arena
// (spec.md §9 supplemented HAM_IN_MEMORY mode — a database that never
// touches disk, useful for scratch/test environments).
type backend interface {
	readPage(id uint64, pageSize uint32, dst []byte) error
	writePage(id uint64, pageSize uint32, src []byte) error
	// readPrefix reads up to len(dst) bytes starting at byte offset 0,
	// used only to probe page 0's header before the real page size is
	// known. Returns fewer bytes than len(dst) (via a shorter dst slice
	// on the caller's side) if the backend is smaller.
	readPrefix(dst []byte) (int, error)
	growTo(numPages uint64, pageSize uint32) error
	numPages(pageSize uint32) uint64
	sync() error
	lock() error
	close() error
}

// fileBackend mmaps the whole environment file and remaps on growth,
// the way the teacher's mmapInit/extendFile/extendMmap grow the chunk
// list — simplified here to a single contiguous region, since
// golang.org/x/sys/unix lets us remap cheaply on 64-bit hosts.
type fileBackend struct {
	mu   sync.Mutex
	file *os.File
	data []byte // mmap'd region, len is a multiple of page size
}

func openFileBackend(path string, create bool) (*fileBackend, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	fb := &fileBackend{file: f}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if st.Size() > 0 {
		if err := fb.mmapCurrent(st.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return fb, nil
}

func (fb *fileBackend) mmapCurrent(size int64) error {
	data, err := unix.Mmap(int(fb.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: mmap: %v", ErrIO, err)
	}
	fb.data = data
	return nil
}

func (fb *fileBackend) readPage(id uint64, pageSize uint32, dst []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	off := id * uint64(pageSize)
	if off+uint64(pageSize) > uint64(len(fb.data)) {
		return fmt.Errorf("%w: page %d", ErrNoSuchPage, id)
	}
	copy(dst, fb.data[off:off+uint64(pageSize)])
	return nil
}

func (fb *fileBackend) writePage(id uint64, pageSize uint32, src []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	off := id * uint64(pageSize)
	if off+uint64(pageSize) > uint64(len(fb.data)) {
		return fmt.Errorf("%w: page %d", ErrNoSuchPage, id)
	}
	copy(fb.data[off:off+uint64(pageSize)], src)
	return nil
}

func (fb *fileBackend) readPrefix(dst []byte) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := len(dst)
	if n > len(fb.data) {
		n = len(fb.data)
	}
	copy(dst, fb.data[:n])
	return n, nil
}

func (fb *fileBackend) growTo(numPages uint64, pageSize uint32) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	newSize := int64(numPages) * int64(pageSize)
	if newSize <= int64(len(fb.data)) {
		return nil
	}
	if err := fb.file.Truncate(newSize); err != nil {
		return fmt.Errorf("%w: truncate: %v", ErrIO, err)
	}
	if fb.data != nil {
		if err := unix.Munmap(fb.data); err != nil {
			return fmt.Errorf("%w: munmap: %v", ErrIO, err)
		}
		fb.data = nil
	}
	data, err := unix.Mmap(int(fb.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: mmap: %v", ErrIO, err)
	}
	fb.data = data
	return nil
}

func (fb *fileBackend) numPages(pageSize uint32) uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return uint64(len(fb.data)) / uint64(pageSize)
}

func (fb *fileBackend) sync() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.data != nil {
		if err := unix.Msync(fb.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("%w: msync: %v", ErrIO, err)
		}
	}
	return fb.file.Sync()
}

// lock takes an advisory, exclusive, non-blocking lock on the whole
// file (spec §5 "one process opens the environment at a time").
func (fb *fileBackend) lock() error {
	if err := unix.Flock(int(fb.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("%w: environment already locked by another process: %v", ErrIO, err)
	}
	return nil
}

func (fb *fileBackend) close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.data != nil {
		unix.Munmap(fb.data)
		fb.data = nil
	}
	return fb.file.Close()
}

// arenaBackend is the in-memory, non-durable backend.
type arenaBackend struct {
	mu   sync.Mutex
	data []byte
}

func newArenaBackend() *arenaBackend { return &arenaBackend{} }

func (ab *arenaBackend) readPage(id uint64, pageSize uint32, dst []byte) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	off := id * uint64(pageSize)
	if off+uint64(pageSize) > uint64(len(ab.data)) {
		return fmt.Errorf("%w: page %d", ErrNoSuchPage, id)
	}
	copy(dst, ab.data[off:off+uint64(pageSize)])
	return nil
}

func (ab *arenaBackend) writePage(id uint64, pageSize uint32, src []byte) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	off := id * uint64(pageSize)
	if off+uint64(pageSize) > uint64(len(ab.data)) {
		return fmt.Errorf("%w: page %d", ErrNoSuchPage, id)
	}
	copy(ab.data[off:off+uint64(pageSize)], src)
	return nil
}

func (ab *arenaBackend) readPrefix(dst []byte) (int, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	n := len(dst)
	if n > len(ab.data) {
		n = len(ab.data)
	}
	copy(dst, ab.data[:n])
	return n, nil
}

func (ab *arenaBackend) growTo(numPages uint64, pageSize uint32) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	newSize := int(numPages) * int(pageSize)
	if newSize <= len(ab.data) {
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, ab.data)
	ab.data = grown
	return nil
}

func (ab *arenaBackend) numPages(pageSize uint32) uint64 {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return uint64(len(ab.data)) / uint64(pageSize)
}

func (ab *arenaBackend) sync() error { return nil }
func (ab *arenaBackend) lock() error { return nil }
func (ab *arenaBackend) close() error { return nil }
