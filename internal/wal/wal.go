// Package wal implements the Journal collaborator (spec.md §6.1, §6.3,
// §8.1 invariant 8 "recovery equivalence"): an append-only, checksummed,
// LSN-tagged log of transaction boundaries and mutations, replayed on
// open to reconstruct a state equivalent to every transaction whose
// TxnCommit record was durably journaled before a crash.
//
// Grounded on the teacher's file_ops.go masterLoad/masterStore/syncPages
// skeleton (stubbed there as "simplified implementation"; SPEC_FULL
// requires a real one) and on original_source/src/txn_local.cc's
// Journal append/flush/recover shape.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Kind is the closed set of journal record types, one per Journal
// append_* call in spec.md §6.1.
type Kind uint8

const (
	KindTxnBegin Kind = iota + 1
	KindTxnCommit
	KindTxnAbort
	KindInsert
	KindErase
)

// Record is the decoded form of one journal entry. Not every field is
// populated for every Kind: Insert/Erase carry DB, Key, Record/DupIndex,
// Flags; the Txn* kinds carry only Txn and LSN.
type Record struct {
	Kind     Kind
	LSN      uint64
	Txn      uint64
	DB       uint16
	Key      []byte
	Record   []byte
	DupIndex uint32
	Flags    uint32
}

// Journal appends records to a durable (file) or transient (in-memory)
// log and replays them back on recovery. One Journal per Environment.
type Journal struct {
	mu  sync.Mutex
	w   io.Writer
	f   *os.File
	buf []byte // in-memory log when f == nil (arena-mode environments)
}

// Open opens (creating if necessary) the journal file at path. An empty
// path yields an in-memory journal that does not survive process exit —
// consistent with the arena-mode environment it backs.
func Open(path string) (*Journal, error) {
	if path == "" {
		return &Journal{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}
	return &Journal{f: f, w: f}, nil
}

// record wire format: len(4) kind(1) lsn(8) txn(8) db(2) dupidx(4)
// flags(4) keylen(4) key reclen(4) record checksum(8)
func encodeRecord(r Record) []byte {
	body := make([]byte, 0, 64+len(r.Key)+len(r.Record))
	body = append(body, byte(r.Kind))
	body = appendUint64(body, r.LSN)
	body = appendUint64(body, r.Txn)
	body = appendUint16(body, r.DB)
	body = appendUint32(body, r.DupIndex)
	body = appendUint32(body, r.Flags)
	body = appendUint32(body, uint32(len(r.Key)))
	body = append(body, r.Key...)
	body = appendUint32(body, uint32(len(r.Record)))
	body = append(body, r.Record...)

	sum := xxhash.Sum64(body)
	out := make([]byte, 4, 4+len(body)+8)
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	out = append(out, body...)
	out = appendUint64(out, sum)
	return out
}

func appendUint16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }
func appendUint32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }
func appendUint64(b []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(b, v) }

func (j *Journal) appendRaw(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	enc := encodeRecord(rec)
	if j.w == nil {
		j.buf = append(j.buf, enc...)
		return nil
	}
	if _, err := j.w.Write(enc); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	return nil
}

func (j *Journal) AppendTxnBegin(txn, lsn uint64) error {
	return j.appendRaw(Record{Kind: KindTxnBegin, Txn: txn, LSN: lsn})
}

func (j *Journal) AppendTxnCommit(txn, lsn uint64) error {
	return j.appendRaw(Record{Kind: KindTxnCommit, Txn: txn, LSN: lsn})
}

func (j *Journal) AppendTxnAbort(txn, lsn uint64) error {
	return j.appendRaw(Record{Kind: KindTxnAbort, Txn: txn, LSN: lsn})
}

func (j *Journal) AppendInsert(db uint16, txn uint64, key, record []byte, dupIdx uint32, flags uint32, lsn uint64) error {
	return j.appendRaw(Record{Kind: KindInsert, DB: db, Txn: txn, Key: key, Record: record, DupIndex: dupIdx, Flags: flags, LSN: lsn})
}

func (j *Journal) AppendErase(db uint16, txn uint64, key []byte, dupIdx uint32, flags uint32, lsn uint64) error {
	return j.appendRaw(Record{Kind: KindErase, DB: db, Txn: txn, Key: key, DupIndex: dupIdx, Flags: flags, LSN: lsn})
}

// TransactionFlushed records that an op of txn has been applied to the
// B+tree by appending a marker record: a KindTxnCommit record for txn
// with the flushed-marker flag set. Recover returns the marker like any
// other commit record. The journal is never compacted; the records of
// flushed transactions stay in the file.
func (j *Journal) TransactionFlushed(txn uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendRawLocked(Record{Kind: KindTxnCommit, Txn: txn, LSN: 0, Flags: flushedMarker})
}

const flushedMarker = 1 << 31

func (j *Journal) appendRawLocked(rec Record) error {
	enc := encodeRecord(rec)
	if j.w == nil {
		j.buf = append(j.buf, enc...)
		return nil
	}
	if _, err := j.w.Write(enc); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	return nil
}

func (j *Journal) Sync() error {
	if j.f == nil {
		return nil
	}
	return j.f.Sync()
}

func (j *Journal) Close() error {
	if j.f == nil {
		return nil
	}
	return j.f.Close()
}

// Recover reads every well-formed record from the journal in order,
// stopping silently at the first truncated or checksum-mismatched
// record — that tail is the signature of a torn write mid-append, and
// spec.md §9 Design Notes treats it as "as if that last append never
// happened" rather than a hard integrity error.
func (j *Journal) Recover() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var r io.Reader
	if j.f != nil {
		if _, err := j.f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("wal: seek: %w", err)
		}
		r = bufio.NewReader(j.f)
	} else {
		r = newByteReader(j.buf)
	}

	var out []Record
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			break // EOF or short read: stop, no error
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			break
		}
		var sumBuf [8]byte
		if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
			break
		}
		want := binary.LittleEndian.Uint64(sumBuf[:])
		if xxhash.Sum64(body) != want {
			break
		}
		rec, err := decodeBody(body)
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	if j.f != nil {
		if _, err := j.f.Seek(0, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("wal: seek: %w", err)
		}
	}
	return out, nil
}

func decodeBody(body []byte) (Record, error) {
	if len(body) < 1+8+8+2+4+4+4 {
		return Record{}, fmt.Errorf("wal: short record")
	}
	var r Record
	off := 0
	r.Kind = Kind(body[off])
	off++
	r.LSN = binary.LittleEndian.Uint64(body[off:])
	off += 8
	r.Txn = binary.LittleEndian.Uint64(body[off:])
	off += 8
	r.DB = binary.LittleEndian.Uint16(body[off:])
	off += 2
	r.DupIndex = binary.LittleEndian.Uint32(body[off:])
	off += 4
	r.Flags = binary.LittleEndian.Uint32(body[off:])
	off += 4
	keyLen := binary.LittleEndian.Uint32(body[off:])
	off += 4
	if off+int(keyLen) > len(body) {
		return Record{}, fmt.Errorf("wal: truncated key")
	}
	r.Key = body[off : off+int(keyLen)]
	off += int(keyLen)
	if off+4 > len(body) {
		return Record{}, fmt.Errorf("wal: truncated record length")
	}
	recLen := binary.LittleEndian.Uint32(body[off:])
	off += 4
	if off+int(recLen) > len(body) {
		return Record{}, fmt.Errorf("wal: truncated record")
	}
	r.Record = body[off : off+int(recLen)]
	return r, nil
}

type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (br *byteReader) Read(p []byte) (int, error) {
	if br.pos >= len(br.b) {
		return 0, io.EOF
	}
	n := copy(p, br.b[br.pos:])
	br.pos += n
	return n, nil
}
