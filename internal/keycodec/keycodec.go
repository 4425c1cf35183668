// Package keycodec implements the KeyCompare collaborator (spec §3, §6.1):
// a total order over raw key bytes, type-aware over fixed-width integers,
// IEEE floats, or lexicographic byte strings.
package keycodec

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ridgekv/ridgekv/internal/binfmt"
)

// Kind is the closed set of on-disk key types a database may declare.
type Kind uint8

const (
	KindBytes   Kind = iota // variable-length, lexicographic
	KindUint8               // fixed 1-byte unsigned integer
	KindUint16              // fixed 2-byte unsigned integer
	KindUint32              // fixed 4-byte unsigned integer
	KindUint64              // fixed 8-byte unsigned integer
	KindFloat32             // IEEE-754 single precision
	KindFloat64             // IEEE-754 double precision
)

// Unlimited marks a KindBytes descriptor as having no maximum key size.
const Unlimited = 0

// Descriptor controls both the compare function and the fixed leaf slot
// size for a database's keys.
type Descriptor struct {
	Kind    Kind
	MaxSize uint32 // 0 (Unlimited) only valid for KindBytes
}

// FixedSize reports the fixed on-disk size for integer/float kinds, or
// false for KindBytes (variable length).
func (d Descriptor) FixedSize() (uint32, bool) {
	switch d.Kind {
	case KindUint8:
		return 1, true
	case KindUint16:
		return 2, true
	case KindUint32, KindFloat32:
		return 4, true
	case KindUint64, KindFloat64:
		return 8, true
	default:
		return 0, false
	}
}

// Validate checks a key's length against the descriptor, returning
// ErrInvalidKeySize-class errors for the caller to wrap.
func (d Descriptor) Validate(key []byte) error {
	if n, fixed := d.FixedSize(); fixed {
		if uint32(len(key)) != n {
			return fmt.Errorf("key size %d does not match fixed key type (want %d)", len(key), n)
		}
		return nil
	}
	if d.MaxSize != Unlimited && uint32(len(key)) > d.MaxSize {
		return fmt.Errorf("key size %d exceeds configured maximum %d", len(key), d.MaxSize)
	}
	return nil
}

// Compare implements the total order for the descriptor's key kind.
// Behaviour is unspecified (but deterministic) if a or b violate
// Validate for this descriptor.
func (d Descriptor) Compare(a, b []byte) int {
	switch d.Kind {
	case KindUint8:
		return cmpUint(uint64(a[0]), uint64(b[0]))
	case KindUint16:
		return cmpUint(uint64(binfmt.Uint16(a)), uint64(binfmt.Uint16(b)))
	case KindUint32:
		return cmpUint(uint64(binfmt.Uint32(a)), uint64(binfmt.Uint32(b)))
	case KindUint64:
		return cmpUint(binfmt.Uint64(a), binfmt.Uint64(b))
	case KindFloat32:
		fa := math.Float32frombits(binfmt.Uint32(a))
		fb := math.Float32frombits(binfmt.Uint32(b))
		return cmpFloat(float64(fa), float64(fb))
	case KindFloat64:
		fa := math.Float64frombits(binfmt.Uint64(a))
		fb := math.Float64frombits(binfmt.Uint64(b))
		return cmpFloat(fa, fb)
	default: // KindBytes
		return bytes.Compare(a, b)
	}
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
