// Package rtable defines the shared surface both server table variants
// (internal/hopscotch, internal/cuckoo) implement, per spec.md §9's design
// note that the source's abstract-hash-table inheritance "collapses to
// tagged variants": TableKind names which concrete algorithm a Table wraps,
// dispatched through this one interface rather than a class hierarchy.
package rtable

import (
	"github.com/cockroachdb/errors"
	"github.com/dreamware/hydra/internal/tableentry"
)

// TableKind tags which placement algorithm a Table uses.
type TableKind int

const (
	Hopscotch TableKind = iota
	Cuckoo
)

func (k TableKind) String() string {
	switch k {
	case Hopscotch:
		return "hopscotch"
	case Cuckoo:
		return "cuckoo"
	default:
		return "unknown"
	}
}

// ErrNeedResize is returned by Insert when placement is exhausted: every
// slot the algorithm is willing to probe is occupied (hopscotch: no free
// slot reachable by cascade; cuckoo: rehash itself failed within its
// iteration budget). Per spec.md §4.4.4/§4.5.1 the caller (internal/node)
// is expected to resize and retry; ErrNeedResize is not itself an error
// surfaced to clients.
var ErrNeedResize = errors.New("rtable: need resize")

// ErrNotFound is returned by Lookup/Remove when the key is absent.
var ErrNotFound = errors.New("rtable: not found")

// Table is the interface internal/node drives regardless of which
// placement algorithm backs a node's table.
type Table interface {
	Kind() TableKind

	// Insert places key→value, overwriting an existing occupant of the
	// same key. Returns ErrNeedResize if placement failed.
	Insert(key, value []byte) error

	// Lookup returns the value for key, or ErrNotFound.
	Lookup(key []byte) ([]byte, error)

	// Contains reports whether key is present without returning its value.
	Contains(key []byte) bool

	// Descriptor returns key's raw table-entry descriptor without
	// materializing its value, so a caller can issue its own one-sided
	// read of the combined key+value blob (spec.md's get/contains data
	// path: "zero or more remote reads of neighborhood entries or the
	// key/value blob").
	Descriptor(key []byte) (tableentry.Entry, error)

	// Remove deletes key, or returns ErrNotFound.
	Remove(key []byte) error

	// Len reports the number of occupied slots (spec.md §8: "used ==
	// |{i : slot i is non-empty}|").
	Len() int

	// Size reports the table's current slot count.
	Size() int
}
