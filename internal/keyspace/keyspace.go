// Package keyspace implements the integer ring used for routing and table
// indexing (hydra/keyspace.h in the original implementation). IDs live on a
// ring modulo 2^64: arithmetic wraps, and interval membership follows the
// ring convention rather than the linear one.
package keyspace

import "github.com/cespare/xxhash/v2"

// ID is a point on the keyspace ring. Arithmetic wraps modulo 2^64 using
// Go's native unsigned-integer overflow semantics, so Add/Sub never need an
// explicit mask.
type ID uint64

// Add returns id+delta on the ring.
func (id ID) Add(delta ID) ID { return id + delta }

// Sub returns id-delta on the ring.
func (id ID) Sub(delta ID) ID { return id - delta }

// Shift returns id + 2^k, the finger-table offset used by the Chord overlay
// (hydra/chord.h: finger[k].start = self.id + 2^k).
func (id ID) Shift(k uint) ID { return id + (ID(1) << k) }

// In reports whether id lies in the ring interval [start, end], matching the
// convention in spec.md §3: start == end means the interval contains only
// start (hydra/keyspace_t::in).
func (id ID) In(start, end ID) bool {
	if start == end {
		return id == start
	}
	return (id - start) <= (end - start)
}

// InOpen reports whether id lies in the open-on-the-left interval (start,
// end], used throughout the Chord stabilization protocol (successor ranges
// are usually expressed this way: "x in (self.id, successor.id)").
func (id ID) InOpen(start, end ID) bool {
	if id == start {
		return false
	}
	return id.In(start+1, end)
}

// Of hashes an arbitrary key onto the ring. This is a *placement* hash, not
// a content hash: it only needs to be uniform, not collision-resistant
// against torn reads, so it is kept distinct from the verify package's
// content-hash family even though both happen to use xxhash today (see
// DESIGN.md).
func Of(key []byte) ID {
	return ID(xxhash.Sum64(key))
}

// Bits is the width of the ring used for log2(keyspace) finger-table sizing
// in the Chord overlay (hydra/chord.h iterates k from 0 to w-1).
const Bits = 64
