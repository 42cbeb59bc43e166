// Package verify implements the self-validating cell and verifying-pointer
// protocol of spec.md §4.2: a payload paired with a content hash so that a
// reader observing the bytes out of order and without coordination can
// detect a torn read and retry.
//
// This is the Go stand-in for hydra/RDMAObj.h's RDMAObj<T>/LocalRDMAObj<T>
// templates: where the original used C++ template instantiation, Cell[T]
// uses Go generics; Store plays the role of LocalRDMAObj's operator()
// (mutate-then-rehash), Load plays RDMAObj::valid()+get().
package verify

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Marshaler is implemented by payload types that need control over their own
// wire encoding (e.g. because they embed pointers or variable-length data).
// Types that are plain fixed-size structs of only fixed-width fields don't
// need to implement it; Cell falls back to encoding/binary in that case.
type Marshaler interface {
	MarshalBinary() ([]byte, error)
}

// Cell wraps a payload T with a 64-bit content hash. The zero Cell is a
// valid empty cell once Store has been called at least once; reading a
// genuinely zero-value Cell before any Store will report itself invalid,
// which mirrors RDMAObj's behavior of always hashing at construction.
type Cell[T any] struct {
	payload T
	hash    uint64
}

// NewCell builds an already-valid cell around payload, matching RDMAObj's
// constructor (hash computed immediately).
func NewCell[T any](payload T) Cell[T] {
	c := Cell[T]{payload: payload}
	c.rehash()
	return c
}

// Store mutates the cell's payload and immediately recomputes the content
// hash (spec.md §4.2: "mutate payload, then recompute and store the content
// hash"). No memory fence beyond normal write ordering is required; remote
// readers may observe any interleaving of these two writes.
func (c *Cell[T]) Store(payload T) {
	c.payload = payload
	c.rehash()
}

// Mutate applies fn to the current payload in place and rehashes afterward,
// the read-modify-write equivalent of LocalRDMAObj's operator()(F&&).
func (c *Cell[T]) Mutate(fn func(*T)) {
	fn(&c.payload)
	c.rehash()
}

// Load returns the payload and whether the observed hash matched the
// observed payload bytes. A false ok means a torn read: the caller should
// retry (spec.md §4.2's "Read" step).
func (c *Cell[T]) Load() (T, bool) {
	payload := c.payload
	observedHash := c.hash
	return payload, bytesHash(payload) == observedHash
}

// LoadRetry calls Load up to max times (0 means unbounded) until it
// observes a valid read, matching hydra::rdma::load's retry loop. It is
// meant for use against cells reached via a real remote-read channel; for
// purely local cells a single Load is normally enough because there is no
// concurrent writer racing the read across an interconnect.
func (c *Cell[T]) LoadRetry(max int) (T, bool) {
	for attempt := 0; max == 0 || attempt < max; attempt++ {
		if v, ok := c.Load(); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Valid reports whether the cell's current in-place state is self-consistent.
func (c *Cell[T]) Valid() bool {
	_, ok := c.Load()
	return ok
}

func (c *Cell[T]) rehash() {
	c.hash = bytesHash(c.payload)
}

func bytesHash[T any](payload T) uint64 {
	if m, ok := any(payload).(Marshaler); ok {
		b, err := m.MarshalBinary()
		if err != nil {
			return 0
		}
		return xxhash.Sum64(b)
	}
	return xxhash.Sum64(fixedWidthBytes(payload))
}

// fixedWidthBytes serializes a fixed-width struct of plain numeric fields via
// encoding/binary. Payload types with pointers, slices, or strings must
// implement Marshaler instead.
func fixedWidthBytes(payload any) []byte {
	buf := make([]byte, 0, 64)
	w := &byteCollector{buf: buf}
	_ = binary.Write(w, binary.LittleEndian, payload)
	return w.buf
}

type byteCollector struct{ buf []byte }

func (w *byteCollector) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
