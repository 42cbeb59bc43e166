package verify

import "github.com/cespare/xxhash/v2"

// Ptr is the verifying pointer of spec.md §3: a remote-memory descriptor
// plus the content hash of its referent, so that a reader who later fetches
// the referent bytes can check that the pointer and the blob were
// consistent at the instant they were both produced.
//
// It is the Go analogue of hydra/verifying_ptr.h's verifying_ptr<T>.
type Ptr struct {
	Addr uintptr
	Size uint32
	Hash uint64
}

// NilPtr is the empty verifying pointer (spec.md §3 invariant: "empty ⇔
// pointer is null").
var NilPtr = Ptr{}

// NewPtr builds a verifying pointer over the given referent bytes, hashing
// them immediately (verifying_ptr's constructor does the same with
// hydra::hash64).
func NewPtr(addr uintptr, b []byte) Ptr {
	return Ptr{Addr: addr, Size: uint32(len(b)), Hash: xxhash.Sum64(b)}
}

// IsEmpty reports whether this is the null pointer.
func (p Ptr) IsEmpty() bool { return p.Addr == 0 && p.Size == 0 }

// Verify reports whether b is consistent with the hash recorded when this
// pointer was built. A false result means the referent was overwritten
// since the pointer was produced (spec.md §4.2's "Failure mode"): the
// caller should re-read the owning cell and follow its current pointer.
func (p Ptr) Verify(b []byte) bool {
	if uint32(len(b)) != p.Size {
		return false
	}
	return xxhash.Sum64(b) == p.Hash
}
