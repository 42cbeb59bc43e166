// Package tableentry implements the per-slot record of spec.md §3/§4.3
// (C3): the remote-visible Entry stored inside a verified cell, and the
// owner-local Shadow that exclusively owns the backing blob allocation.
//
// Grounded on hydra's rdma_ptr-based hash table entry (hash_table_server.h's
// entry struct) and verifying_ptr.h: Entry is the wire-layout payload of one
// verify.Cell[Entry], Shadow is the local resource the server keeps beside
// it and never exports.
package tableentry

import (
	"encoding/binary"

	"github.com/dreamware/hydra/internal/pinheap"
	"github.com/dreamware/hydra/internal/verify"
)

// Entry is the payload of one table-slot verified cell (spec.md §6's
// "Table region" layout): a verifying pointer to the combined key+value
// blob, the key length, the rkey exporting the blob, and a placement word
// whose meaning depends on the table variant (hopscotch: neighbor bitmap;
// cuckoo: active seed index).
type Entry struct {
	Ptr           verify.Ptr
	KeyLen        uint32
	Rkey          uint32
	PlacementWord uint32
}

// Empty is the zero-value sentinel entry (spec.md §3: "empty ⇔ pointer is
// null").
var Empty = Entry{}

// WireSize is the encoded byte length of one Entry as MarshalBinary writes
// it. It does not include the per-slot cell_hash of spec.md §6's table
// region layout.
const WireSize = 8 + 4 + 8 + 4 + 4 + 4

// IsEmpty reports whether e is the unoccupied-slot sentinel.
func (e Entry) IsEmpty() bool { return e.Ptr.IsEmpty() }

// MarshalBinary implements verify.Marshaler: Entry embeds a struct
// (verify.Ptr) so encoding/binary's struct-reflection path needs an
// explicit, stable field order instead (the cell_hash "covers all preceding
// fields" per spec.md §6).
func (e Entry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 8+4+8+4+4+4)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(e.Ptr.Addr))
	buf = append(buf, tmp[:8]...)
	binary.LittleEndian.PutUint32(tmp[:4], e.Ptr.Size)
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint64(tmp[:8], e.Ptr.Hash)
	buf = append(buf, tmp[:8]...)
	binary.LittleEndian.PutUint32(tmp[:4], e.KeyLen)
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint32(tmp[:4], e.Rkey)
	buf = append(buf, tmp[:4]...)
	binary.LittleEndian.PutUint32(tmp[:4], e.PlacementWord)
	buf = append(buf, tmp[:4]...)
	return buf, nil
}

// Cell is the verified cell wrapping one Entry, i.e. the remote-visible
// unit of one table slot.
type Cell = verify.Cell[Entry]

// Shadow is the server-local resource handle paired with one table slot
// (spec.md §3 "Server-side shadow entry"): it exclusively owns the blob
// allocation backing the slot's Entry.Ptr. Shadow is never exported to
// remote readers; only the Cell's Entry payload is.
type Shadow struct {
	Blob pinheap.Block
}

// Release frees the blob allocation back to heap, leaving the Shadow
// empty. Called on remove/overwrite (spec.md §4.4.3/§4.5.3) and when an
// occupant is evicted during cuckoo rehash without being re-placed.
func (s *Shadow) Release(heap pinheap.Heap) {
	if s.Blob.Bytes != nil {
		heap.Free(s.Blob)
	}
	*s = Shadow{}
}

// IsEmpty reports whether this shadow currently owns no allocation.
func (s Shadow) IsEmpty() bool { return s.Blob.Bytes == nil }

// Blob returns the key and value views of a shadow's backing allocation,
// given the key length recorded in the paired Entry.
func Blob(s Shadow, keyLen uint32) (key, value []byte) {
	b := s.Blob.Bytes
	return b[:keyLen], b[keyLen:]
}
