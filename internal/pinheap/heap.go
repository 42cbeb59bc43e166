// Package pinheap implements the tiered allocator stack of spec.md §4.1: a
// remote-registerable base allocator wrapped by layers that each add one
// policy (bump allocation, free lists, size-class segregation, locking,
// per-thread sharding) and delegate to the layer below.
//
// The layering is grounded on hydra/allocators/*.h, where each C++ template
// (ZoneHeap<SuperHeap, N>, FreeListHeap<SuperHeap>, ...) wraps a SuperHeap
// type parameter. Go has no template specialization, so each layer here
// holds its inner Heap as a plain interface value rather than a type
// parameter; the composition (what wraps what) is still built the same way,
// by constructing the stack bottom-up and passing each layer into the next.
package pinheap

import "github.com/dreamware/hydra/internal/verbs"

// Block is a single allocation returned by a Heap: a local byte-slice view
// plus the Region descriptor a remote peer needs to read it, matching
// spec.md §4.1's "every pointer returned is accompanied by the
// memory-region descriptor of the underlying registration."
type Block struct {
	Bytes  []byte
	Region verbs.Region

	// shard records which PerThread sub-heap produced this Block, so Free
	// can route back to the same one. Zero value is fine for Blocks never
	// touched by PerThread.
	shard int
}

// Heap is the common interface every layer implements, mirroring the
// `malloc<T>(n_elems)` member every hydra allocator template provides.
type Heap interface {
	// Alloc returns a Block of at least n bytes.
	Alloc(n int) (Block, error)
	// Free returns a Block to this heap. Layers for which free is a
	// no-op (Zone) simply ignore it.
	Free(b Block)
}
