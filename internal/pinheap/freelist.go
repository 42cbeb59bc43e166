package pinheap

import "sync"

// FreeList maintains a LIFO list of freed allocations for a single size
// class (hydra/allocators/FreeListHeap.h): each reclaimed Block carries its
// own Region/rkey, so reuse never needs to re-register memory.
type FreeList struct {
	inner Heap
	mu    sync.Mutex
	free  []Block
}

// NewFreeList wraps inner with a thread-safe single-size-class free list.
func NewFreeList(inner Heap) *FreeList {
	return &FreeList{inner: inner}
}

func (f *FreeList) Alloc(n int) (Block, error) {
	f.mu.Lock()
	if l := len(f.free); l > 0 {
		b := f.free[l-1]
		f.free = f.free[:l-1]
		f.mu.Unlock()
		if len(b.Bytes) >= n {
			return Block{Bytes: b.Bytes[:n], Region: b.Region}, nil
		}
		// Reclaimed block too small for this request (a single-size-class
		// free list should never see this in practice, since callers of
		// FreeList dedicate one instance per class); fall through to the
		// backing heap rather than silently truncate.
	} else {
		f.mu.Unlock()
	}
	return f.inner.Alloc(n)
}

func (f *FreeList) Free(b Block) {
	f.mu.Lock()
	f.free = append(f.free, b)
	f.mu.Unlock()
}

var _ Heap = (*FreeList)(nil)
