package pinheap

import "sync"

// Locked serializes access to an inner Heap behind a single mutex
// (hydra/allocators/LockedHeap.h used a spinlock; Go favors sync.Mutex for
// anything that can block on a syscall, which Base's transport calls can).
// Apply this layer above any stack that is shared across goroutines without
// PerThread sharding.
type Locked struct {
	mu    sync.Mutex
	inner Heap
}

// NewLocked wraps inner with mutual exclusion.
func NewLocked(inner Heap) *Locked {
	return &Locked{inner: inner}
}

func (l *Locked) Alloc(n int) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Alloc(n)
}

func (l *Locked) Free(b Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.Free(b)
}

var _ Heap = (*Locked)(nil)
