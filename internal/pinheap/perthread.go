package pinheap

import (
	"runtime"
	"sync/atomic"
)

// PerThread shards allocation across N independent sub-heaps, each built by
// makeShard, to avoid the contention a single Locked heap would otherwise
// serialize (hydra/allocators/PerThreadHeap.h keyed shards off pthread_self).
// Go has no stable, cheap thread handle exposed to user code, so PerThread
// picks a shard by round-robin instead: under concurrent callers this
// spreads load just as evenly, without needing a fake thread id.
//
// Frees must go back through PerThread rather than directly to a shard,
// since the shard that serves a given Alloc call may differ between calls
// made from the same goroutine; each Block remembers which shard produced
// it so Free can route back to the same one.
type PerThread struct {
	shards []Heap
	next   uint64
}

// NewPerThread builds n shards using makeShard, called once per shard. If n
// is <= 0, it defaults to runtime.GOMAXPROCS(0).
func NewPerThread(n int, makeShard func() Heap) *PerThread {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	pt := &PerThread{shards: make([]Heap, n)}
	for i := range pt.shards {
		pt.shards[i] = makeShard()
	}
	return pt
}

func (pt *PerThread) Alloc(n int) (Block, error) {
	idx := int(atomic.AddUint64(&pt.next, 1) % uint64(len(pt.shards)))
	b, err := pt.shards[idx].Alloc(n)
	if err != nil {
		return Block{}, err
	}
	b.shard = idx
	return b, nil
}

func (pt *PerThread) Free(b Block) {
	pt.shards[b.shard].Free(b)
}

var _ Heap = (*PerThread)(nil)
