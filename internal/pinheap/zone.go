package pinheap

import (
	"github.com/cockroachdb/errors"
	"github.com/dreamware/hydra/internal/verbs"
)

// Zone is a bump allocator over fixed-size chunks pulled from the layer
// below (hydra/allocators/ZoneHeap.h). Individual frees are no-ops; memory
// is reclaimed only when the whole Zone is discarded. It is intended for
// short-lived allocations such as inbound message buffers, and as a feeder
// for the layers above it.
type Zone struct {
	inner     Heap
	chunkSize int
	arenas    []Block
	remaining int
	cur       int
}

// NewZone wraps inner with chunk-at-a-time bump allocation.
func NewZone(inner Heap, chunkSize int) *Zone {
	if chunkSize < Alignment {
		chunkSize = Alignment
	}
	return &Zone{inner: inner, chunkSize: chunkSize}
}

func (z *Zone) Alloc(n int) (Block, error) {
	size := alignUp(n)
	if z.remaining < size {
		if err := z.expand(max(size, z.chunkSize)); err != nil {
			return Block{}, err
		}
	}
	arena := z.arenas[len(z.arenas)-1]
	b := Block{
		Bytes:  arena.Bytes[z.cur : z.cur+n : z.cur+size],
		Region: verbs.RegionSlice(arena.Region, z.cur, n),
	}
	z.cur += size
	z.remaining -= size
	return b, nil
}

// Free is a no-op: Zone memory is reclaimed per-chunk, not per-allocation.
func (z *Zone) Free(Block) {}

func (z *Zone) expand(size int) error {
	arena, err := z.inner.Alloc(size)
	if err != nil {
		return errors.Wrap(err, "pinheap: zone expand")
	}
	z.arenas = append(z.arenas, arena)
	z.remaining = size
	z.cur = 0
	return nil
}

var _ Heap = (*Zone)(nil)
