package pinheap

import (
	"sync"
	"testing"

	"github.com/dreamware/hydra/internal/verbs"
	"github.com/stretchr/testify/require"
)

func TestPerThreadRoundRobinsAcrossShards(t *testing.T) {
	transport := verbs.NewLoopback()
	seen := make(map[int]bool)
	var mu sync.Mutex

	pt := NewPerThread(4, func() Heap {
		return NewLocked(NewZone(NewBase(transport), 4096))
	})

	for i := 0; i < 16; i++ {
		b, err := pt.Alloc(16)
		require.NoError(t, err)
		mu.Lock()
		seen[b.shard] = true
		mu.Unlock()
	}
	require.Greater(t, len(seen), 1, "expected allocations spread across more than one shard")
}

func TestPerThreadFreeRoutesToOriginatingShard(t *testing.T) {
	transport := verbs.NewLoopback()
	pt := NewPerThread(4, func() Heap {
		return NewFreeList(NewZone(NewBase(transport), 4096))
	})

	b, err := pt.Alloc(32)
	require.NoError(t, err)
	shard := b.shard
	pt.Free(b)

	b2, err := pt.shards[shard].Alloc(32)
	require.NoError(t, err)
	require.Equal(t, b.Region.Addr, b2.Region.Addr)
}
