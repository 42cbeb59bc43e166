package pinheap

import (
	"testing"

	"github.com/dreamware/hydra/internal/verbs"
	"github.com/stretchr/testify/require"
)

func TestSegregatedDispatchesByClass(t *testing.T) {
	transport := verbs.NewLoopback()
	small := NewFreeList(NewZone(NewBase(transport), 4096))
	large := NewFreeList(NewZone(NewBase(transport), 4096))
	overflow := NewZone(NewBase(transport), 65536)

	seg := NewSegregated([]SizeClass{
		{MaxBytes: 64, Heap: small},
		{MaxBytes: 1024, Heap: large},
	}, overflow)

	b, err := seg.Alloc(32)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b.Bytes), 32)
	seg.Free(b)

	// Reused from the "small" class free list now.
	b2, err := small.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, b.Region.Addr, b2.Region.Addr)

	bOver, err := seg.Alloc(8192)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(bOver.Bytes), 8192)
}

func TestSegregatedClassBoundaryIsInclusive(t *testing.T) {
	transport := verbs.NewLoopback()
	exact := NewZone(NewBase(transport), 4096)
	over := NewZone(NewBase(transport), 4096)

	seg := NewSegregated([]SizeClass{{MaxBytes: 64, Heap: exact}}, over)

	b, err := seg.Alloc(64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b.Bytes), 64)

	// Served by the 64-byte class: the next allocation from exact shares
	// b's arena registration.
	next, err := exact.Alloc(1)
	require.NoError(t, err)
	require.Equal(t, b.Region.Rkey, next.Region.Rkey)
}
