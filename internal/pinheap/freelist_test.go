package pinheap

import (
	"testing"

	"github.com/dreamware/hydra/internal/verbs"
	"github.com/stretchr/testify/require"
)

func TestFreeListReusesFreedBlock(t *testing.T) {
	base := NewBase(verbs.NewLoopback())
	fl := NewFreeList(base)

	b1, err := fl.Alloc(64)
	require.NoError(t, err)
	firstAddr := b1.Region.Addr

	fl.Free(b1)

	b2, err := fl.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, firstAddr, b2.Region.Addr, "expected reuse of freed block")
}

func TestFreeListFallsThroughWhenEmpty(t *testing.T) {
	base := NewBase(verbs.NewLoopback())
	fl := NewFreeList(base)

	b, err := fl.Alloc(32)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(b.Bytes), 32)
}
