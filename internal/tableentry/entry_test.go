package tableentry

import (
	"testing"

	"github.com/dreamware/hydra/internal/pinheap"
	"github.com/dreamware/hydra/internal/verbs"
	"github.com/dreamware/hydra/internal/verify"
	"github.com/stretchr/testify/require"
)

func TestEmptyEntryHasNilPointer(t *testing.T) {
	require.True(t, Empty.IsEmpty())
	require.True(t, Empty.Ptr.IsEmpty())
}

func TestCellRoundTripsEntry(t *testing.T) {
	blob := []byte("keyval")
	ptr := verify.NewPtr(0x1000, blob)
	e := Entry{Ptr: ptr, KeyLen: 3, Rkey: 42, PlacementWord: 0b101}

	cell := verify.NewCell(e)
	got, ok := cell.Load()
	require.True(t, ok)
	require.Equal(t, e, got)
}

func TestShadowReleaseFreesBlobAndClears(t *testing.T) {
	transport := verbs.NewLoopback()
	heap := pinheap.NewBase(transport)

	blk, err := heap.Alloc(16)
	require.NoError(t, err)

	sh := Shadow{Blob: blk}
	require.False(t, sh.IsEmpty())

	sh.Release(heap)
	require.True(t, sh.IsEmpty())
}

func TestBlobSplitsKeyAndValue(t *testing.T) {
	sh := Shadow{Blob: pinheap.Block{Bytes: []byte("abckvval")}}
	key, value := Blob(sh, 3)
	require.Equal(t, "abc", string(key))
	require.Equal(t, "kvval", string(value))
}
