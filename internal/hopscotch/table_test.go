package hopscotch

import (
	"fmt"
	"testing"

	"github.com/dreamware/hydra/internal/pinheap"
	"github.com/dreamware/hydra/internal/rtable"
	"github.com/dreamware/hydra/internal/tableentry"
	"github.com/dreamware/hydra/internal/verbs"
	"github.com/stretchr/testify/require"
)

func newTestTable(cfg Config) *Table {
	transport := verbs.NewLoopback()
	heap := pinheap.NewLocked(pinheap.NewZone(pinheap.NewBase(transport), 1<<16))
	return New(heap, cfg)
}

func TestRoundTripInsertLookup(t *testing.T) {
	tbl := newTestTable(Config{})
	require.NoError(t, tbl.Insert([]byte("hello"), []byte("world")))
	v, err := tbl.Lookup([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "world", string(v))
}

func TestLookupAbsentReturnsNotFound(t *testing.T) {
	tbl := newTestTable(Config{})
	_, err := tbl.Lookup([]byte("absent"))
	require.ErrorIs(t, err, rtable.ErrNotFound)
}

func TestIdempotentInsertSameSlot(t *testing.T) {
	tbl := newTestTable(Config{})
	require.NoError(t, tbl.Insert([]byte("k"), []byte("v1")))
	home := homeOf([]byte("k"), len(tbl.cells))
	idx1 := tbl.findIndexLocked([]byte("k"), home)

	require.NoError(t, tbl.Insert([]byte("k"), []byte("v2")))
	idx2 := tbl.findIndexLocked([]byte("k"), home)

	require.Equal(t, idx1, idx2)
	v, err := tbl.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
	require.Equal(t, 1, tbl.Len())
}

func TestRemoveThenLookupNotFound(t *testing.T) {
	tbl := newTestTable(Config{})
	require.NoError(t, tbl.Insert([]byte("k"), []byte("v")))
	require.NoError(t, tbl.Remove([]byte("k")))
	_, err := tbl.Lookup([]byte("k"))
	require.ErrorIs(t, err, rtable.ErrNotFound)
	require.Equal(t, 0, tbl.Len())
}

// TestCollisionNeighborhood reproduces spec.md §8 scenario 2: three keys
// whose home all resolve to slot 7 must place at 7, 8, 9 with placement
// word 0b111 at the home slot.
func TestCollisionNeighborhood(t *testing.T) {
	tbl := newTestTable(Config{InitialSize: 16, HopRange: 32})

	home := 7
	keys := findKeysHomingTo(t, tbl, home, 3)
	for _, k := range keys {
		require.NoError(t, tbl.Insert(k, append([]byte("v-"), k...)))
	}

	homeEntry, ok := tbl.cells[home].Load()
	require.True(t, ok)
	require.Equal(t, uint32(0b111), homeEntry.PlacementWord)

	for _, k := range keys {
		v, err := tbl.Lookup(k)
		require.NoError(t, err)
		require.Equal(t, append([]byte("v-"), k...), v)
	}
}

// TestHopscotchCascade forces a cascade move: fill home 7's whole hop range
// (slots 7..14), put a key homing to 15 at slot 15, then insert a key
// homing to 8. That key's nearest free slot (16) is out of its range, so the
// occupant of 15 moves to 16 and the new key takes 15; afterward the
// placement invariant must still hold for every key.
func TestHopscotchCascade(t *testing.T) {
	tbl := newTestTable(Config{InitialSize: 64, HopRange: 8})
	home := 7
	keys := findKeysHomingTo(t, tbl, home, int(tbl.hopRange))
	keys = append(keys, findKeysHomingTo(t, tbl, home+int(tbl.hopRange), 1)...)
	keys = append(keys, findKeysHomingTo(t, tbl, home+1, 1)...)

	for i, k := range keys {
		err := tbl.Insert(k, []byte(fmt.Sprintf("v%d", i)))
		require.NoError(t, err, "insert %d failed", i)
	}

	for i, k := range keys {
		v, err := tbl.Lookup(k)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
	assertPlacementInvariant(t, tbl)
}

func TestResizePreservesContents(t *testing.T) {
	tbl := newTestTable(Config{InitialSize: 8, HopRange: 8, GrowthFactor: 1.3})
	const K = 20
	inserted := make(map[string]string)
	for i := 0; i < K; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v := fmt.Sprintf("val-%03d", i)
		for {
			err := tbl.Insert([]byte(k), []byte(v))
			if err == rtable.ErrNeedResize {
				require.NoError(t, tbl.Resize())
				continue
			}
			require.NoError(t, err)
			break
		}
		inserted[k] = v
	}

	require.Equal(t, K, tbl.Len())
	for k, v := range inserted {
		got, err := tbl.Lookup([]byte(k))
		require.NoError(t, err)
		require.Equal(t, v, string(got))
	}
	assertPlacementInvariant(t, tbl)
}

func assertPlacementInvariant(t *testing.T, tbl *Table) {
	t.Helper()
	n := len(tbl.cells)
	for i := 0; i < n; i++ {
		e, ok := tbl.cells[i].Load()
		require.True(t, ok)
		if e.IsEmpty() {
			continue
		}
		require.False(t, tbl.shadows[i].IsEmpty())
		k, _ := tableentry.Blob(tbl.shadows[i], e.KeyLen)
		home := homeOf(k, n)
		distance := mod(i-home, n)
		require.Less(t, distance, int(tbl.hopRange))
		homeEntry, ok := tbl.cells[home].Load()
		require.True(t, ok)
		require.NotZero(t, homeEntry.PlacementWord&(1<<uint(distance)))
	}
}

// findKeysHomingTo brute-force searches for n distinct keys whose home
// slot under the table's current size is exactly home.
func findKeysHomingTo(t *testing.T, tbl *Table, home, n int) [][]byte {
	t.Helper()
	var out [][]byte
	for i := 0; len(out) < n; i++ {
		k := []byte(fmt.Sprintf("k%d", i))
		if homeOf(k, len(tbl.cells)) == home {
			out = append(out, k)
		}
		require.Less(t, i, 1_000_000, "failed to find enough keys homing to slot")
	}
	return out
}
