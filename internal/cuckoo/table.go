// Package cuckoo implements the d-ary cuckoo server table of spec.md §4.5
// (C5): d independent hash seeds per table, insertion by displacement chain
// bounded to a fixed number of kicks, and a full rehash (fresh seeds, full
// reinsert pass) on displacement-chain exhaustion.
//
// Grounded on original_source/hydra/cuckoo-server.{h,c++}: index, add,
// remove, and rehash are direct translations; the C++ CityHash64WithSeed
// per-seed hash becomes murmur3.Sum64WithSeed (spec.md names no particular
// hash family for the cuckoo seeds, only that they must be independent, so
// this substitutes one seeded 64-bit hash for another).
package cuckoo

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/dreamware/hydra/internal/pinheap"
	"github.com/dreamware/hydra/internal/rtable"
	"github.com/dreamware/hydra/internal/tableentry"
	"github.com/dreamware/hydra/internal/verify"
	"github.com/spaolacci/murmur3"
)

// maxKicks bounds the displacement chain length before a table gives up and
// rehashes (spec.md §4.5.1: "e.g., 32").
const maxKicks = 32

// Config configures a new Table.
type Config struct {
	// HashCount is d, the number of independent hash seeds (spec.md's
	// hash_count option; default 4).
	HashCount int
	// InitialSize is the starting slot count.
	InitialSize int
}

// Table is the d-ary cuckoo placement algorithm's implementation of
// rtable.Table.
type Table struct {
	heap  pinheap.Heap
	seeds []uint32

	cells   []tableentry.Cell
	shadows []tableentry.Shadow
	used    int

	rehashing bool
	rng       *rand.Rand
	rehashes  int
}

// New builds an empty cuckoo table over heap.
func New(heap pinheap.Heap, cfg Config) *Table {
	if cfg.HashCount <= 0 {
		cfg.HashCount = 4
	}
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = 32
	}
	t := &Table{heap: heap, rng: rand.New(rand.NewPCG(0x9e3779b97f4a7c15, 0xbf58476d1ce4e5b9))}
	t.cells = make([]tableentry.Cell, cfg.InitialSize)
	t.shadows = make([]tableentry.Shadow, cfg.InitialSize)
	for i := range t.cells {
		t.cells[i] = verify.NewCell(tableentry.Empty)
	}
	t.seeds = make([]uint32, cfg.HashCount)
	t.drawSeeds()
	return t
}

func (t *Table) Kind() rtable.TableKind { return rtable.Cuckoo }

func (t *Table) Len() int  { return t.used }
func (t *Table) Size() int { return len(t.cells) }

// drawSeeds picks fresh, independent hash seeds for this table's d slots,
// used at construction and again on every rehash (spec.md §4.5.1's "fresh
// seeds" step). Quality requirements are independence across seeds and
// across rehashes, not cryptographic strength, so a math/rand/v2 PCG source
// is sufficient. New seeds that source with fixed constants, so every table
// draws the same seed sequence.
func (t *Table) drawSeeds() {
	for i := range t.seeds {
		t.seeds[i] = t.rng.Uint32()
	}
}

func (t *Table) index(key []byte, seed uint32) int {
	return int(murmur3.Sum64WithSeed(key, seed) % uint64(len(t.cells)))
}

func (t *Table) keyAt(i int, keyLen uint32) []byte {
	k, _ := tableentry.Blob(t.shadows[i], keyLen)
	return k
}

func (t *Table) hasKeyAt(i int, key []byte) bool {
	if t.shadows[i].IsEmpty() {
		return false
	}
	e, ok := t.cells[i].Load()
	if !ok || int(e.KeyLen) != len(key) {
		return false
	}
	return string(t.keyAt(i, e.KeyLen)) == string(key)
}

func (t *Table) allocBlob(key, value []byte) (pinheap.Block, error) {
	blk, err := t.heap.Alloc(len(key) + len(value))
	if err != nil {
		return pinheap.Block{}, err
	}
	n := copy(blk.Bytes, key)
	copy(blk.Bytes[n:], value)
	return blk, nil
}

// maxRehashAttempts bounds how many full rehash passes one Insert call will
// trigger before giving up, matching spec.md §4.5.1's "if rehashing itself
// fails within its iteration budget, return NEED_RESIZE".
const maxRehashAttempts = 4

// Insert implements spec.md §4.5.1.
func (t *Table) Insert(key, value []byte) error {
	blk, err := t.allocBlob(key, value)
	if err != nil {
		return err
	}
	return t.insertBlob(key, blk, 0)
}

// insertBlob places an already-allocated blob following spec.md §4.5.1's
// probe-then-displace algorithm. attempt counts full rehash passes already
// performed for this logical insert, bounding retries per maxRehashAttempts.
func (t *Table) insertBlob(key []byte, blk pinheap.Block, attempt int) error {
	entry := tableentry.Entry{
		Ptr:    verify.NewPtr(blk.Region.Addr, blk.Bytes),
		Rkey:   blk.Region.Rkey,
		KeyLen: uint32(len(key)),
	}
	shadow := tableentry.Shadow{Blob: blk}

	for i := 0; i < len(t.seeds); i++ {
		idx := t.index(key, t.seeds[i])
		if t.hasKeyAt(idx, key) {
			old := t.shadows[idx]
			t.place(idx, entry, shadow, uint32(i))
			old.Release(t.heap)
			return nil
		}
	}
	for i := 0; i < len(t.seeds); i++ {
		idx := t.index(key, t.seeds[i])
		if t.shadows[idx].IsEmpty() {
			t.place(idx, entry, shadow, uint32(i))
			if !t.rehashing {
				t.used++
			}
			return nil
		}
	}

	seed := 0
	curKey, curEntry, curShadow := key, entry, shadow
	for kicks := 0; kicks < maxKicks; kicks++ {
		idx := t.index(curKey, t.seeds[seed])
		evictedEntry, _ := t.cells[idx].Load()
		evictedShadow := t.shadows[idx]
		var evictedKey []byte
		if !evictedShadow.IsEmpty() {
			evictedKey = append([]byte(nil), t.keyAt(idx, evictedEntry.KeyLen)...)
		}

		t.place(idx, curEntry, curShadow, uint32(seed))

		if evictedShadow.IsEmpty() {
			if !t.rehashing {
				t.used++
			}
			return nil
		}

		curKey = evictedKey
		curEntry = evictedEntry
		curShadow = evictedShadow
		seed = (seed + 1) % len(t.seeds)
	}

	if attempt+1 >= maxRehashAttempts {
		return rtable.ErrNeedResize
	}
	t.rehash()
	return t.insertBlob(key, blk, attempt+1)
}

func (t *Table) place(idx int, e tableentry.Entry, s tableentry.Shadow, seedIdx uint32) {
	e.PlacementWord = seedIdx
	t.cells[idx].Store(e)
	t.shadows[idx] = s
}

// rehash draws fresh seeds and reinserts every occupant, per spec.md
// §4.5.1's "declare failure and rehash" and §4.5.4's "rehash does not
// change used".
func (t *Table) rehash() {
	t.rehashes++
	t.drawSeeds()

	wasRehashing := t.rehashing
	t.rehashing = true
	defer func() { t.rehashing = wasRehashing }()

	cells := t.cells
	shadows := t.shadows
	t.cells = make([]tableentry.Cell, len(cells))
	t.shadows = make([]tableentry.Shadow, len(shadows))
	for i := range t.cells {
		t.cells[i] = verify.NewCell(tableentry.Empty)
	}

	for i := range cells {
		e, ok := cells[i].Load()
		if !ok || e.IsEmpty() || shadows[i].IsEmpty() {
			continue
		}
		key := append([]byte(nil), t.blobKeyOf(shadows[i], e.KeyLen)...)
		blk := shadows[i].Blob
		if err := t.insertBlob(key, blk, 0); err != nil {
			// The displacement chain failed again immediately after a
			// fresh rehash; spec.md §4.5.1 treats this as NEED_RESIZE
			// rather than looping rehash indefinitely.
			shadows[i].Release(t.heap)
		}
	}
}

func (t *Table) blobKeyOf(s tableentry.Shadow, keyLen uint32) []byte {
	k, _ := tableentry.Blob(s, keyLen)
	return k
}

func (t *Table) Lookup(key []byte) ([]byte, error) {
	idx := t.findIndex(key)
	if idx < 0 {
		return nil, rtable.ErrNotFound
	}
	e, ok := t.cells[idx].Load()
	if !ok {
		return nil, rtable.ErrNotFound
	}
	_, v := tableentry.Blob(t.shadows[idx], e.KeyLen)
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *Table) Contains(key []byte) bool {
	return t.findIndex(key) >= 0
}

// Descriptor returns key's raw entry without copying its value, so the
// caller can perform its own one-sided read of the blob the entry's
// verify.Ptr describes.
func (t *Table) Descriptor(key []byte) (tableentry.Entry, error) {
	idx := t.findIndex(key)
	if idx < 0 {
		return tableentry.Entry{}, rtable.ErrNotFound
	}
	e, ok := t.cells[idx].Load()
	if !ok {
		return tableentry.Entry{}, rtable.ErrNotFound
	}
	return e, nil
}

func (t *Table) findIndex(key []byte) int {
	for _, seed := range t.seeds {
		idx := t.index(key, seed)
		if t.hasKeyAt(idx, key) {
			return idx
		}
	}
	return -1
}

func (t *Table) Remove(key []byte) error {
	idx := t.findIndex(key)
	if idx < 0 {
		return rtable.ErrNotFound
	}
	t.shadows[idx].Release(t.heap)
	t.cells[idx].Store(tableentry.Empty)
	t.used--
	return nil
}

// Resize grows the table (spec.md §4.4.4 describes resize for hopscotch;
// §9's design note applies the same "hold exclusive lock for the duration
// of resize" choice uniformly across both table kinds). The caller
// (internal/node) serializes calls to Resize with calls to Insert/Remove.
func (t *Table) Resize(newSize int) error {
	if newSize <= len(t.cells) {
		newSize = len(t.cells) + 1
	}

	oldCells, oldShadows := t.cells, t.shadows
	t.cells = make([]tableentry.Cell, newSize)
	t.shadows = make([]tableentry.Shadow, newSize)
	for i := range t.cells {
		t.cells[i] = verify.NewCell(tableentry.Empty)
	}
	t.used = 0
	t.drawSeeds()

	for i := range oldCells {
		e, ok := oldCells[i].Load()
		if !ok || e.IsEmpty() || oldShadows[i].IsEmpty() {
			continue
		}
		key := append([]byte(nil), t.blobKeyOf(oldShadows[i], e.KeyLen)...)
		if err := t.insertBlob(key, oldShadows[i].Blob, 0); err != nil {
			return rtable.ErrNeedResize
		}
	}
	return nil
}

// CheckConsistency walks every slot comparing its verified-cell entry
// against its shadow, the Go analogue of cuckoo-server.c++'s
// check_consistency (which aborts the process on mismatch; per spec.md
// §9's resize-safety note this returns an error instead).
func (t *Table) CheckConsistency() error {
	count := 0
	for i := range t.cells {
		e, ok := t.cells[i].Load()
		if !ok {
			return errors.Newf("cuckoo: torn cell at slot %d", i)
		}
		if e.IsEmpty() {
			if !t.shadows[i].IsEmpty() {
				return errors.Newf("cuckoo: slot %d has an empty entry but a non-empty shadow", i)
			}
			continue
		}
		if t.shadows[i].IsEmpty() {
			return errors.Newf("cuckoo: slot %d has an occupied entry but an empty shadow", i)
		}
		count++
	}
	if count != t.used {
		return errors.Newf("cuckoo: used=%d but counted %d occupied slots", t.used, count)
	}
	return nil
}

// Dump writes one line per occupied slot (index, key, value) to w. Used by
// tests and the CLI's inspect subcommand; not on any hot path.
func (t *Table) Dump(w io.Writer) error {
	for i := range t.cells {
		e, ok := t.cells[i].Load()
		if !ok || e.IsEmpty() || t.shadows[i].IsEmpty() {
			continue
		}
		k, v := tableentry.Blob(t.shadows[i], e.KeyLen)
		if _, err := fmt.Fprintf(w, "%d\t%q\t%q\n", i, k, v); err != nil {
			return err
		}
	}
	return nil
}

var _ rtable.Table = (*Table)(nil)
