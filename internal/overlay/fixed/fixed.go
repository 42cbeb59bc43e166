// Package fixed implements spec.md §4.7.1's fixed-partitioning overlay: the
// keyspace is divided at construction into S equal intervals, each backed
// by one routing-table entry that a join fills in; successor(id) is a
// linear scan for the containing interval.
//
// Grounded on original_source/hydra/fixed_network.h's routing_table, whose
// vector<entry_t> of LocalRDMAObj<routing_entry> becomes a slice of
// overlay.RoutingCell here.
package fixed

import (
	"sync"

	"github.com/dreamware/hydra/internal/keyspace"
	"github.com/dreamware/hydra/internal/overlay"
	"github.com/dreamware/hydra/internal/verify"
)

// Table is a static-partition routing table.
type Table struct {
	mu      sync.Mutex
	entries []overlay.RoutingCell
	self    overlay.NodeRef
	selfIdx int
}

// RangeStart computes the start of partition index's interval for a keyspace
// divided into partitions equal intervals, the same formula New uses to seed
// each entry. Exported so callers assembling a routing view from static
// cluster configuration (cmd/hydra-node's --peer flag) can compute a peer's
// id without constructing a Table from its perspective.
func RangeStart(partitions, index int) keyspace.ID {
	if partitions <= 0 {
		partitions = 1
	}
	width := ^uint64(0) / uint64(partitions)
	return keyspace.ID(uint64(index) * width)
}

// New partitions the keyspace into partitions equal intervals and marks
// the entry at selfIndex as owned by self (the node constructing its own
// routing view). Every other entry starts empty until Join fills it.
func New(partitions int, selfIndex int, self overlay.NodeRef) *Table {
	if partitions <= 0 {
		partitions = 1
	}
	t := &Table{entries: make([]overlay.RoutingCell, partitions), self: self, selfIdx: selfIndex}
	for i := range t.entries {
		entry := overlay.RoutingEntry{RangeStart: RangeStart(partitions, i)}
		if i == selfIndex {
			entry.Node = self
		}
		t.entries[i] = verify.NewCell(entry)
	}
	return t
}

func (t *Table) Kind() overlay.OverlayKind { return overlay.Fixed }

func (t *Table) Self() overlay.NodeRef { return t.self }

// Successor performs the linear scan of spec.md §4.7.1: the interval whose
// [start, nextStart) contains id, wrapping at the last partition.
func (t *Table) Successor(id keyspace.ID) (overlay.NodeRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	if n == 1 {
		// A single partition covers the whole ring (spec.md §8: "a
		// keyspace of size 1 routes every key to the sole node"), not
		// just the interval's start point under the empty-interval
		// convention.
		e, ok := t.entries[0].Load()
		if !ok || e.Node.IsZero() {
			return overlay.NodeRef{}, overlay.ErrNoOwner
		}
		return e.Node, nil
	}
	for i := 0; i < n; i++ {
		start, ok := t.entries[i].Load()
		if !ok {
			continue
		}
		var end keyspace.ID
		if i+1 < n {
			next, ok := t.entries[i+1].Load()
			if !ok {
				continue
			}
			end = next.RangeStart
		} else {
			end = t.mustStart(0)
		}
		if id.In(start.RangeStart, end-1) && !start.Node.IsZero() {
			return start.Node, nil
		}
	}
	return overlay.NodeRef{}, overlay.ErrNoOwner
}

func (t *Table) mustStart(i int) keyspace.ID {
	e, _ := t.entries[i].Load()
	return e.RangeStart
}

// Join claims the first empty partition entry for (host, port), per
// spec.md §4.7.1: "a join writes host/port into the first empty entry."
func (t *Table) Join(host string, port uint16) (keyspace.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		e, ok := t.entries[i].Load()
		if !ok {
			continue
		}
		if e.Node.IsZero() {
			e.Node = overlay.NodeRef{ID: e.RangeStart, Host: host, Port: port}
			t.entries[i].Store(e)
			return e.RangeStart, nil
		}
	}
	return 0, overlay.ErrFull
}

// Update installs node at partition index. Callers use it to assemble a
// routing view from static configuration; nothing in this module sends or
// handles overlay.update frames, so a Join on one node's table does not
// reach any other node's table.
func (t *Table) Update(index int, node overlay.NodeRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.entries) {
		return
	}
	e, ok := t.entries[index].Load()
	if !ok {
		return
	}
	e.Node = node
	t.entries[index].Store(e)
}

var _ overlay.Table = (*Table)(nil)
