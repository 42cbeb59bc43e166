// Package chord implements spec.md §4.7.2's Chord ring: a finger table with
// periodic stabilize and fix-fingers tasks, used when the overlay needs
// nodes to join and leave without a fixed partition count known up front.
//
// Grounded on original_source/hydra/chord.h's routing_table (predecessor /
// self / successor / fingers laid out as one array of entries) and
// original_source/prototype/overlay/chord/chord_all.cc's stabilize/
// fix_fingers reference algorithm; this package models the ring purely in
// terms of keyspace.ID and a caller-supplied peer-dial hook rather than a
// concrete transport, since spec.md places the verbs/connection layer out
// of scope and the ring algorithm itself is transport-agnostic.
package chord

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dreamware/hydra/internal/keyspace"
	"github.com/dreamware/hydra/internal/overlay"
)

var errJoinNeedsPeer = errors.New("chord: Join requires a resolved seed peer; use JoinVia")

// Peer is the remote view of another ring member this node needs to talk
// to: asking it for its own routing state during join/fix-fingers/
// stabilize. A production deployment backs this with a remote read of the
// peer's node-info and routing-table cells (spec.md §4.7.2's "reading that
// node's routing table (remote read of its node-info → its routing-table
// cell)"). This module has no transport-backed implementation; this
// package's tests supply an in-process one.
type Peer interface {
	// Successor asks this peer to resolve id's successor.
	Successor(id keyspace.ID) (overlay.NodeRef, error)
	// Predecessor returns this peer's current predecessor.
	Predecessor() (overlay.NodeRef, error)
	// Notify informs this peer that candidate may be its predecessor.
	Notify(candidate overlay.NodeRef) error
}

// Dialer resolves a NodeRef into a live Peer handle.
type Dialer func(overlay.NodeRef) (Peer, error)

// Table is a Chord ring routing table local to one node.
type Table struct {
	mu sync.Mutex

	self        overlay.NodeRef
	predecessor overlay.NodeRef
	successor   overlay.NodeRef
	fingers     []overlay.NodeRef // fingers[k].node; start = self.id + 2^k

	dial Dialer
}

// New builds a Chord table for self, initially its own successor (a
// single-node ring) and with an empty predecessor, matching the state of a
// freshly-started node that has not yet joined anyone.
func New(self overlay.NodeRef, dial Dialer) *Table {
	return &Table{
		self:      self,
		successor: self,
		fingers:   make([]overlay.NodeRef, keyspace.Bits),
		dial:      dial,
	}
}

func (t *Table) Kind() overlay.OverlayKind { return overlay.Chord }
func (t *Table) Self() overlay.NodeRef     { return t.self }

// fingerStart returns self.id + 2^k, per the GLOSSARY's "finger table:
// per-node array whose k-th entry points to the successor of
// self.id + 2^k".
func (t *Table) fingerStart(k uint) keyspace.ID {
	return t.self.ID.Shift(k)
}

// Successor implements spec.md §4.7.2's successor(id): if id falls in
// (self, successor], it's our own successor; otherwise walk the ring via
// preceding_node.
func (t *Table) Successor(id keyspace.ID) (overlay.NodeRef, error) {
	t.mu.Lock()
	self, succ := t.self, t.successor
	t.mu.Unlock()

	if id.InOpen(self.ID, succ.ID) || id == succ.ID {
		return succ, nil
	}
	n, err := t.precedingNode(id)
	if err != nil {
		return overlay.NodeRef{}, err
	}
	if n.ID == self.ID {
		return succ, nil
	}
	peer, err := t.dial(n)
	if err != nil {
		return overlay.NodeRef{}, err
	}
	return peer.Successor(id)
}

// precedingNode returns the finger with the largest id strictly in
// (self.id, id), falling back to self if none qualifies (spec.md §4.7.2).
func (t *Table) precedingNode(id keyspace.ID) (overlay.NodeRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := t.self
	for k := len(t.fingers) - 1; k >= 0; k-- {
		f := t.fingers[k]
		if f.IsZero() {
			continue
		}
		if f.ID.InOpen(t.self.ID, id) && f.ID != id {
			best = f
			break
		}
	}
	return best, nil
}

// Join always returns an error: a (host, port) pair alone gives it no Peer
// handle to run the join against. JoinVia performs the join.
func (t *Table) Join(seedHost string, seedPort uint16) (keyspace.ID, error) {
	return 0, errJoinNeedsPeer
}

// JoinVia runs spec.md §4.7.2's join protocol against an already-resolved
// seed peer. The caller supplies seedPeer; nothing in this module resolves
// a seed (host, port) to a Peer. Plain Join exists to satisfy
// overlay.Table's signature and always fails.
func (t *Table) JoinVia(seed overlay.NodeRef, seedPeer Peer) error {
	succ, err := seedPeer.Successor(t.self.ID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.successor = succ
	t.mu.Unlock()

	succPeer, err := t.dial(succ)
	if err != nil {
		return err
	}
	pred, err := succPeer.Predecessor()
	if err == nil && !pred.IsZero() {
		t.mu.Lock()
		t.predecessor = pred
		t.mu.Unlock()
	}

	if err := succPeer.Notify(t.self); err != nil {
		return err
	}

	return t.initFingers(seed, succ)
}

// initFingers runs the finger-initialization pass of spec.md §4.7.2: for
// each k from 0 to w-1, reuse the previous finger's node if it already
// covers this finger's start, otherwise resolve it fresh via the seed's
// successor function.
func (t *Table) initFingers(seed, firstSuccessor overlay.NodeRef) error {
	t.mu.Lock()
	n := t.self.ID
	t.mu.Unlock()

	seedPeer, err := t.dial(seed)
	if err != nil {
		return err
	}

	prev := firstSuccessor
	for k := 0; k < len(t.fingers); k++ {
		start := t.fingerStart(uint(k))
		var node overlay.NodeRef
		if k > 0 && start.InOpen(n, prev.ID) {
			node = prev
		} else {
			node, err = seedPeer.Successor(start)
			if err != nil {
				return err
			}
		}
		t.mu.Lock()
		t.fingers[k] = node
		t.mu.Unlock()
		prev = node
	}
	return nil
}

// Stabilize implements spec.md §4.7.2's periodic stabilize task.
func (t *Table) Stabilize() error {
	t.mu.Lock()
	succ := t.successor
	self := t.self
	t.mu.Unlock()

	succPeer, err := t.dial(succ)
	if err != nil {
		return err
	}
	x, err := succPeer.Predecessor()
	if err != nil {
		return err
	}
	if !x.IsZero() && x.ID.InOpen(self.ID, succ.ID) {
		t.mu.Lock()
		t.successor = x
		succ = x
		t.mu.Unlock()
		succPeer, err = t.dial(succ)
		if err != nil {
			return err
		}
	}
	return succPeer.Notify(self)
}

// Notify implements the successor side of stabilize: accept candidate as
// our new predecessor if it lies in (current_predecessor, self) or we have
// no predecessor yet.
func (t *Table) Notify(candidate overlay.NodeRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.predecessor.IsZero() || candidate.ID.InOpen(t.predecessor.ID, t.self.ID) {
		t.predecessor = candidate
	}
}

// Predecessor returns this node's current predecessor.
func (t *Table) Predecessor() overlay.NodeRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.predecessor
}

// SuccessorNode returns this node's current immediate successor (as
// opposed to Successor(id), which resolves the owner of an arbitrary id
// anywhere on the ring).
func (t *Table) SuccessorNode() overlay.NodeRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successor
}

// FixFingers implements spec.md §4.7.2's periodic fix-fingers task: refresh
// every finger via Successor.
func (t *Table) FixFingers() error {
	t.mu.Lock()
	n := len(t.fingers)
	t.mu.Unlock()

	for k := 0; k < n; k++ {
		start := t.fingerStart(uint(k))
		node, err := t.Successor(start)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.fingers[k] = node
		t.mu.Unlock()
	}
	return nil
}

var _ overlay.Table = (*Table)(nil)
