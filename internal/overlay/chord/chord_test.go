package chord

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dreamware/hydra/internal/keyspace"
	"github.com/dreamware/hydra/internal/overlay"
	"github.com/stretchr/testify/require"
)

var errUnknownPeer = errors.New("chord test: unknown peer")

// ring is an in-process registry of chord Tables used as each other's Peer,
// standing in for the remote node-info/routing-table reads spec.md §4.7.2
// describes; no transport-backed Dialer exists in this module.
type ring struct {
	byID map[keyspace.ID]*Table
}

func newRing() *ring { return &ring{byID: make(map[keyspace.ID]*Table)} }

func (r *ring) add(t *Table) { r.byID[t.Self().ID] = t }

func (r *ring) dial(n overlay.NodeRef) (Peer, error) {
	t, ok := r.byID[n.ID]
	if !ok {
		return nil, errUnknownPeer
	}
	return tablePeer{t}, nil
}

// tablePeer adapts a local *Table to the Peer interface so nodes in the
// test ring can call each other directly without any transport.
type tablePeer struct{ t *Table }

func (p tablePeer) Successor(id keyspace.ID) (overlay.NodeRef, error) { return p.t.Successor(id) }
func (p tablePeer) Predecessor() (overlay.NodeRef, error)             { return p.t.Predecessor(), nil }
func (p tablePeer) Notify(candidate overlay.NodeRef) error            { p.t.Notify(candidate); return nil }

func node(id keyspace.ID) overlay.NodeRef {
	return overlay.NodeRef{ID: id, Host: "127.0.0.1", Port: uint16(id)}
}

// TestChordRingConvergence reproduces spec.md §8 scenario 6: 5 nodes join
// one at a time through the same seed; after each join runs one
// stabilize+fix-fingers round across all nodes, every node's
// successor.predecessor == self, and successor(k) agrees across nodes for
// a sampled set of keys.
func TestChordRingConvergence(t *testing.T) {
	r := newRing()

	seedRef := node(1000)
	seed := New(seedRef, r.dial)
	r.add(seed)

	ids := []keyspace.ID{2000, 500, 3000, 1500}
	var tables []*Table
	tables = append(tables, seed)

	for _, id := range ids {
		self := node(id)
		tbl := New(self, r.dial)
		r.add(tbl)

		seedPeer, err := r.dial(seedRef)
		require.NoError(t, err)
		require.NoError(t, tbl.JoinVia(seedRef, seedPeer))
		tables = append(tables, tbl)

		runStabilizeRound(t, tables)
	}

	for _, tbl := range tables {
		succPeer, err := r.dial(tbl.SuccessorNode())
		require.NoError(t, err)
		pred, err := succPeer.Predecessor()
		require.NoError(t, err)
		require.Equal(t, tbl.Self().ID, pred.ID, "successor.predecessor must equal self for node %d", tbl.Self().ID)
	}

	samples := []keyspace.ID{100, 600, 1600, 2500, 3500}
	for _, k := range samples {
		var first overlay.NodeRef
		for i, tbl := range tables {
			n, err := tbl.Successor(k)
			require.NoError(t, err)
			if i == 0 {
				first = n
			} else {
				require.Equal(t, first.ID, n.ID, "successor(%d) disagreed from node %d", k, tbl.Self().ID)
			}
		}
	}
}

func runStabilizeRound(t *testing.T, tables []*Table) {
	t.Helper()
	for _, tbl := range tables {
		require.NoError(t, tbl.Stabilize())
	}
	for _, tbl := range tables {
		require.NoError(t, tbl.FixFingers())
	}
}
