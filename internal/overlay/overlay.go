// Package overlay defines the shared routing-table surface of spec.md §4.7
// (C7): internal/overlay/fixed and internal/overlay/chord each implement
// Table, dispatched through OverlayKind per spec.md §9's design note that
// the source's abstract routing-table hierarchy "collapses to tagged
// variants."
package overlay

import (
	"github.com/dreamware/hydra/internal/keyspace"
	"github.com/dreamware/hydra/internal/verify"
)

// OverlayKind tags which routing algorithm a Table uses.
type OverlayKind int

const (
	Fixed OverlayKind = iota
	Chord
)

func (k OverlayKind) String() string {
	switch k {
	case Fixed:
		return "fixed"
	case Chord:
		return "chord"
	default:
		return "unknown"
	}
}

// NodeRef identifies one node for routing purposes: its keyspace id and its
// dial address (spec.md §6's "node {ip[16], port[6], id}").
type NodeRef struct {
	ID   keyspace.ID
	Host string
	Port uint16
}

// IsZero reports whether r is the unset node reference.
func (r NodeRef) IsZero() bool { return r == NodeRef{} }

// RoutingEntry is one verified-cell payload of a routing-table region
// (spec.md §3 "Routing entry"): the start of the key range this entry
// covers plus the node that currently owns it.
type RoutingEntry struct {
	RangeStart keyspace.ID
	Node       NodeRef
}

// MarshalBinary implements verify.Marshaler, since NodeRef.Host is a string
// (not a fixed-width field encoding/binary can reflect over directly).
func (e RoutingEntry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 8+8+2+len(e.Node.Host))
	buf = appendUint64(buf, uint64(e.RangeStart))
	buf = appendUint64(buf, uint64(e.Node.ID))
	buf = appendUint16(buf, e.Node.Port)
	buf = append(buf, []byte(e.Node.Host)...)
	return buf, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (8 * i))
	}
	return append(buf, tmp[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

// RoutingCell is the verified cell wrapping one RoutingEntry.
type RoutingCell = verify.Cell[RoutingEntry]

// Table is the interface internal/node and internal/client drive regardless
// of overlay variant.
type Table interface {
	Kind() OverlayKind

	// Successor returns the node responsible for id. For Chord that is the
	// node whose id is the smallest one not less than id, wrapping around;
	// for fixed partitioning it is the owner of the partition whose
	// interval contains id.
	Successor(id keyspace.ID) (NodeRef, error)

	// Join registers a new node into the overlay, returning the range
	// start and id it was assigned (spec.md §6's join.reply).
	Join(host string, port uint16) (keyspace.ID, error)

	// Self returns this table's own node.
	Self() NodeRef
}
