// Package verbs defines the transport boundary the rest of this module is
// built against. spec.md places the low-level verbs wrapper and the RDMA
// connection manager out of scope ("external collaborators, specified only
// at their boundary"); this package is that boundary. Everything above it
// (internal/pinheap, internal/node, internal/client, ...) talks only to the
// Transport interface, never to a concrete networking API, so a real
// ibverbs-backed implementation can be substituted without touching the
// hash tables, the allocator stack, or the overlay.
package verbs

import (
	"context"
	"net"
)

// Region is a remote-memory descriptor: the address, length, and remote
// access key (rkey) a peer needs to issue a one-sided read against a
// registered memory region. It is the Go form of the (addr, size, rkey)
// triple that appears throughout spec.md §6.
type Region struct {
	Addr   uintptr
	Length uint32
	Rkey   uint32
}

// IsNil reports whether r is the null region (spec.md §3: "empty ⇔ pointer
// is null").
func (r Region) IsNil() bool { return r.Addr == 0 && r.Length == 0 }

// RegionSlice carves a sub-region [offset, offset+length) out of a larger
// registered region, sharing its rkey. This is how an arena allocator
// (pinheap.Zone) hands out sub-allocations of one registration without
// registering each one individually: spec.md §4.1 permits an rkey to
// outlive one allocation when "the registration is shared with the layer
// below."
func RegionSlice(base Region, offset, length int) Region {
	return Region{
		Addr:   base.Addr + uintptr(offset),
		Length: uint32(length),
		Rkey:   base.Rkey,
	}
}

// Conn is one reliable connection to a peer node, carrying the framed
// request/response traffic of spec.md §6.
type Conn interface {
	net.Conn
}

// Listener accepts inbound Conns.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// Transport is the boundary interface standing in for the verbs
// wrapper/connection manager spec.md places out of scope. It provides two
// independent facilities: memory registration for one-sided remote reads,
// and ordinary connected byte streams for the framed message protocol.
type Transport interface {
	// Register exports b for remote reading and returns its descriptor.
	// The returned Region remains valid until Deregister is called; per
	// spec.md §5, deregistration is tied to the lifetime of the
	// top-level allocation that owns b.
	Register(b []byte) (Region, error)

	// Deregister releases a previously-registered region. It is an error
	// to deregister a region that still has an allocation's rkey handed
	// out to a remote peer in a real RDMA deployment; the loopback
	// transport only asserts the region was registered.
	Deregister(r Region) error

	// ReadAsync issues a one-sided read of len(dst) bytes from r into
	// dst, returning a channel that receives exactly one error (nil on
	// success) when the read completes. It does not take any lock on
	// the exported region: concurrent writers may interleave with the
	// copy, which is precisely the torn-read scenario the verify
	// package is built to tolerate.
	ReadAsync(ctx context.Context, dst []byte, r Region) <-chan error

	// Dial opens a new framed-message connection to addr.
	Dial(ctx context.Context, addr string) (Conn, error)

	// Listen starts accepting framed-message connections on addr.
	Listen(addr string) (Listener, error)
}
