package verbs

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Loopback is a process-local Transport: memory registration is tracked in a
// map keyed by a synthetic address, and Dial/Listen are backed by real TCP
// sockets (so the framed wire protocol in internal/wire can be exercised
// exactly as it would run between two machines, just both on localhost).
//
// It is the stand-in described in SPEC_FULL.md §6a for a real ibverbs
// transport: a production deployment swaps this type out, nothing above the
// Transport interface changes.
type Loopback struct {
	mu       sync.RWMutex
	regions  map[uintptr][]byte
	nextAddr uint64
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{regions: make(map[uintptr][]byte)}
}

func (l *Loopback) Register(b []byte) (Region, error) {
	addr := uintptr(atomic.AddUint64(&l.nextAddr, 1))
	l.mu.Lock()
	l.regions[addr] = b
	l.mu.Unlock()
	return Region{Addr: addr, Length: uint32(len(b)), Rkey: uint32(addr)}, nil
}

func (l *Loopback) Deregister(r Region) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.regions[r.Addr]; !ok {
		return errors.Newf("verbs: deregister of unknown region %#x", r.Addr)
	}
	delete(l.regions, r.Addr)
	return nil
}

// ReadAsync finds r's registration through its rkey (the registration's
// synthetic address), so a sub-region carved by RegionSlice is read from
// its offset inside that registration. It deliberately does not hold l.mu
// across the copy: it snapshots the slice header under the lock (so the map
// access itself is safe) but then copies from the exporter's live backing
// array without further synchronization, which is what lets a concurrent
// Store on the same bytes produce a torn read for the verify package to
// catch.
func (l *Loopback) ReadAsync(ctx context.Context, dst []byte, r Region) <-chan error {
	out := make(chan error, 1)
	base := uintptr(r.Rkey)
	l.mu.RLock()
	src, ok := l.regions[base]
	l.mu.RUnlock()
	if ok && r.Addr >= base && r.Addr-base <= uintptr(len(src)) {
		src = src[r.Addr-base:]
	} else {
		ok = false
	}
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			out <- ctx.Err()
			return
		default:
		}
		if !ok {
			out <- errors.Newf("verbs: read of unknown region %#x", r.Addr)
			return
		}
		n := copy(dst, src)
		if uint32(n) < r.Length {
			out <- errors.Newf("verbs: short read: wanted %d got %d", r.Length, n)
			return
		}
		out <- nil
	}()
	return out
}

func (l *Loopback) Dial(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "verbs: dial %s", addr)
	}
	return c, nil
}

func (l *Loopback) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "verbs: listen %s", addr)
	}
	return &tcpListener{ln: ln}, nil
}

type tcpListener struct{ ln net.Listener }

func (t *tcpListener) Accept() (Conn, error) { return t.ln.Accept() }
func (t *tcpListener) Close() error          { return t.ln.Close() }
func (t *tcpListener) Addr() net.Addr        { return t.ln.Addr() }

var _ Transport = (*Loopback)(nil)
