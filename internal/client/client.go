// Package client implements the client role of spec.md §4.8 (C8): resolve a
// key's owning node through the overlay, ask it for the home entry's
// descriptor, then read the key+value blob itself with a genuine one-sided
// transport read, validating it against the verifying pointer's content
// hash before trusting it.
//
// Grounded on johnjansen-torua's client package: a small connection-caching
// wrapper over the wire protocol, blocking its caller-facing API the way
// spec.md §5 describes ("the client is similarly asynchronous but its
// caller-facing API is blocking").
package client

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dreamware/hydra/internal/errs"
	"github.com/dreamware/hydra/internal/keyspace"
	"github.com/dreamware/hydra/internal/overlay"
	"github.com/dreamware/hydra/internal/verbs"
	"github.com/dreamware/hydra/internal/verify"
	"github.com/dreamware/hydra/internal/wire"
)

// Config tunes client behavior.
type Config struct {
	// InlineBudget is the largest combined key+value (or bare key, for del)
	// byte length sent as an inline wire payload; anything larger is
	// registered with the transport and sent as a remote descriptor instead
	// (spec.md §4.8 step 5). Must stay comfortably under the wire format's
	// 255-byte inline payload ceiling.
	InlineBudget int
	// MaxTornReadRetries bounds how many one-sided blob reads Get issues in
	// total, the first included, before giving up on content-hash
	// mismatches (spec.md §4.2's torn-read retry contract).
	MaxTornReadRetries int
}

func (c *Config) setDefaults() {
	if c.InlineBudget <= 0 {
		c.InlineBudget = 200
	}
	if c.MaxTornReadRetries <= 0 {
		c.MaxTornReadRetries = 3
	}
}

// Client issues get/put/del/contains requests against the cluster the
// supplied overlay table routes into.
type Client struct {
	cfg       Config
	transport verbs.Transport
	overlay   overlay.Table
	logger    *zap.Logger

	mu    sync.Mutex
	conns map[string]verbs.Conn
}

// New builds a Client. ov is the caller's view of the cluster's routing
// table (a fixed.Table or a chord.Table the caller has already joined into
// the overlay, or just seeded with one known peer); Client only ever drives
// it through the shared overlay.Table interface.
func New(cfg Config, transport verbs.Transport, ov overlay.Table, logger *zap.Logger) *Client {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		overlay:   ov,
		logger:    logger,
		conns:     make(map[string]verbs.Conn),
	}
}

// Close tears down every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.conns, addr)
	}
	return first
}

func addrOf(n overlay.NodeRef) string {
	return net.JoinHostPort(n.Host, strconv.Itoa(int(n.Port)))
}

// owner resolves the node responsible for key (spec.md §4.8 steps 1-2).
func (c *Client) owner(key []byte) (overlay.NodeRef, error) {
	n, err := c.overlay.Successor(keyspace.Of(key))
	if err != nil {
		return overlay.NodeRef{}, errors.Wrap(err, "client: resolve owner")
	}
	return n, nil
}

func (c *Client) conn(ctx context.Context, addr string) (verbs.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := c.transport.Dial(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "client: dial %s", addr)
	}
	c.conns[addr] = conn
	return conn, nil
}

// invalidate drops a cached connection after an I/O error, so the next
// request to the same address dials fresh rather than reusing a dead socket.
func (c *Client) invalidate(addr string) {
	c.mu.Lock()
	conn, ok := c.conns[addr]
	delete(c.conns, addr)
	c.mu.Unlock()
	if ok {
		if err := conn.Close(); err != nil {
			c.logger.Debug("client: close stale connection", zap.String("addr", addr), zap.Error(err))
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, addr string, req wire.Frame) (wire.Frame, error) {
	conn, err := c.conn(ctx, addr)
	if err != nil {
		return wire.Frame{}, err
	}
	if err := wire.WriteFrame(conn, req); err != nil {
		c.invalidate(addr)
		return wire.Frame{}, errors.Wrap(err, "client: write frame")
	}
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		c.invalidate(addr)
		return wire.Frame{}, errors.Wrap(err, "client: read frame")
	}
	return resp, nil
}

// Get retrieves key's value. It first asks the owning node to resolve the
// home entry's descriptor (wire.Lookup), then performs its own one-sided
// ReadAsync against the returned key+value blob, retrying the read if the
// blob's content hash doesn't match the descriptor's (spec.md §4.8 steps
// 3-4, §4.2's torn-read contract). A first miss is given one chance against
// a freshly re-resolved owner before being reported as absent, since the
// overlay's view of ownership may have changed since it was last consulted.
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	resp, err := c.lookup(ctx, key, true)
	if err != nil {
		return nil, false, err
	}
	if !resp.Success {
		return nil, false, nil
	}

	region := verbs.Region{Addr: uintptr(resp.Remote.Addr), Length: resp.Remote.Size, Rkey: resp.Remote.Rkey}
	ptr := verify.Ptr{Addr: region.Addr, Size: region.Length, Hash: resp.ID}
	if resp.Index > region.Length {
		return nil, false, errs.New(errs.TornRead, nil)
	}

	buf := make([]byte, region.Length)
	for attempt := 0; attempt < c.cfg.MaxTornReadRetries; attempt++ {
		if err := <-c.transport.ReadAsync(ctx, buf, region); err != nil {
			return nil, false, errors.Wrap(err, "client: read value blob")
		}
		if ptr.Verify(buf) {
			value := make([]byte, len(buf)-int(resp.Index))
			copy(value, buf[resp.Index:])
			return value, true, nil
		}
	}
	return nil, false, errs.New(errs.TornRead, nil)
}

// Contains reports whether key is present, without reading its value.
func (c *Client) Contains(ctx context.Context, key []byte) (bool, error) {
	resp, err := c.lookup(ctx, key, true)
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

// lookup sends wire.Lookup to key's owner, optionally retrying once against
// a freshly re-resolved owner on a miss.
func (c *Client) lookup(ctx context.Context, key []byte, retryOnMiss bool) (wire.Frame, error) {
	owner, err := c.owner(key)
	if err != nil {
		return wire.Frame{}, err
	}
	addr := addrOf(owner)
	resp, err := c.roundTrip(ctx, addr, wire.Frame{Variant: wire.Lookup, Key: key})
	if err != nil {
		return wire.Frame{}, err
	}
	if resp.Success || !retryOnMiss {
		return resp, nil
	}

	owner2, err := c.owner(key)
	if err != nil {
		return wire.Frame{}, err
	}
	addr2 := addrOf(owner2)
	if addr2 == addr {
		return resp, nil
	}
	return c.roundTrip(ctx, addr2, wire.Frame{Variant: wire.Lookup, Key: key})
}

// putFrame builds the inline-or-remote put.* request for key/value,
// registering a client-owned blob with the transport when the payload
// exceeds the configured inline budget (spec.md §4.8 step 5).
func (c *Client) putFrame(key, value []byte) (wire.Frame, func(), error) {
	if len(key)+len(value) <= c.cfg.InlineBudget {
		return wire.Frame{Variant: wire.PutInline, Key: key, Value: value}, func() {}, nil
	}
	blob := make([]byte, 0, len(key)+len(value))
	blob = append(blob, key...)
	blob = append(blob, value...)
	region, err := c.transport.Register(blob)
	if err != nil {
		return wire.Frame{}, nil, errors.Wrap(err, "client: register put blob")
	}
	req := wire.Frame{
		Variant: wire.PutRemote,
		Key:     key,
		Remote:  wire.MemDescriptor{Addr: uint64(region.Addr), Size: region.Length, Rkey: region.Rkey},
	}
	return req, func() { c.transport.Deregister(region) }, nil
}

// delFrame is putFrame's del.* counterpart: no value, just the key.
func (c *Client) delFrame(key []byte) (wire.Frame, func(), error) {
	if len(key) <= c.cfg.InlineBudget {
		return wire.Frame{Variant: wire.DelInline, Key: key}, func() {}, nil
	}
	region, err := c.transport.Register(append([]byte(nil), key...))
	if err != nil {
		return wire.Frame{}, nil, errors.Wrap(err, "client: register del key")
	}
	req := wire.Frame{
		Variant: wire.DelRemote,
		Key:     key,
		Remote:  wire.MemDescriptor{Addr: uint64(region.Addr), Size: region.Length, Rkey: region.Rkey},
	}
	return req, func() { c.transport.Deregister(region) }, nil
}

// sendWithNackRetry resolves key's owner, sends build's request there, and
// — on a NotResponsible nack (spec.md §7: "write arrived at a node not
// owning the key; rejected with nack; client re-resolves") — re-resolves
// the owner and retries exactly once against whatever address that yields,
// the same re-resolve-on-nack contract lookup already applies to a Get/
// Contains miss. build is called once per attempt, since a remote-variant
// request registers a fresh transport region each time.
func (c *Client) sendWithNackRetry(ctx context.Context, key []byte, build func(owner overlay.NodeRef) (wire.Frame, func(), error)) (wire.Frame, error) {
	owner, err := c.owner(key)
	if err != nil {
		return wire.Frame{}, err
	}
	req, release, err := build(owner)
	if err != nil {
		return wire.Frame{}, err
	}
	resp, err := c.roundTrip(ctx, addrOf(owner), req)
	release()
	if err != nil {
		return wire.Frame{}, err
	}
	if resp.Success || resp.Reason != wire.NackNotResponsible {
		return resp, nil
	}

	owner2, err := c.owner(key)
	if err != nil {
		return wire.Frame{}, err
	}
	if owner2 == owner {
		return resp, nil
	}
	req2, release2, err := build(owner2)
	if err != nil {
		return wire.Frame{}, err
	}
	defer release2()
	return c.roundTrip(ctx, addrOf(owner2), req2)
}

// Put inserts key→value, sending it inline when it fits the configured
// inline budget and registering a client-owned blob for a remote descriptor
// otherwise (spec.md §4.8 step 5), retrying once against a freshly
// re-resolved owner on a NotResponsible nack.
func (c *Client) Put(ctx context.Context, key, value []byte) error {
	resp, err := c.sendWithNackRetry(ctx, key, func(overlay.NodeRef) (wire.Frame, func(), error) {
		return c.putFrame(key, value)
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Reason == wire.NackNotResponsible {
			return errs.New(errs.NotResponsible, nil)
		}
		return errs.New(errs.AllocationFailure, nil)
	}
	return nil
}

// Del removes key, following the same inline/remote split and nack-retry
// as Put.
func (c *Client) Del(ctx context.Context, key []byte) error {
	resp, err := c.sendWithNackRetry(ctx, key, func(overlay.NodeRef) (wire.Frame, func(), error) {
		return c.delFrame(key)
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Reason == wire.NackNotResponsible {
			return errs.New(errs.NotResponsible, nil)
		}
		return errs.New(errs.NotFound, nil)
	}
	return nil
}
