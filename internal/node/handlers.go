package node

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dreamware/hydra/internal/errs"
	"github.com/dreamware/hydra/internal/keyspace"
	"github.com/dreamware/hydra/internal/overlay"
	"github.com/dreamware/hydra/internal/overlay/chord"
	"github.com/dreamware/hydra/internal/rtable"
	"github.com/dreamware/hydra/internal/verbs"
	"github.com/dreamware/hydra/internal/wire"
)

// Dispatch handles one decoded frame and returns the response frame to
// write back, per spec.md §4.6's request list. It never panics on an
// unrecognized variant; it answers with a failed ack instead, since the
// connection itself is otherwise healthy.
func (n *Node) Dispatch(f wire.Frame) wire.Frame {
	switch f.Variant {
	case wire.Init:
		return n.handleInit()
	case wire.PutInline:
		return n.handlePutInline(f)
	case wire.PutRemote:
		return n.handlePutRemote(f)
	case wire.DelInline:
		return n.handleDelInline(f)
	case wire.DelRemote:
		return n.handleDelRemote(f)
	case wire.OverlayJoin:
		return n.handleOverlayJoin(f)
	case wire.OverlayPredecessor:
		return n.handleOverlayPredecessor()
	case wire.OverlayChord:
		return n.handleOverlayChord()
	case wire.Lookup:
		return n.handleLookup(f)
	default:
		n.logger.Warn("node: unhandled frame variant", zap.Uint8("variant", uint8(f.Variant)))
		return wire.Frame{Variant: wire.RespAck, Success: false}
	}
}

// handleInit answers a freshly-dialed client with this node's current
// table-region descriptor, the entry point for every subsequent direct
// remote read (spec.md §6's init/resp.init exchange).
func (n *Node) handleInit() wire.Frame {
	n.mu.Lock()
	info, _ := n.info.Load()
	n.mu.Unlock()
	return wire.Frame{
		Variant: wire.RespInit,
		Info:    wire.MemDescriptor{Addr: info.TableAddr, Size: info.TableSize, Rkey: info.TableRkey},
	}
}

// checkOwnership rejects a write for a key this node doesn't own, per
// spec.md §7: "write arrived at a node not owning the key; rejected with
// nack; client re-resolves." A routing-resolution error (e.g. the overlay
// has no owner yet) is not itself grounds for a NotResponsible nack, since
// that isn't the condition spec.md describes; the write is let through and
// any real problem surfaces from the table operation instead.
func (n *Node) checkOwnership(key []byte) error {
	owner, err := n.overlay.Successor(keyspace.Of(key))
	if err != nil {
		return nil
	}
	if owner.ID != n.overlay.Self().ID {
		return errs.New(errs.NotResponsible, nil)
	}
	return nil
}

func notResponsibleNack() wire.Frame {
	return wire.Frame{Variant: wire.RespAck, Success: false, Reason: wire.NackNotResponsible}
}

func (n *Node) handlePutInline(f wire.Frame) wire.Frame {
	if err := n.checkOwnership(f.Key); err != nil {
		n.logger.Debug("node: rejecting put.inline for unowned key", zap.Error(err))
		return notResponsibleNack()
	}
	if err := n.put(f.Key, f.Value); err != nil {
		n.logger.Error("node: put.inline failed", zap.Error(err))
		return wire.Frame{Variant: wire.RespAck, Success: false}
	}
	n.metrics.puts.Inc()
	return wire.Frame{Variant: wire.RespAck, Success: true}
}

// handlePutRemote resolves the client-side (addr, size, rkey) descriptor
// carried in f.Remote by reading the key+value blob over the transport
// before inserting, per spec.md §6's put.remote variant ("payload lives in
// the client's registered memory; the node reads it itself").
func (n *Node) handlePutRemote(f wire.Frame) wire.Frame {
	buf := make([]byte, f.Remote.Size)
	region := verbs.Region{Addr: uintptr(f.Remote.Addr), Length: f.Remote.Size, Rkey: f.Remote.Rkey}
	if err := <-n.transport.ReadAsync(context.Background(), buf, region); err != nil {
		n.logger.Error("node: put.remote read failed", zap.Error(err))
		return wire.Frame{Variant: wire.RespAck, Success: false}
	}
	keyLen := len(f.Key)
	if keyLen > len(buf) {
		n.logger.Error("node: put.remote key length exceeds payload")
		return wire.Frame{Variant: wire.RespAck, Success: false}
	}
	if err := n.checkOwnership(buf[:keyLen]); err != nil {
		n.logger.Debug("node: rejecting put.remote for unowned key", zap.Error(err))
		return notResponsibleNack()
	}
	if err := n.put(buf[:keyLen], buf[keyLen:]); err != nil {
		n.logger.Error("node: put.remote insert failed", zap.Error(err))
		return wire.Frame{Variant: wire.RespAck, Success: false}
	}
	n.metrics.puts.Inc()
	return wire.Frame{Variant: wire.RespAck, Success: true}
}

func (n *Node) handleDelInline(f wire.Frame) wire.Frame {
	if err := n.checkOwnership(f.Key); err != nil {
		n.logger.Debug("node: rejecting del.inline for unowned key", zap.Error(err))
		return notResponsibleNack()
	}
	ok := n.remove(f.Key)
	return wire.Frame{Variant: wire.RespAck, Success: ok}
}

// handleDelRemote mirrors handlePutRemote but only needs the key bytes:
// f.Remote.Size is the key length, not a combined key+value payload.
func (n *Node) handleDelRemote(f wire.Frame) wire.Frame {
	buf := make([]byte, f.Remote.Size)
	region := verbs.Region{Addr: uintptr(f.Remote.Addr), Length: f.Remote.Size, Rkey: f.Remote.Rkey}
	if err := <-n.transport.ReadAsync(context.Background(), buf, region); err != nil {
		n.logger.Error("node: del.remote read failed", zap.Error(err))
		return wire.Frame{Variant: wire.RespAck, Success: false}
	}
	if err := n.checkOwnership(buf); err != nil {
		n.logger.Debug("node: rejecting del.remote for unowned key", zap.Error(err))
		return notResponsibleNack()
	}
	ok := n.remove(buf)
	return wire.Frame{Variant: wire.RespAck, Success: ok}
}

// handleOverlayJoin admits a new node into this node's routing view.
// overlay.Table.Join conflates range-start and assigned id (they're the
// same value for fixed partitioning; Chord's JoinVia path doesn't go
// through this generic entry point at all, see DESIGN.md), so both
// join.reply fields are populated from the one returned id.
func (n *Node) handleOverlayJoin(f wire.Frame) wire.Frame {
	id, err := n.overlay.Join(f.Host, f.Port)
	if err != nil {
		n.logger.Error("node: overlay join failed", zap.Error(err))
		return wire.Frame{Variant: wire.RespAck, Success: false}
	}
	return wire.Frame{Variant: wire.RespJoinReply, RangeStart: uint64(id), ID: uint64(id)}
}

// handleOverlayPredecessor answers a Chord peer's request for this node's
// current predecessor. It is a no-op (empty predecessor) for the Fixed
// overlay, which has no notion of one.
func (n *Node) handleOverlayPredecessor() wire.Frame {
	ct, ok := n.overlay.(*chord.Table)
	if !ok {
		return wire.Frame{Variant: wire.OverlayPredecessor}
	}
	pred := ct.Predecessor()
	return wire.Frame{Variant: wire.OverlayPredecessor, Node: nodeToWire(pred)}
}

// handleOverlayChord answers a Chord probe with this node's placement-table
// descriptor, reusing resp.init's payload shape. No finger-table region is
// registered or exported, so the response never describes a finger table.
func (n *Node) handleOverlayChord() wire.Frame {
	n.mu.Lock()
	info, _ := n.info.Load()
	n.mu.Unlock()
	return wire.Frame{
		Variant: wire.RespChord,
		Table:   wire.MemDescriptor{Addr: info.TableAddr, Size: info.TableSize, Rkey: info.TableRkey},
	}
}

// handleLookup answers a client's key lookup with the home entry's raw
// descriptor, not its value: the client is expected to follow Remote itself
// with its own one-sided read of the key+value blob and validate it against
// ID before trusting it (spec.md's get/contains data path; see DESIGN.md for
// why this one metadata hop is a server round trip rather than a direct
// remote read of the table region).
func (n *Node) handleLookup(f wire.Frame) wire.Frame {
	n.mu.Lock()
	entry, err := n.table.Descriptor(f.Key)
	n.mu.Unlock()
	if err != nil {
		if !errors.Is(err, rtable.ErrNotFound) {
			n.logger.Error("node: lookup failed", zap.Error(err))
		}
		return wire.Frame{Variant: wire.RespLookup, Success: false}
	}
	return wire.Frame{
		Variant: wire.RespLookup,
		Success: true,
		Remote:  wire.MemDescriptor{Addr: uint64(entry.Ptr.Addr), Size: entry.Ptr.Size, Rkey: entry.Rkey},
		Index:   entry.KeyLen,
		ID:      entry.Ptr.Hash,
	}
}

func nodeToWire(r overlay.NodeRef) wire.NodeWire {
	var nw wire.NodeWire
	copy(nw.IP[:], r.Host)
	binaryPutUint16(nw.Port[:2], r.Port)
	binaryPutUint64(nw.ID[:8], uint64(r.ID))
	return nw
}

func binaryPutUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func binaryPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// put inserts key→value, transparently resizing and retrying once if the
// table's placement algorithm reports it has exhausted its options
// (spec.md §4.4.4/§4.5.1: "the node resizes transparently and retries").
func (n *Node) put(key, value []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.table.Insert(key, value)
	if err == nil {
		return nil
	}
	if !errors.Is(err, rtable.ErrNeedResize) {
		n.metrics.putFailed.Inc()
		return err
	}
	if rerr := n.resizeLocked(); rerr != nil {
		n.metrics.putFailed.Inc()
		return errors.Wrap(rerr, "node: resize after need_resize")
	}
	n.metrics.resizes.Inc()
	if err := n.table.Insert(key, value); err != nil {
		n.metrics.putFailed.Inc()
		return err
	}
	return nil
}

func (n *Node) remove(key []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.table.Remove(key)
	if err != nil {
		if !errors.Is(err, rtable.ErrNotFound) {
			n.logger.Error("node: remove failed", zap.Error(err))
		}
		return false
	}
	n.metrics.dels.Inc()
	return true
}

// dumper and consistencyChecker are implemented by both table variants
// (supplemented from original_source's hopscotch-server.cpp/cuckoo-server.c++
// dump()/check_consistency(), see DESIGN.md) but live outside rtable.Table
// since they're debug-only surfaces, not part of the hot request path.
type dumper interface{ Dump(w io.Writer) error }
type consistencyChecker interface{ CheckConsistency() error }

// Dump writes the table's occupied slots to w, for the CLI's inspect
// subcommand and tests.
func (n *Node) Dump(w io.Writer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.table.(dumper)
	if !ok {
		return errors.New("node: table does not support dump")
	}
	return d.Dump(w)
}

// CheckConsistency walks the table checking shadow/entry agreement, for the
// CLI's inspect subcommand and tests. It never aborts the process on
// mismatch (spec.md §9's note against std::terminate); it returns an error.
func (n *Node) CheckConsistency() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cc, ok := n.table.(consistencyChecker)
	if !ok {
		return errors.New("node: table does not support consistency check")
	}
	return cc.CheckConsistency()
}

// resizer is implemented by hopscotch.Table (grows by its configured
// growth factor) and sizedResizer by cuckoo.Table (grows to a caller-given
// size); Node type-switches because rtable.Table itself carries no Resize
// method (spec.md §9's note that resize policy is variant-specific).
type resizer interface{ Resize() error }
type sizedResizer interface{ Resize(newSize int) error }

// resizeLocked grows the table in place and republishes the node-info
// cell's table-region descriptor to match the new slot count. Caller must
// hold n.mu.
func (n *Node) resizeLocked() error {
	switch t := n.table.(type) {
	case resizer:
		if err := t.Resize(); err != nil {
			return err
		}
	case sizedResizer:
		if err := t.Resize(n.table.Size() * 2); err != nil {
			return err
		}
	default:
		return errors.New("node: table does not support resize")
	}
	return n.publishInfo()
}
