package pinheap

import (
	"github.com/cockroachdb/errors"
	"github.com/dreamware/hydra/internal/verbs"
)

// Alignment is the allocation alignment every layer rounds up to, matching
// hydra::AllocatorConfig::Alignment (allocators/config.h), which hydra sets
// to 128 bytes (a cache-line multiple, chosen to keep adjacent table
// entries from false-sharing a cache line under concurrent RDMA writes).
const Alignment = 128

func alignUp(n int) int {
	if n <= 0 {
		n = 1
	}
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// Base is the remote-registerable layer at the bottom of the stack
// (hydra/allocators/allocators.h's RDMAAllocator role): it carves pinned
// memory directly out of the process heap and registers it with the
// transport for remote reads. Go cannot mlock/munlock portably without
// cgo, so Base allocates ordinary (GC-owned) byte slices; what matters for
// every layer above it is the Region descriptor contract, which Base
// fulfills by registering each allocation with the transport before
// returning it.
type Base struct {
	transport verbs.Transport
}

// NewBase constructs the base allocator over the given transport.
func NewBase(transport verbs.Transport) *Base {
	return &Base{transport: transport}
}

func (b *Base) Alloc(n int) (Block, error) {
	size := alignUp(n)
	buf := make([]byte, size)
	region, err := b.transport.Register(buf)
	if err != nil {
		return Block{}, errors.Wrap(err, "pinheap: base alloc: register")
	}
	return Block{Bytes: buf[:n], Region: region}, nil
}

func (b *Base) Free(blk Block) {
	// Deregistration failures on a free path are not actionable; the
	// region simply becomes collectible once every rkey reference has
	// expired (spec.md §5's reference-counted lifetime note).
	_ = b.transport.Deregister(blk.Region)
}

var _ Heap = (*Base)(nil)
