package client_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/hydra/internal/client"
	"github.com/dreamware/hydra/internal/hopscotch"
	"github.com/dreamware/hydra/internal/node"
	"github.com/dreamware/hydra/internal/overlay"
	"github.com/dreamware/hydra/internal/overlay/fixed"
	"github.com/dreamware/hydra/internal/rtable"
	"github.com/dreamware/hydra/internal/verbs"
)

// startTestNode brings up a real node bound to an ephemeral TCP port, backed
// by a single-partition fixed overlay that owns the entire keyspace, and
// returns it alongside a Client already pointed at its own overlay view
// (the simplest topology where routing and serving are the same process,
// sufficient to exercise the client's wire-level request flow end to end).
func startTestNode(t *testing.T) (*node.Node, *client.Client) {
	t.Helper()
	transport := verbs.NewLoopback()
	self := overlay.NodeRef{ID: 1, Host: "127.0.0.1", Port: 0}
	ov := fixed.New(1, 0, self)

	n, err := node.New(node.Config{
		ListenAddr: "127.0.0.1:0",
		TableKind:  rtable.Hopscotch,
		Hopscotch:  hopscotch.Config{InitialSize: 16, HopRange: 4},
		Workers:    2,
	}, transport, ov, zap.NewNop())
	require.NoError(t, err)

	ready := make(chan struct{})
	go func() {
		go func() {
			for n.Addr() == nil {
				time.Sleep(time.Millisecond)
			}
			close(ready)
		}()
		_ = n.Start(context.Background())
	}()
	<-ready

	// Re-home the overlay's sole entry on the listener's actual ephemeral
	// port, so the client's Successor() resolution dials somewhere real.
	addr := n.Addr()
	host, port := splitHostPort(t, addr.String())
	ov.Update(0, overlay.NodeRef{ID: self.ID, Host: host, Port: port})

	c := client.New(client.Config{}, transport, ov, zap.NewNop())
	t.Cleanup(func() {
		c.Close()
		n.Close()
	})
	return n, c
}

func splitHostPort(t *testing.T, addr string) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return host, uint16(port)
}

func TestClientPutGetContainsDel(t *testing.T) {
	_, c := startTestNode(t)
	ctx := context.Background()

	ok, err := c.Contains(ctx, []byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, []byte("hello"), []byte("world")))

	ok, err = c.Contains(ctx, []byte("hello"))
	require.NoError(t, err)
	require.True(t, ok)

	v, found, err := c.Get(ctx, []byte("hello"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "world", string(v))

	require.NoError(t, c.Del(ctx, []byte("hello")))

	_, found, err = c.Get(ctx, []byte("hello"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestClientPutLargeValueUsesRemoteDescriptor(t *testing.T) {
	_, c := startTestNode(t)
	ctx := context.Background()

	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, c.Put(ctx, []byte("bigkey"), big))

	v, found, err := c.Get(ctx, []byte("bigkey"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big, v)
}

func TestClientDelMissingKeyFails(t *testing.T) {
	_, c := startTestNode(t)
	err := c.Del(context.Background(), []byte("never-existed"))
	require.Error(t, err)
}
