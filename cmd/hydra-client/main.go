// Command hydra-client is a manual-testing CLI for the cluster's get/put/
// del/contains operations (spec.md §4.8's client role, SPEC_FULL.md §4.8's
// supplemented cmd/hydra-client), mirroring the teacher's pattern of one
// cmd/ binary per externally-facing role.
//
// It resolves the owning node purely through a local fixed-partition
// routing view built from --partitions/--peer flags (the same static
// cluster description cmd/hydra-node's fixed overlay accepts); this client
// never claims a partition of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dreamware/hydra/internal/client"
	"github.com/dreamware/hydra/internal/overlay"
	"github.com/dreamware/hydra/internal/overlay/fixed"
	"github.com/dreamware/hydra/internal/verbs"
)

// noOwnedPartition marks a client's routing view as claiming nothing of its
// own: it only ever resolves keys to other nodes' partitions.
const noOwnedPartition = -1

func main() {
	clusterFlags := []cli.Flag{
		&cli.IntFlag{Name: "partitions", Value: 1, Usage: "fixed overlay: total partitions in the cluster"},
		&cli.StringSliceFlag{Name: "peer", Usage: "known peer as index=host:port, repeatable"},
		&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per-request timeout"},
	}

	app := &cli.App{
		Name:  "hydra-client",
		Usage: "get/put/del/contains against a hydra cluster",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "fetch a key's value",
				ArgsUsage: "<key>",
				Flags:     clusterFlags,
				Action:    withClient(actionGet),
			},
			{
				Name:      "contains",
				Usage:     "report whether a key exists",
				ArgsUsage: "<key>",
				Flags:     clusterFlags,
				Action:    withClient(actionContains),
			},
			{
				Name:      "put",
				Usage:     "store a key/value pair",
				ArgsUsage: "<key> <value>",
				Flags:     clusterFlags,
				Action:    withClient(actionPut),
			},
			{
				Name:      "del",
				Usage:     "remove a key",
				ArgsUsage: "<key>",
				Flags:     clusterFlags,
				Action:    withClient(actionDel),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withClient builds the shared client/transport/overlay plumbing once per
// invocation and hands the decoded args to fn.
func withClient(fn func(ctx context.Context, c *client.Client, args []string) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		ov, err := buildRoutingView(cctx)
		if err != nil {
			return err
		}
		transport := verbs.NewLoopback()
		c := client.New(client.Config{}, transport, ov, zap.NewNop())
		defer c.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cctx.Duration("timeout"))
		defer cancel()
		return fn(ctx, c, cctx.Args().Slice())
	}
}

func buildRoutingView(cctx *cli.Context) (overlay.Table, error) {
	partitions := cctx.Int("partitions")
	ov := fixed.New(partitions, noOwnedPartition, overlay.NodeRef{})
	for _, raw := range cctx.StringSlice("peer") {
		idx, ref, err := parsePeer(raw)
		if err != nil {
			return nil, err
		}
		ref.ID = fixed.RangeStart(partitions, idx)
		ov.Update(idx, ref)
	}
	return ov, nil
}

func parsePeer(raw string) (int, overlay.NodeRef, error) {
	eq := strings.IndexByte(raw, '=')
	if eq < 0 {
		return 0, overlay.NodeRef{}, errors.Newf("invalid --peer %q: want index=host:port", raw)
	}
	idx, err := strconv.Atoi(raw[:eq])
	if err != nil {
		return 0, overlay.NodeRef{}, errors.Wrapf(err, "invalid --peer index in %q", raw)
	}
	i := strings.LastIndexByte(raw, ':')
	if i < 0 || i <= eq {
		return 0, overlay.NodeRef{}, errors.Newf("invalid --peer address in %q", raw)
	}
	port, err := strconv.Atoi(raw[i+1:])
	if err != nil {
		return 0, overlay.NodeRef{}, errors.Wrapf(err, "invalid --peer port in %q", raw)
	}
	return idx, overlay.NodeRef{Host: raw[eq+1 : i], Port: uint16(port)}, nil
}

func actionGet(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hydra-client get [flags] <key>")
	}
	v, ok, err := c.Get(ctx, []byte(args[0]))
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf("key %q not found", args[0])
	}
	fmt.Println(string(v))
	return nil
}

func actionContains(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hydra-client contains [flags] <key>")
	}
	ok, err := c.Contains(ctx, []byte(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

func actionPut(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: hydra-client put [flags] <key> <value>")
	}
	return c.Put(ctx, []byte(args[0]), []byte(args[1]))
}

func actionDel(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hydra-client del [flags] <key>")
	}
	return c.Del(ctx, []byte(args[0]))
}
