package overlay

import "github.com/cockroachdb/errors"

// ErrNoOwner is returned when no partition/node currently claims the
// requested id (spec.md §4.7.1: "a join writes host/port into the first
// empty entry"; before any join, every entry is still empty).
var ErrNoOwner = errors.New("overlay: no owner for id")

// ErrFull is returned by Join when a fixed routing table has no empty
// entry left to claim (spec.md's Non-goals explicitly exclude dynamic
// rebalancing, so a full partition table has no fallback besides this).
var ErrFull = errors.New("overlay: routing table full")
