package errs

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesTaggedKind(t *testing.T) {
	err := New(NotFound, nil)
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, NeedResize))
}

func TestIsMatchesThroughWrap(t *testing.T) {
	err := errors.Wrap(New(AllocationFailure, errors.New("registration failed")), "node: put")
	require.True(t, Is(err, AllocationFailure))
	k, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, AllocationFailure, k)
}

func TestKindOfUntaggedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}
