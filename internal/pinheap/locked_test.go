package pinheap

import (
	"sync"
	"testing"

	"github.com/dreamware/hydra/internal/verbs"
	"github.com/stretchr/testify/require"
)

func TestLockedSerializesConcurrentAlloc(t *testing.T) {
	transport := verbs.NewLoopback()
	lh := NewLocked(NewZone(NewBase(transport), 4096))

	const n = 64
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := lh.Alloc(16)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}
