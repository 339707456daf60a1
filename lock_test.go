package pima

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFIFOLock(t *testing.T) {
	t.Run("serves in arrival order", func(t *testing.T) {
		var l fifoLock
		require.NoError(t, l.Lock(context.Background()))

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NoError(t, l.Lock(context.Background()))
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				l.Unlock()
			}()
			waitQueued(t, &l, i+1)
		}

		l.Unlock()
		wg.Wait()
		require.Equal(t, []int{0, 1, 2, 3, 4}, order)
	})

	t.Run("cancelled waiter leaves the queue", func(t *testing.T) {
		var l fifoLock
		require.NoError(t, l.Lock(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 1)
		go func() { errs <- l.Lock(ctx) }()
		waitQueued(t, &l, 1)
		cancel()
		require.ErrorIs(t, <-errs, context.Canceled)
		require.Equal(t, 0, l.queued())

		l.Unlock()
		ctx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, l.Lock(ctx))
		l.Unlock()
	})

	t.Run("unlock of unlocked lock", func(t *testing.T) {
		var l fifoLock
		require.Panics(t, l.Unlock)
	})
}

func waitQueued(tb testing.TB, l *fifoLock, n int) {
	tb.Helper()
	require.Eventually(tb, func() bool {
		return l.queued() == n
	}, time.Second, time.Millisecond)
}
