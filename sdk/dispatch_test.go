package sdk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherKeepsOrder(t *testing.T) {
	d := newDispatcher()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, d.do(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	d.flush()

	mu.Lock()
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
	mu.Unlock()
	d.close()
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	d := newDispatcher()

	ran := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, d.do(func() { ran++ }))
	}
	d.close()
	require.Equal(t, 10, ran)

	require.ErrorIs(t, d.do(func() {}), errDispatcherClosed)
	d.flush()
	d.close()
}

func TestDispatcherCallbackMayQueueMore(t *testing.T) {
	d := newDispatcher()
	defer d.close()

	ran := 0
	require.NoError(t, d.do(func() {
		for i := 0; i < 1000; i++ {
			_ = d.do(func() { ran++ })
		}
	}))
	// The first flush lands before the nested callbacks are queued.
	d.flush()
	d.flush()
	require.Equal(t, 1000, ran)
}

func TestDispatcherCloseHandedOffFromCallback(t *testing.T) {
	d := newDispatcher()

	release := make(chan struct{})
	closed := make(chan struct{})
	ran := false
	require.NoError(t, d.do(func() {
		<-release
		go func() {
			d.close()
			close(closed)
		}()
	}))
	require.NoError(t, d.do(func() { ran = true }))
	close(release)
	<-closed

	require.True(t, ran)
	require.ErrorIs(t, d.do(func() {}), errDispatcherClosed)
}
