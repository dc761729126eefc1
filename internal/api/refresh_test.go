package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshGateSingleFlight(t *testing.T) {
	var g refreshGate
	var calls atomic.Int32
	release := make(chan struct{})

	leaderDone := make(chan string, 1)
	go func() {
		tok, _ := g.run(context.Background(), func() (string, error) {
			calls.Add(1)
			<-release
			return "tok-1", nil
		})
		leaderDone <- tok
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	const waiters = 4
	var wg sync.WaitGroup
	got := make([]string, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = g.run(context.Background(), func() (string, error) {
				calls.Add(1)
				return "never", nil
			})
		}(i)
	}
	require.Eventually(t, func() bool { return g.pending() == waiters }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	require.Equal(t, "tok-1", <-leaderDone)
	for _, tok := range got {
		require.Equal(t, "tok-1", tok)
	}
	require.EqualValues(t, 1, calls.Load())
	require.Zero(t, g.pending())
}

func TestRefreshGateSharesFailure(t *testing.T) {
	var g refreshGate
	boom := errors.New("boom")
	release := make(chan struct{})
	started := make(chan struct{})

	leaderErr := make(chan error, 1)
	go func() {
		_, err := g.run(context.Background(), func() (string, error) {
			close(started)
			<-release
			return "", boom
		})
		leaderErr <- err
	}()
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := g.run(context.Background(), func() (string, error) { return "x", nil })
		waiterErr <- err
	}()
	require.Eventually(t, func() bool { return g.pending() == 1 }, time.Second, time.Millisecond)

	close(release)
	require.ErrorIs(t, <-leaderErr, boom)
	require.ErrorIs(t, <-waiterErr, boom)

	// The gate is open again.
	tok, err := g.run(context.Background(), func() (string, error) { return "next", nil })
	require.NoError(t, err)
	require.Equal(t, "next", tok)
}

func TestRefreshGateReleasedAfterPanic(t *testing.T) {
	var g refreshGate
	require.Panics(t, func() {
		_, _ = g.run(context.Background(), func() (string, error) { panic("refresh blew up") })
	})

	tok, err := g.run(context.Background(), func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", tok)
}

func TestRefreshGateWaiterCancellation(t *testing.T) {
	var g refreshGate
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = g.run(context.Background(), func() (string, error) {
			close(started)
			<-release
			return "tok", nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.run(ctx, func() (string, error) { return "x", nil })
	require.ErrorIs(t, err, context.Canceled)
}
