package api

import (
	"context"
	"errors"
	"sync"
)

var errRefreshAborted = errors.New("token refresh aborted")

type refreshResult struct {
	accessToken string
	err         error
}

// refreshGate lets exactly one token refresh run at a time. Callers that
// arrive while a refresh is in flight wait in queue and all receive the
// leader's result when it settles.
type refreshGate struct {
	mu       sync.Mutex
	inFlight bool
	queue    []chan refreshResult
}

// run executes fn unless a refresh is already in flight, in which case it
// waits for that refresh instead. A waiter whose ctx ends stops waiting but
// the refresh itself keeps going.
func (g *refreshGate) run(ctx context.Context, fn func() (string, error)) (string, error) {
	g.mu.Lock()
	if g.inFlight {
		ch := make(chan refreshResult, 1)
		g.queue = append(g.queue, ch)
		g.mu.Unlock()

		select {
		case res := <-ch:
			return res.accessToken, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.inFlight = true
	g.mu.Unlock()

	res := refreshResult{err: errRefreshAborted}
	// The flag is released however fn ends; a stuck flag would park every
	// later 401 behind an empty queue.
	defer func() {
		g.mu.Lock()
		waiters := g.queue
		g.queue = nil
		g.inFlight = false
		g.mu.Unlock()

		for _, ch := range waiters {
			ch <- res
		}
	}()

	res.accessToken, res.err = fn()
	return res.accessToken, res.err
}

// pending returns the number of queued waiters.
func (g *refreshGate) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}
