package sdk

import (
	"errors"
	"sync"
)

var errDispatcherClosed = errors.New("dispatcher closed")

// dispatcher runs listener callbacks one at a time, in submission order, on a
// goroutine of its own. Session changes happen on timer and request
// goroutines that must not block on application code.
//
// The queue is unbounded so that do never blocks, including when a callback
// triggers further events.
type dispatcher struct {
	mu      sync.Mutex
	closed  bool
	pending []func()
	wake    chan struct{}
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch, closed := d.pending, d.closed
		d.pending = nil
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

func (d *dispatcher) do(fn func()) error {
	if fn == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errDispatcherClosed
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()
	d.signal()
	return nil
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// flush blocks until every callback queued before the call has run. It must
// not be called from a callback.
func (d *dispatcher) flush() {
	done := make(chan struct{})
	if err := d.do(func() { close(done) }); err != nil {
		return
	}
	<-done
}

// close runs the queued callbacks and stops the worker. Later do calls fail.
// It waits for the worker, so it must not be called from a callback.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	<-d.done
}
