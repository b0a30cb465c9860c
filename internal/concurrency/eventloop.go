// File: internal/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is the single logical thread of the relay. Every accept, message
// and close event is handled here, one at a time, in arrival order. Producers
// block in Post while the inbox is full so no event is ever dropped.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
)

type Event = api.Event

// EventHandler processes one Event. It runs on the loop goroutine only.
type EventHandler interface {
	HandleEvent(ev Event)
}

// funcEvent runs an arbitrary closure on the loop goroutine.
type funcEvent struct {
	fn   func()
	done chan struct{}
}

func (funcEvent) SessionID() string { return "" }

// EventLoop drains its inbox in batches and dispatches each event to the
// handler sequentially.
type EventLoop struct {
	handler   EventHandler
	inbox     chan Event
	batchSize int
	quitCh    chan struct{} // closed on Stop()
	doneCh    chan struct{} // closed after Run() exits
	running   atomic.Bool
	started   atomic.Bool
	stopOnce  sync.Once
}

// NewEventLoop creates a loop for handler. batchSize bounds how many events are
// taken from the inbox per cycle; capacity is the inbox buffer size.
func NewEventLoop(handler EventHandler, batchSize, capacity int) *EventLoop {
	if batchSize <= 0 {
		batchSize = 64
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &EventLoop{
		handler:   handler,
		inbox:     make(chan Event, capacity),
		batchSize: batchSize,
		quitCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run processes events until Stop is called. It returns ErrLoopRunning if the
// loop was already started.
func (el *EventLoop) Run() error {
	if !el.started.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	el.running.Store(true)
	defer func() {
		el.running.Store(false)
		close(el.doneCh)
	}()

	batch := make([]Event, 0, el.batchSize)
	for {
		batch = batch[:0]

		// Block for the first event, then drain without blocking.
		select {
		case <-el.quitCh:
			return nil
		case ev := <-el.inbox:
			batch = append(batch, ev)
		}
	drain:
		for len(batch) < el.batchSize {
			select {
			case ev := <-el.inbox:
				batch = append(batch, ev)
			default:
				break drain
			}
		}

		for _, ev := range batch {
			select {
			case <-el.quitCh:
				el.release(batch)
				return nil
			default:
			}
			el.dispatch(ev)
		}
	}
}

func (el *EventLoop) dispatch(ev Event) {
	if fe, ok := ev.(funcEvent); ok {
		fe.fn()
		close(fe.done)
		return
	}
	el.handler.HandleEvent(ev)
}

// release unblocks Do callers whose closures will never run.
func (el *EventLoop) release(batch []Event) {
	for _, ev := range batch {
		if fe, ok := ev.(funcEvent); ok {
			close(fe.done)
		}
	}
}

// Post queues ev, blocking while the inbox is full. It returns false once the
// loop has been stopped.
func (el *EventLoop) Post(ev Event) bool {
	select {
	case <-el.quitCh:
		return false
	default:
	}
	select {
	case el.inbox <- ev:
		return true
	case <-el.quitCh:
		return false
	}
}

// Do runs fn on the loop goroutine and waits for it to finish. It returns
// ErrLoopStopped if the loop stopped before fn could run.
func (el *EventLoop) Do(fn func()) error {
	var ran bool
	fe := funcEvent{
		fn:   func() { fn(); ran = true },
		done: make(chan struct{}),
	}
	if !el.Post(fe) {
		return ErrLoopStopped
	}
	select {
	case <-fe.done:
	case <-el.doneCh:
	}
	if !ran {
		return ErrLoopStopped
	}
	return nil
}

// Pending returns approximate count of buffered events waiting in inbox.
func (el *EventLoop) Pending() int {
	return len(el.inbox)
}

// Running reports whether Run is currently executing.
func (el *EventLoop) Running() bool {
	return el.running.Load()
}

// Stop signals the Run loop to exit and waits for completion. Events still
// queued are discarded. Stop is idempotent.
func (el *EventLoop) Stop() {
	el.stopOnce.Do(func() { close(el.quitCh) })
	if el.started.Load() {
		<-el.doneCh
	}
}
