// File: internal/concurrency/eventloop.go
// Package concurrency implements the single-goroutine host event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tasks submitted from any goroutine are queued in an unbounded FIFO inbox
// and executed on the loop goroutine in submission order. Timers share the
// same goroutine. Stop drains tasks accepted before it was called so that
// cross-loop close requests are never lost.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/logging"
)

var _ api.Loop = (*EventLoop)(nil)

const defaultBatchSize = 64

// EventLoop is a cooperative task and timer loop owned by one goroutine.
type EventLoop struct {
	name      string
	batchSize int

	mu      sync.Mutex
	inbox   *queue.Queue // func()
	timers  *Scheduler
	closing bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}

	running  atomic.Int32
	goid     atomic.Uint64
	executed atomic.Int64

	log *logrus.Entry
}

// NewEventLoop creates a stopped loop. batchSize bounds how many inbox
// tasks run between timer checks; <= 0 selects the default.
func NewEventLoop(name string, batchSize int) *EventLoop {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &EventLoop{
		name:      name,
		batchSize: batchSize,
		inbox:     queue.New(),
		timers:    NewScheduler(),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		log:       logging.NewLogger("loop").WithField("loop", name),
	}
}

// Name returns the loop name given at construction.
func (el *EventLoop) Name() string { return el.name }

// Start runs the loop on a new goroutine.
func (el *EventLoop) Start() {
	go el.Run()
}

// Submit queues task for execution on the loop goroutine.
func (el *EventLoop) Submit(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	el.mu.Lock()
	if el.closing {
		el.mu.Unlock()
		return api.ErrLoopStopped
	}
	el.inbox.Add(task)
	el.mu.Unlock()
	el.notify()
	return nil
}

// Schedule runs fn on the loop goroutine once delay has elapsed.
func (el *EventLoop) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.ErrInvalidArgument
	}
	el.mu.Lock()
	if el.closing {
		el.mu.Unlock()
		return nil, api.ErrLoopStopped
	}
	t := el.timers.add(time.Now().Add(delay), fn)
	el.mu.Unlock()
	el.notify()
	return t, nil
}

// InLoop reports whether the caller is the loop goroutine.
func (el *EventLoop) InLoop() bool {
	id := el.goid.Load()
	return id != 0 && id == goroutineID()
}

// Pending returns the number of queued, not yet executed tasks.
func (el *EventLoop) Pending() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.inbox.Length()
}

// Executed returns the number of tasks and timers run so far.
func (el *EventLoop) Executed() int64 {
	return el.executed.Load()
}

// Done is closed after Run has returned.
func (el *EventLoop) Done() <-chan struct{} {
	return el.done
}

// Run executes the loop on the calling goroutine until Stop.
func (el *EventLoop) Run() {
	if !el.running.CompareAndSwap(0, 1) {
		return
	}
	el.goid.Store(goroutineID())
	defer func() {
		el.goid.Store(0)
		close(el.done)
	}()

	batch := make([]func(), 0, el.batchSize)
	for {
		var wait time.Duration
		batch, wait = el.collect(batch[:0])
		for i, fn := range batch {
			el.safeExecute(fn)
			batch[i] = nil
		}
		select {
		case <-el.stopCh:
			el.drain()
			return
		default:
		}
		if len(batch) > 0 || wait == 0 {
			continue
		}
		if !el.sleep(wait) {
			el.drain()
			return
		}
	}
}

// Stop rejects further work, runs tasks already accepted and waits for
// Run to return unless called from the loop itself.
func (el *EventLoop) Stop() {
	el.mu.Lock()
	if el.closing {
		el.mu.Unlock()
		return
	}
	el.closing = true
	el.mu.Unlock()
	close(el.stopCh)
	if el.running.Load() == 1 && !el.InLoop() {
		<-el.done
	}
}

// collect pops due timers and up to batchSize tasks. wait is how long the
// loop may sleep: 0 when work remains, negative when nothing is pending.
func (el *EventLoop) collect(batch []func()) ([]func(), time.Duration) {
	el.mu.Lock()
	defer el.mu.Unlock()
	now := time.Now()
	batch = el.timers.popDue(now, batch)
	for i := 0; i < el.batchSize && el.inbox.Length() > 0; i++ {
		batch = append(batch, el.inbox.Remove().(func()))
	}
	if el.inbox.Length() > 0 {
		return batch, 0
	}
	next, ok := el.timers.next()
	if !ok {
		return batch, -1
	}
	wait := next.Sub(now)
	if wait <= 0 {
		return batch, 0
	}
	return batch, wait
}

// sleep blocks until woken, the wait elapses or the loop is stopped.
func (el *EventLoop) sleep(wait time.Duration) bool {
	if wait < 0 {
		select {
		case <-el.wake:
			return true
		case <-el.stopCh:
			return false
		}
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-el.wake:
	case <-t.C:
	case <-el.stopCh:
		return false
	}
	return true
}

// drain runs every task accepted before Stop. Timers are dropped.
func (el *EventLoop) drain() {
	for {
		el.mu.Lock()
		if el.inbox.Length() == 0 {
			el.mu.Unlock()
			return
		}
		fn := el.inbox.Remove().(func())
		el.mu.Unlock()
		el.safeExecute(fn)
	}
}

func (el *EventLoop) notify() {
	select {
	case el.wake <- struct{}{}:
	default:
	}
}

// safeExecute keeps the loop alive across panicking tasks.
func (el *EventLoop) safeExecute(fn func()) {
	defer func() {
		el.executed.Add(1)
		if r := recover(); r != nil {
			el.log.WithField("panic", r).Error("task panicked")
		}
	}()
	fn()
}

// goroutineID parses the current goroutine id from the stack header.
// Only used to answer InLoop.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
