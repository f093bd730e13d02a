// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT
//
// In-memory messaging engine. Sockets live in one process and are linked by
// bind/connect on arbitrary address strings. Routing follows the usual
// patterns closely enough to exercise schedulers deterministically:
// PUB/SUB prefix filtering, PUSH/PULL round robin, REQ/REP turn-taking,
// DEALER/ROUTER identity envelopes and PAIR.

package fake

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/hioload-mq/api"
)

var (
	_ api.Engine        = (*Engine)(nil)
	_ api.EngineContext = (*Context)(nil)
)

const firstFD = 1000

// Engine implements api.Engine. All sockets of all its contexts share one
// lock.
type Engine struct {
	mu        sync.Mutex
	endpoints map[string]*Socket
	pending   map[string][]*Socket
	byFD      map[uintptr]*Socket
	nextFD    uintptr
	changed   chan struct{}
	pollErr   error
	listeners []func(fd uintptr)

	polls  atomic.Int64
	closes atomic.Int64
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{
		endpoints: make(map[string]*Socket),
		pending:   make(map[string][]*Socket),
		byFD:      make(map[uintptr]*Socket),
		nextFD:    firstFD,
		changed:   make(chan struct{}),
	}
}

// Version reports the libzmq release the routing rules mimic.
func (e *Engine) Version() (major, minor, patch int) { return 4, 3, 5 }

// NewContext creates a context. ioThreads is ignored.
func (e *Engine) NewContext(ioThreads int) (api.EngineContext, error) {
	if ioThreads < 0 {
		return nil, api.NewEngineError(int(syscall.EINVAL), "context")
	}
	return &Context{e: e, sockets: make(map[*Socket]struct{})}, nil
}

// FailNextPoll makes the next Poll call return err.
func (e *Engine) FailNextPoll(err error) {
	e.mu.Lock()
	e.pollErr = err
	e.mu.Unlock()
}

// OnActivity registers fn to be told the descriptor of every socket whose
// inbox grew. fn runs without the engine lock held.
func (e *Engine) OnActivity(fn func(fd uintptr)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// PollCount returns how many times Poll reached the engine.
func (e *Engine) PollCount() int64 { return e.polls.Load() }

// CloseCount returns how many sockets have been closed.
func (e *Engine) CloseCount() int64 { return e.closes.Load() }

// Readable reports whether the socket behind fd has a message queued.
func (e *Engine) Readable(fd uintptr) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.byFD[fd]
	return s != nil && s.readableLocked()
}

// broadcast wakes every waiter. Requires e.mu.
func (e *Engine) broadcast() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) fire(fds []uintptr) {
	if len(fds) == 0 {
		return
	}
	e.mu.Lock()
	ls := e.listeners
	e.mu.Unlock()
	for _, fd := range fds {
		for _, fn := range ls {
			fn(fd)
		}
	}
}

// wait releases e.mu until the engine changes or the deadline passes. It
// returns false on timeout. A zero deadline waits forever.
func (e *Engine) wait(deadline time.Time) bool {
	ch := e.changed
	e.mu.Unlock()
	defer e.mu.Lock()
	if deadline.IsZero() {
		<-ch
		return true
	}
	d := time.Until(deadline)
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// Context implements api.EngineContext.
type Context struct {
	e          *Engine
	sockets    map[*Socket]struct{}
	terminated bool
}

// NewSocket creates a socket with a fresh descriptor.
func (c *Context) NewSocket(t api.SocketType) (api.EngineSocket, error) {
	if t < api.TypePair || t > api.TypeXSub {
		return nil, api.NewEngineError(int(syscall.EINVAL), "socket")
	}
	e := c.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.terminated {
		return nil, api.NewEngineError(api.ErrnoETERM, "socket")
	}
	e.nextFD++
	s := &Socket{
		e:       e,
		ctx:     c,
		typ:     t,
		fd:      e.nextFD,
		options: make(map[api.Option][]byte),
	}
	c.sockets[s] = struct{}{}
	e.byFD[s.fd] = s
	return s, nil
}

// Poll fills Revents for every item and returns how many are non-zero.
// A negative timeout blocks until at least one item is ready.
func (c *Context) Poll(items []api.PollItem, timeout time.Duration) (int, error) {
	e := c.e
	e.polls.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.pollErr; err != nil {
		e.pollErr = nil
		return 0, err
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		n := 0
		for i := range items {
			s, ok := items[i].Socket.(*Socket)
			if !ok {
				return 0, api.NewEngineError(int(syscall.ENOTSOCK), "poll")
			}
			items[i].Revents = s.eventsLocked() & items[i].Events
			if items[i].Revents != 0 {
				n++
			}
		}
		if n > 0 || timeout == 0 {
			return n, nil
		}
		if !e.wait(deadline) {
			timeout = 0
		}
	}
}

// Term blocks until every socket of the context is closed.
func (c *Context) Term() error {
	e := c.e
	e.mu.Lock()
	defer e.mu.Unlock()
	c.terminated = true
	for len(c.sockets) > 0 {
		e.wait(time.Time{})
	}
	return nil
}
