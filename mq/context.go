// File: mq/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context owns a native engine context, the socket registry and one
// readiness strategy. Closing a context never closes a socket directly:
// each close is queued on the loop that owns the socket, and the engine
// context is terminated in the background once all of them have run.

package mq

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/logging"
)

// ErrorHandler receives scheduler failures. code is the engine error number,
// or -1 when the failure did not come from the engine.
type ErrorHandler func(code int, message string)

// strategy is the readiness mechanism of a context. attach and detach run
// with Context.mu held and must not call back into the context.
type strategy interface {
	name() string
	attach(e *entry) error
	detach(e *entry)
	start() error
	stop()
	isStopped() bool
}

// Context is the factory and registry for sockets. Use NewPollingContext or
// NewNotifierContext to obtain one.
type Context struct {
	native   api.EngineContext
	loop     api.Loop
	strategy strategy

	mu      sync.Mutex
	entries []*entry
	closed  bool

	emu       sync.Mutex
	onError   []errorEntry
	nextErrID uint64

	closeOnce sync.Once
	done      chan struct{}

	metrics *control.Metrics
	log     *logrus.Entry
}

type errorEntry struct {
	id uint64
	fn ErrorHandler
}

func newContext(engine api.Engine, loop api.Loop, st strategy, o contextOptions) (*Context, error) {
	if engine == nil || loop == nil {
		return nil, api.ErrInvalidArgument
	}
	native, err := engine.NewContext(o.ioThreads)
	if err != nil {
		return nil, fmt.Errorf("create engine context: %w", err)
	}
	log := o.log
	if log == nil {
		log = logging.NewLogger("mq")
	}
	c := &Context{
		native:   native,
		loop:     loop,
		strategy: st,
		done:     make(chan struct{}),
		metrics:  o.metrics,
		log:      log.WithField("strategy", st.name()),
	}
	if o.errorHandler != nil {
		c.OnError(o.errorHandler)
	}
	return c, nil
}

// Loop returns the loop the context schedules its own work on.
func (c *Context) Loop() api.Loop { return c.loop }

// Metrics returns the recorder given with WithMetrics, possibly nil.
func (c *Context) Metrics() *control.Metrics { return c.metrics }

// CreateSocket creates and registers a socket of type t. The socket is
// visible to the strategy only once fully configured and registered.
func (c *Context) CreateSocket(t api.SocketType, opts ...SocketOption) (*Socket, error) {
	so := socketOptions{owner: c.loop}
	for _, opt := range opts {
		opt(&so)
	}
	if so.owner == nil {
		return nil, api.ErrInvalidArgument
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, api.ErrContextClosed
	}
	native, err := c.native.NewSocket(t)
	if err != nil {
		return nil, fmt.Errorf("create %s socket: %w", t, err)
	}
	s := newSocket(t, native, so.owner, c.log)
	if err := configure(s, so); err != nil {
		native.Close()
		return nil, err
	}
	e := &entry{sock: s, watched: api.EventReadable}
	if err := c.strategy.attach(e); err != nil {
		native.Close()
		return nil, fmt.Errorf("attach %s socket: %w", t, err)
	}
	s.ctx.Store(c)
	c.entries = append(c.entries, e)
	c.metrics.SocketOpened()
	s.log.Debug("socket created")
	return s, nil
}

func configure(s *Socket, so socketOptions) error {
	if so.identity != "" {
		if err := s.SetIdentity(so.identity); err != nil {
			return err
		}
	}
	if so.linger != nil {
		if err := s.SetLinger(*so.linger); err != nil {
			return err
		}
	}
	return nil
}

// Start arms the strategy.
func (c *Context) Start() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return api.ErrContextClosed
	}
	return c.strategy.start()
}

// Stop disarms the strategy. It is cooperative: a cycle in flight completes.
func (c *Context) Stop() { c.strategy.stop() }

// IsStopped reports the strategy state.
func (c *Context) IsStopped() bool { return c.strategy.isStopped() }

// OnError registers h for scheduler failures. The returned func removes it.
func (c *Context) OnError(h ErrorHandler) (cancel func()) {
	c.emu.Lock()
	c.nextErrID++
	id := c.nextErrID
	c.onError = append(c.onError, errorEntry{id: id, fn: h})
	c.emu.Unlock()

	return func() {
		c.emu.Lock()
		defer c.emu.Unlock()
		for i, e := range c.onError {
			if e.id == id {
				c.onError = append(c.onError[:i:i], c.onError[i+1:]...)
				return
			}
		}
	}
}

// reportError emits exactly one notification per failure.
func (c *Context) reportError(err error) {
	c.metrics.Error(c.strategy.name())
	c.log.WithError(err).Warn("readiness cycle failed")
	code := api.ErrnoOf(err)
	msg := err.Error()
	c.emu.Lock()
	hs := c.onError
	c.emu.Unlock()
	for _, h := range hs {
		h.fn(code, msg)
	}
}

// Close stops the strategy, severs every socket from the context and
// queues each close on the socket's owning loop. It does not wait; Done is
// closed once the engine context has terminated. A socket whose owning loop
// no longer accepts work is closed inline.
func (c *Context) Close() error {
	first := false
	c.closeOnce.Do(func() { first = true })
	if !first {
		return nil
	}
	c.strategy.stop()

	c.mu.Lock()
	drained := c.entries
	c.entries = nil
	c.closed = true
	for _, e := range drained {
		e.sock.ctx.CompareAndSwap(c, nil)
		c.strategy.detach(e)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range drained {
		s := e.sock
		c.metrics.SocketClosed()
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := s.Close(); err != nil {
				s.log.WithError(err).Warn("close on owner loop failed")
			}
		}
		if err := s.owner.Submit(task); err != nil {
			s.log.WithError(err).Warn("owner loop gone, closing inline")
			task()
		}
	}
	c.log.WithField("sockets", len(drained)).Debug("context closing")

	go func() {
		wg.Wait()
		if err := c.native.Term(); err != nil {
			c.log.WithError(err).Warn("engine context termination failed")
		}
		close(c.done)
	}()
	return nil
}

// Done is closed after Close once the engine context has terminated.
func (c *Context) Done() <-chan struct{} { return c.done }
