// File: mq/notifier.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NotifierContext reacts to activity on each socket's notification
// descriptor instead of polling. Every socket gets a read and a write watch.
// A read activation disables its watch, drains the socket while the engine
// reports it readable and then re-enables the watch.

package mq

import (
	"fmt"

	"github.com/momentics/hioload-mq/api"
)

const notifierStrategy = "notifier"

// NotifierContext is a Context driven by descriptor readiness.
type NotifierContext struct {
	*Context
	watcher api.Watcher
}

var _ strategy = (*NotifierContext)(nil)

// NewNotifierContext creates a context whose sockets are watched through
// watcher. Watching starts as soon as a socket is created.
func NewNotifierContext(engine api.Engine, loop api.Loop, watcher api.Watcher, opts ...ContextOption) (*NotifierContext, error) {
	if watcher == nil {
		return nil, api.ErrInvalidArgument
	}
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	n := &NotifierContext{watcher: watcher}
	c, err := newContext(engine, loop, n, o)
	if err != nil {
		return nil, err
	}
	n.Context = c
	return n, nil
}

func (n *NotifierContext) name() string { return notifierStrategy }

func (n *NotifierContext) attach(e *entry) error {
	fd, err := e.sock.native.FD()
	if err != nil {
		return fmt.Errorf("notification descriptor: %w", err)
	}
	rw, err := n.watcher.Watch(fd, api.EventReadable, e.sock.owner, func() { n.activated(e, api.EventReadable) })
	if err != nil {
		return fmt.Errorf("watch read: %w", err)
	}
	ww, err := n.watcher.Watch(fd, api.EventWritable, e.sock.owner, func() { n.activated(e, api.EventWritable) })
	if err != nil {
		rw.Close()
		return fmt.Errorf("watch write: %w", err)
	}
	e.readWatch, e.writeWatch = rw, ww
	return nil
}

func (n *NotifierContext) detach(e *entry) {
	if e.readWatch != nil {
		e.readWatch.Close()
		e.readWatch = nil
	}
	if e.writeWatch != nil {
		e.writeWatch.Close()
		e.writeWatch = nil
	}
}

func (n *NotifierContext) start() error { return nil }

func (n *NotifierContext) stop() {}

func (n *NotifierContext) isStopped() bool { return false }

// activated runs on the socket's owning loop.
func (n *NotifierContext) activated(e *entry, kind api.Events) {
	s := e.sock
	n.mu.Lock()
	w := e.readWatch
	if kind == api.EventWritable {
		w = e.writeWatch
	}
	n.mu.Unlock()
	if w == nil || s.IsClosed() {
		return
	}

	// Write activity only means the engine state changed; toggling the
	// write watch would re-report the always-writable descriptor.
	if kind == api.EventReadable {
		w.SetEnabled(false)
	}
	if err := n.drain(s); err != nil {
		n.reportError(err)
	}
	if kind == api.EventReadable && !s.IsClosed() && n.registered(s) {
		w.SetEnabled(true)
	}
}

func (n *NotifierContext) drain(s *Socket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification handler panicked: %v", r)
		}
	}()
	delivered, err := s.drain()
	for i := 0; i < delivered; i++ {
		n.metrics.Notification(notifierStrategy)
	}
	return err
}
