// File: reactor/watcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Watcher bridges reactor callbacks onto host event loops. A single poller
// goroutine waits on the reactor; each activity is turned into a task
// submitted to the loop that owns the watch. At most one task per watch is
// in flight, so a busy descriptor cannot flood its loop.

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/logging"
)

var _ api.Watcher = (*Watcher)(nil)

const defaultPollTimeoutMs = 100

// Watcher implements api.Watcher on top of a Reactor.
type Watcher struct {
	r Reactor

	mu     sync.Mutex
	fds    map[uintptr]*fdWatches
	closed bool

	started atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}

	log *logrus.Entry
}

type fdWatches struct {
	read  []*watch
	write []*watch
}

func (f *fdWatches) mask() FDEventType {
	var m FDEventType
	for _, w := range f.read {
		if w.enabled.Load() {
			m |= EventRead
			break
		}
	}
	for _, w := range f.write {
		if w.enabled.Load() {
			m |= EventWrite
			break
		}
	}
	return m
}

func (f *fdWatches) empty() bool {
	return len(f.read) == 0 && len(f.write) == 0
}

// NewWatcher wraps r. Call Start to begin dispatching.
func NewWatcher(r Reactor) *Watcher {
	return &Watcher{
		r:      r,
		fds:    make(map[uintptr]*fdWatches),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		log:    logging.NewLogger("reactor"),
	}
}

// NewDefaultWatcher builds a Watcher over the platform reactor and starts it.
func NewDefaultWatcher() (*Watcher, error) {
	r, err := NewReactor()
	if err != nil {
		return nil, err
	}
	w := NewWatcher(r)
	w.Start()
	return w, nil
}

// Start launches the poller goroutine.
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if err := w.r.Poll(defaultPollTimeoutMs); err != nil {
			w.log.WithError(err).Warn("reactor poll failed")
			time.Sleep(time.Millisecond)
		}
	}
}

// Watch installs a read or write watch on fd, enabled.
func (w *Watcher) Watch(fd uintptr, kind api.Events, loop api.Loop, cb func()) (api.Watch, error) {
	if loop == nil || cb == nil || (kind != api.EventReadable && kind != api.EventWritable) {
		return nil, api.ErrInvalidArgument
	}
	wt := &watch{owner: w, fd: fd, kind: kind, loop: loop, cb: cb}
	wt.enabled.Store(true)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, api.ErrLoopStopped
	}
	rec, exists := w.fds[fd]
	if !exists {
		rec = &fdWatches{}
	}
	if kind == api.EventReadable {
		rec.read = append(rec.read, wt)
	} else {
		rec.write = append(rec.write, wt)
	}
	var err error
	if exists {
		err = w.r.Modify(fd, rec.mask())
	} else {
		err = w.r.Register(fd, rec.mask(), w.dispatch)
		if err == nil {
			w.fds[fd] = rec
		}
	}
	if err != nil {
		rec.remove(wt)
		return nil, err
	}
	return wt, nil
}

// Close stops the poller goroutine and releases the reactor.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stopCh)
	if w.started.Load() {
		<-w.done
	}
	return w.r.Close()
}

// dispatch runs on the poller goroutine.
func (w *Watcher) dispatch(fd uintptr, events FDEventType) {
	w.mu.Lock()
	rec, ok := w.fds[fd]
	if !ok {
		w.mu.Unlock()
		return
	}
	var fire []*watch
	if events&(EventRead|EventError) != 0 {
		fire = append(fire, rec.read...)
	}
	if events&(EventWrite|EventError) != 0 {
		fire = append(fire, rec.write...)
	}
	w.mu.Unlock()

	for _, wt := range fire {
		wt.fire()
	}
}

func (w *Watcher) rearm(fd uintptr) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.fds[fd]
	if !ok {
		return
	}
	if err := w.r.Modify(fd, rec.mask()); err != nil {
		w.log.WithError(err).WithField("fd", fd).Warn("rearm failed")
	}
}

func (w *Watcher) release(wt *watch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.fds[wt.fd]
	if !ok {
		return nil
	}
	rec.remove(wt)
	if rec.empty() {
		delete(w.fds, wt.fd)
		return w.r.Unregister(wt.fd)
	}
	return w.r.Modify(wt.fd, rec.mask())
}

func (f *fdWatches) remove(wt *watch) {
	list := &f.read
	if wt.kind == api.EventWritable {
		list = &f.write
	}
	for i, x := range *list {
		if x == wt {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// watch implements api.Watch.
type watch struct {
	owner *Watcher
	fd    uintptr
	kind  api.Events
	loop  api.Loop
	cb    func()

	enabled atomic.Bool
	pending atomic.Bool
	closed  atomic.Bool
}

func (wt *watch) fire() {
	if wt.closed.Load() || !wt.enabled.Load() {
		return
	}
	if !wt.pending.CompareAndSwap(false, true) {
		return
	}
	err := wt.loop.Submit(func() {
		wt.pending.Store(false)
		if wt.closed.Load() || !wt.enabled.Load() {
			return
		}
		wt.cb()
	})
	if err != nil {
		wt.pending.Store(false)
		wt.owner.log.WithError(err).WithField("fd", wt.fd).Debug("watch owner loop rejected activity")
	}
}

func (wt *watch) SetEnabled(enabled bool) {
	if wt.closed.Load() || wt.enabled.Swap(enabled) == enabled {
		return
	}
	wt.owner.rearm(wt.fd)
}

func (wt *watch) Enabled() bool {
	return wt.enabled.Load() && !wt.closed.Load()
}

func (wt *watch) Close() error {
	if !wt.closed.CompareAndSwap(false, true) {
		return nil
	}
	return wt.owner.release(wt)
}
