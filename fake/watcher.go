// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT
//
// Watcher is a descriptor watcher fed by Engine activity instead of epoll.

package fake

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-mq/api"
)

var _ api.Watcher = (*Watcher)(nil)

// Watcher implements api.Watcher for Engine sockets.
type Watcher struct {
	e *Engine

	mu      sync.Mutex
	watches map[uintptr][]*watch

	fired atomic.Int64
}

// NewWatcher subscribes to activity of e.
func NewWatcher(e *Engine) *Watcher {
	w := &Watcher{e: e, watches: make(map[uintptr][]*watch)}
	e.OnActivity(func(fd uintptr) { w.trigger(fd, api.EventReadable) })
	return w
}

// Watch installs an enabled watch on fd.
func (w *Watcher) Watch(fd uintptr, kind api.Events, loop api.Loop, cb func()) (api.Watch, error) {
	if loop == nil || cb == nil || (kind != api.EventReadable && kind != api.EventWritable) {
		return nil, api.ErrInvalidArgument
	}
	wt := &watch{owner: w, fd: fd, kind: kind, loop: loop, cb: cb}
	wt.enabled.Store(true)
	w.mu.Lock()
	w.watches[fd] = append(w.watches[fd], wt)
	w.mu.Unlock()
	return wt, nil
}

// Trigger reports activity of the given kinds on fd, as epoll would.
func (w *Watcher) Trigger(fd uintptr, kind api.Events) {
	w.trigger(fd, kind)
}

// Count returns the number of open watches on fd.
func (w *Watcher) Count(fd uintptr) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches[fd])
}

// Fired returns how many activations were handed to owner loops.
func (w *Watcher) Fired() int64 { return w.fired.Load() }

func (w *Watcher) trigger(fd uintptr, kind api.Events) {
	w.mu.Lock()
	var fire []*watch
	for _, wt := range w.watches[fd] {
		if wt.kind&kind != 0 {
			fire = append(fire, wt)
		}
	}
	w.mu.Unlock()
	for _, wt := range fire {
		wt.fire()
	}
}

func (w *Watcher) remove(wt *watch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.watches[wt.fd]
	for i, x := range list {
		if x == wt {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(w.watches, wt.fd)
		return
	}
	w.watches[wt.fd] = list
}

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
		return
	}
	wt.owner.fired.Add(1)
}

// SetEnabled re-enabling a read watch reports readiness that is still
// pending, like an edge-triggered re-arm.
func (wt *watch) SetEnabled(enabled bool) {
	if wt.closed.Load() || wt.enabled.Swap(enabled) == enabled || !enabled {
		return
	}
	if wt.kind == api.EventReadable && wt.owner.e.Readable(wt.fd) {
		wt.fire()
	}
}

func (wt *watch) Enabled() bool {
	return wt.enabled.Load() && !wt.closed.Load()
}

func (wt *watch) Close() error {
	if wt.closed.CompareAndSwap(false, true) {
		wt.owner.remove(wt)
	}
	return nil
}
