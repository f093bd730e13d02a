// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer queue for the event loop. Not safe for concurrent use; the owning
// EventLoop guards it with its own mutex.

package concurrency

import (
	"container/heap"
	"sync/atomic"
	"time"
)

const (
	timerPending int32 = iota
	timerFired
	timerCanceled
)

// timerTask is a one-shot timer. It implements api.Cancelable.
type timerTask struct {
	when  time.Time
	seq   uint64
	fn    func()
	state atomic.Int32
}

// Cancel withdraws the timer if it has not fired yet.
func (t *timerTask) Cancel() bool {
	return t.state.CompareAndSwap(timerPending, timerCanceled)
}

type taskHeap []*timerTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*timerTask))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler orders timers by deadline, FIFO among equal deadlines.
type Scheduler struct {
	timerQ taskHeap
	seq    uint64
}

// NewScheduler returns an empty timer queue.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Len returns the number of queued timers, canceled ones included.
func (s *Scheduler) Len() int { return s.timerQ.Len() }

func (s *Scheduler) add(when time.Time, fn func()) *timerTask {
	s.seq++
	t := &timerTask{when: when, seq: s.seq, fn: fn}
	heap.Push(&s.timerQ, t)
	return t
}

// popDue appends the callbacks of all timers due at now.
func (s *Scheduler) popDue(now time.Time, out []func()) []func() {
	for s.timerQ.Len() > 0 {
		t := s.timerQ[0]
		if t.when.After(now) {
			break
		}
		heap.Pop(&s.timerQ)
		if t.state.CompareAndSwap(timerPending, timerFired) {
			out = append(out, t.fn)
		}
	}
	return out
}

// next returns the earliest pending deadline, discarding canceled timers.
func (s *Scheduler) next() (time.Time, bool) {
	for s.timerQ.Len() > 0 {
		t := s.timerQ[0]
		if t.state.Load() == timerPending {
			return t.when, true
		}
		heap.Pop(&s.timerQ)
	}
	return time.Time{}, false
}
