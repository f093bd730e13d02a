// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// LoopGroup runs a fixed set of event loops and hands them out round-robin.

package concurrency

import (
	"fmt"
	"sync/atomic"
)

// LoopGroup owns size started event loops.
type LoopGroup struct {
	loops []*EventLoop
	next  atomic.Uint64
}

// NewLoopGroup starts size loops named "<name>-<i>". size <= 0 means one.
func NewLoopGroup(name string, size, batchSize int) *LoopGroup {
	if size <= 0 {
		size = 1
	}
	g := &LoopGroup{loops: make([]*EventLoop, size)}
	for i := range g.loops {
		g.loops[i] = NewEventLoop(fmt.Sprintf("%s-%d", name, i), batchSize)
		g.loops[i].Start()
	}
	return g
}

// Primary returns the first loop.
func (g *LoopGroup) Primary() *EventLoop { return g.loops[0] }

// Next returns loops in round-robin order.
func (g *LoopGroup) Next() *EventLoop {
	n := g.next.Add(1) - 1
	return g.loops[n%uint64(len(g.loops))]
}

// Size returns the number of loops.
func (g *LoopGroup) Size() int { return len(g.loops) }

// Pending sums queued tasks across loops.
func (g *LoopGroup) Pending() int {
	total := 0
	for _, l := range g.loops {
		total += l.Pending()
	}
	return total
}

// Stop stops every loop, draining work each one already accepted.
func (g *LoopGroup) Stop() {
	for _, l := range g.loops {
		l.Stop()
	}
}
