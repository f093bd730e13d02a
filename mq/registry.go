// File: mq/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The registry is one ordered slice of entries. Each entry carries the
// socket together with everything a strategy derives from it, so the poll
// table and the socket list cannot drift apart. All access goes through
// Context.mu, which is never held while the engine waits or a handler runs.

package mq

import (
	"github.com/momentics/hioload-mq/api"
)

type entry struct {
	sock     *Socket
	watched  api.Events
	observed api.Events

	readWatch  api.Watch
	writeWatch api.Watch
}

// indexOf requires c.mu.
func (c *Context) indexOf(s *Socket) int {
	for i, e := range c.entries {
		if e.sock == s {
			return i
		}
	}
	return -1
}

// removeAt requires c.mu. Later entries shift down by one.
func (c *Context) removeAt(i int) *entry {
	e := c.entries[i]
	copy(c.entries[i:], c.entries[i+1:])
	c.entries[len(c.entries)-1] = nil
	c.entries = c.entries[:len(c.entries)-1]
	return e
}

// unregister is called by Socket.Close after it has cleared its
// back-reference, so it runs at most once per socket.
func (c *Context) unregister(s *Socket) {
	c.mu.Lock()
	i := c.indexOf(s)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	e := c.removeAt(i)
	c.strategy.detach(e)
	c.mu.Unlock()
	c.metrics.SocketClosed()
}

func (c *Context) registered(s *Socket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexOf(s) >= 0
}

// snapshot copies the entries in registration order.
func (c *Context) snapshot() []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Sockets returns the registered sockets in registration order.
func (c *Context) Sockets() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Socket, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.sock
	}
	return out
}

// Len returns the number of registered sockets.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
