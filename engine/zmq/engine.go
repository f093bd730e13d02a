//go:build zmq

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package zmq

import (
	"fmt"
	"syscall"
	"time"

	zmq4 "github.com/pebbe/zmq4"

	"github.com/momentics/hioload-mq/api"
)

// Available reports whether the libzmq adapter was compiled in.
const Available = true

var (
	_ api.Engine        = (*Engine)(nil)
	_ api.EngineContext = (*context)(nil)
	_ api.EngineSocket  = (*socket)(nil)
)

// Engine creates libzmq contexts.
type Engine struct{}

// New returns the libzmq engine.
func New() (api.Engine, error) {
	return &Engine{}, nil
}

// Version reports the linked libzmq version.
func (*Engine) Version() (major, minor, patch int) {
	return zmq4.Version()
}

// NewContext creates a native context with ioThreads I/O threads.
func (*Engine) NewContext(ioThreads int) (api.EngineContext, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, wrap("context", err)
	}
	if ioThreads > 0 {
		if err := ctx.SetIoThreads(ioThreads); err != nil {
			ctx.Term()
			return nil, wrap("io threads", err)
		}
	}
	return &context{ctx: ctx}, nil
}

// wrap converts zmq4 errors into *api.Error carrying the errno.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if n := zmq4.AsErrno(err); n != 0 {
		return api.NewEngineError(int(n), op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func wouldBlock(err error) bool {
	return zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN)
}

type context struct {
	ctx *zmq4.Context
}

func (c *context) NewSocket(t api.SocketType) (api.EngineSocket, error) {
	soc, err := c.ctx.NewSocket(zmq4.Type(t))
	if err != nil {
		return nil, wrap("socket", err)
	}
	return &socket{soc: soc}, nil
}

// Poll builds a zmq4 poller over items. Engine masks share libzmq values.
func (c *context) Poll(items []api.PollItem, timeout time.Duration) (int, error) {
	poller := zmq4.NewPoller()
	for _, it := range items {
		s, ok := it.Socket.(*socket)
		if !ok {
			return 0, api.NewEngineError(int(syscall.ENOTSOCK), "poll")
		}
		poller.Add(s.soc, zmq4.State(it.Events))
	}
	if timeout < 0 {
		timeout = -1
	}
	polled, err := poller.PollAll(timeout)
	if err != nil {
		return 0, wrap("poll", err)
	}
	n := 0
	for i := range items {
		items[i].Revents = api.Events(polled[i].Events) & items[i].Events
		if items[i].Revents != 0 {
			n++
		}
	}
	return n, nil
}

func (c *context) Term() error {
	return wrap("term", c.ctx.Term())
}

type socket struct {
	soc *zmq4.Socket
}

func (s *socket) Bind(addr string) error       { return wrap("bind", s.soc.Bind(addr)) }
func (s *socket) Unbind(addr string) error     { return wrap("unbind", s.soc.Unbind(addr)) }
func (s *socket) Connect(addr string) error    { return wrap("connect", s.soc.Connect(addr)) }
func (s *socket) Disconnect(addr string) error { return wrap("disconnect", s.soc.Disconnect(addr)) }

func flags(f api.Flag) zmq4.Flag {
	var out zmq4.Flag
	if f&api.FlagDontWait != 0 {
		out |= zmq4.DONTWAIT
	}
	if f&api.FlagSendMore != 0 {
		out |= zmq4.SNDMORE
	}
	return out
}

func (s *socket) Send(frame []byte, f api.Flag) (bool, error) {
	if _, err := s.soc.SendBytes(frame, flags(f)); err != nil {
		if wouldBlock(err) {
			return false, nil
		}
		return false, wrap("send", err)
	}
	return true, nil
}

func (s *socket) Recv(f api.Flag) ([]byte, bool, error) {
	b, err := s.soc.RecvBytes(flags(f))
	if err != nil {
		if wouldBlock(err) {
			return nil, false, nil
		}
		return nil, false, wrap("recv", err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, true, nil
}

func (s *socket) Events() (api.Events, error) {
	st, err := s.soc.GetEvents()
	if err != nil {
		return 0, wrap("events", err)
	}
	return api.Events(st), nil
}

func (s *socket) HasMore() (bool, error) {
	more, err := s.soc.GetRcvmore()
	return more, wrap("rcvmore", err)
}

func (s *socket) FD() (uintptr, error) {
	fd, err := s.soc.GetFd()
	if err != nil {
		return 0, wrap("fd", err)
	}
	return uintptr(fd), nil
}

func (s *socket) Close() error {
	return wrap("close", s.soc.Close())
}
