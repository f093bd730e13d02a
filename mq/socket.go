// File: mq/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket wraps one engine endpoint. A socket belongs to exactly one loop:
// it must be used and closed from that loop only. Handlers registered with
// Handle receive every message the context strategy reads on its behalf.

package mq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
)

// MessageHandler receives one multipart message read from s.
type MessageHandler func(s *Socket, frames [][]byte)

type handlerEntry struct {
	id uint64
	fn MessageHandler
}

// Socket is created by Context.CreateSocket.
type Socket struct {
	id     uuid.UUID
	typ    api.SocketType
	native api.EngineSocket
	owner  api.Loop

	// ctx is cleared by whichever of Socket.Close or Context.Close runs first.
	ctx    atomic.Pointer[Context]
	closed atomic.Bool

	hmu      sync.Mutex
	handlers []handlerEntry
	nextID   uint64

	log *logrus.Entry
}

func newSocket(t api.SocketType, native api.EngineSocket, owner api.Loop, log *logrus.Entry) *Socket {
	id := uuid.New()
	return &Socket{
		id:     id,
		typ:    t,
		native: native,
		owner:  owner,
		log:    log.WithFields(logrus.Fields{"socket": id.String(), "type": t.String()}),
	}
}

// ID uniquely identifies the socket within the process.
func (s *Socket) ID() uuid.UUID { return s.id }

// Type returns the pattern role fixed at creation.
func (s *Socket) Type() api.SocketType { return s.typ }

// Loop returns the owning loop.
func (s *Socket) Loop() api.Loop { return s.owner }

// Context returns the registering context, or nil once either side closed.
func (s *Socket) Context() *Context { return s.ctx.Load() }

// IsClosed reports whether Close has run.
func (s *Socket) IsClosed() bool { return s.closed.Load() }

func (s *Socket) String() string {
	return fmt.Sprintf("%s socket %s", s.typ, s.id)
}

// SetOption passes a raw option value to the engine.
func (s *Socket) SetOption(opt api.Option, value []byte) error {
	if s.IsClosed() {
		return api.ErrSocketClosed
	}
	if err := s.native.SetOption(opt, value); err != nil {
		return fmt.Errorf("set option %d: %w", opt, err)
	}
	return nil
}

// Option reads a raw option value from the engine.
func (s *Socket) Option(opt api.Option) ([]byte, error) {
	if s.IsClosed() {
		return nil, api.ErrSocketClosed
	}
	v, err := s.native.Option(opt)
	if err != nil {
		return nil, fmt.Errorf("get option %d: %w", opt, err)
	}
	return v, nil
}

// Bind listens on addr.
func (s *Socket) Bind(addr string) error {
	return s.addressOp("bind", addr, s.native.Bind)
}

// Unbind stops listening on addr.
func (s *Socket) Unbind(addr string) error {
	return s.addressOp("unbind", addr, s.native.Unbind)
}

// Connect dials addr. The engine reconnects on its own.
func (s *Socket) Connect(addr string) error {
	return s.addressOp("connect", addr, s.native.Connect)
}

// Disconnect drops the connection made to addr.
func (s *Socket) Disconnect(addr string) error {
	return s.addressOp("disconnect", addr, s.native.Disconnect)
}

func (s *Socket) addressOp(op, addr string, fn func(string) error) error {
	if s.IsClosed() {
		return api.ErrSocketClosed
	}
	if err := fn(addr); err != nil {
		return fmt.Errorf("%s %s: %w", op, addr, err)
	}
	s.log.WithField("addr", addr).Debug(op)
	return nil
}

// SendMessage sends one frame. On success the engine owns the contents and
// m is released and left empty. It returns false without error when the
// frame would block under api.FlagDontWait; m is untouched then.
func (s *Socket) SendMessage(m *Message, flags api.Flag) (bool, error) {
	ok, err := s.SendBytes(m.Bytes(), flags)
	if ok {
		m.Close()
	}
	return ok, err
}

// SendBytes sends one frame from b.
func (s *Socket) SendBytes(b []byte, flags api.Flag) (bool, error) {
	if s.IsClosed() {
		return false, api.ErrSocketClosed
	}
	ok, err := s.native.Send(b, flags)
	if err != nil {
		return false, fmt.Errorf("send: %w", err)
	}
	return ok, nil
}

// SendMultipart sends frames as one message, marking all but the last with
// api.FlagSendMore. It stops at the first frame that fails or would block;
// frames already queued are left to the engine. An empty list succeeds
// without sending anything.
func (s *Socket) SendMultipart(frames [][]byte, flags api.Flag) (bool, error) {
	last := len(frames) - 1
	for i, f := range frames {
		fl := flags
		if i < last {
			fl |= api.FlagSendMore
		}
		ok, err := s.SendBytes(f, fl)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// ReceiveMessage reads one frame into m. It returns false without error
// when nothing is queued under api.FlagDontWait.
func (s *Socket) ReceiveMessage(m *Message, flags api.Flag) (bool, error) {
	if s.IsClosed() {
		return false, api.ErrSocketClosed
	}
	frame, ok, err := s.native.Recv(flags)
	if err != nil {
		return false, fmt.Errorf("receive: %w", err)
	}
	if !ok {
		return false, nil
	}
	m.Move(NewMessageTakeover(frame, nil, nil))
	return true, nil
}

// ReceiveMultipart drains one logical message. It returns nil when nothing
// is queued. If a receive yields nothing after the first frame the frames
// read so far are returned as the message; this truncation is best-effort
// and only possible with api.FlagDontWait. On error the frames read so far
// are returned alongside it.
func (s *Socket) ReceiveMultipart(flags api.Flag) ([][]byte, error) {
	if s.IsClosed() {
		return nil, api.ErrSocketClosed
	}
	var parts [][]byte
	for {
		frame, ok, err := s.native.Recv(flags)
		if err != nil {
			return parts, fmt.Errorf("receive: %w", err)
		}
		if !ok {
			if len(parts) > 0 {
				s.log.WithField("frames", len(parts)).Warn("multipart message truncated")
			}
			return parts, nil
		}
		parts = append(parts, frame)
		more, err := s.native.HasMore()
		if err != nil {
			return parts, fmt.Errorf("receive more flag: %w", err)
		}
		if !more {
			return parts, nil
		}
	}
}

// ReceiveAll drains every message currently queued. Do not use it on REQ
// or REP sockets: reading a second request before replying to the first
// breaks their turn-taking.
func (s *Socket) ReceiveAll(flags api.Flag) ([][][]byte, error) {
	var msgs [][][]byte
	for {
		frames, err := s.ReceiveMultipart(flags)
		if err != nil {
			return msgs, err
		}
		if len(frames) == 0 {
			return msgs, nil
		}
		msgs = append(msgs, frames)
	}
}

// Events returns the current readiness mask as reported by the engine.
func (s *Socket) Events() (api.Events, error) {
	if s.IsClosed() {
		return 0, api.ErrSocketClosed
	}
	ev, err := s.native.Events()
	if err != nil {
		return 0, fmt.Errorf("events: %w", err)
	}
	return ev, nil
}

// HasMoreParts reports whether the message being read has unread frames.
func (s *Socket) HasMoreParts() (bool, error) {
	if s.IsClosed() {
		return false, api.ErrSocketClosed
	}
	more, err := s.native.HasMore()
	if err != nil {
		return false, fmt.Errorf("more flag: %w", err)
	}
	return more, nil
}

// FD returns the engine notification descriptor. It stays valid until Close.
func (s *Socket) FD() (uintptr, error) {
	if s.IsClosed() {
		return 0, api.ErrSocketClosed
	}
	return s.native.FD()
}

// Close deregisters the socket from its context and releases the engine
// handle. It is idempotent and must run on the owning loop.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c := s.ctx.Swap(nil); c != nil {
		c.unregister(s)
	}
	if err := s.native.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	s.log.Debug("socket closed")
	return nil
}

// Handle registers h for messages read by the context strategy. Handlers
// run on the owning loop in registration order. The returned func removes h.
func (s *Socket) Handle(h MessageHandler) (cancel func()) {
	s.hmu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handlerEntry{id: id, fn: h})
	s.hmu.Unlock()

	return func() {
		s.hmu.Lock()
		defer s.hmu.Unlock()
		for i, e := range s.handlers {
			if e.id == id {
				s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

func (s *Socket) deliver(frames [][]byte) {
	s.hmu.Lock()
	hs := s.handlers
	s.hmu.Unlock()
	for _, h := range hs {
		h.fn(s, frames)
	}
}

// drain reads and delivers messages while the engine reports the socket
// readable. It stops early if a handler closes the socket.
func (s *Socket) drain() (int, error) {
	n := 0
	for !s.IsClosed() {
		ev, err := s.Events()
		if err != nil {
			return n, err
		}
		if ev&api.EventReadable == 0 {
			return n, nil
		}
		frames, err := s.ReceiveMultipart(api.FlagDontWait)
		if err != nil {
			return n, err
		}
		if len(frames) == 0 {
			return n, nil
		}
		n++
		s.deliver(frames)
	}
	return n, nil
}
