// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"syscall"
	"time"

	"github.com/momentics/hioload-mq/api"
)

var _ api.EngineSocket = (*Socket)(nil)

type link struct {
	peer *Socket
	addr string
}

type envelope struct {
	from   *Socket
	frames [][]byte
}

// Socket implements api.EngineSocket. Its state is guarded by the engine
// lock.
type Socket struct {
	e   *Engine
	ctx *Context
	typ api.SocketType
	fd  uintptr

	options map[api.Option][]byte
	subs    [][]byte
	bound   []string
	links   []link
	rr      int

	inbox []envelope
	cur   [][]byte
	idx   int
	more  bool
	out   [][]byte

	awaitingReply bool // REQ
	replying      bool // REP
	replyTo       *Socket
	replyEnv      [][]byte

	sendFault fault
	recvFault fault
	sends     int

	closed bool
}

// fault fails the nth call counted from when it was armed.
type fault struct {
	n   int
	err error
}

func (f *fault) trip() (bool, error) {
	if f.n == 0 {
		return false, nil
	}
	f.n--
	if f.n > 0 {
		return false, nil
	}
	return true, f.err
}

func engineErr(op string, errno int) error {
	return api.NewEngineError(errno, op)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// SetOption stores v. Subscriptions are applied immediately.
func (s *Socket) SetOption(opt api.Option, v []byte) error {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return engineErr("setsockopt", int(syscall.ENOTSOCK))
	}
	switch opt {
	case api.OptSubscribe:
		if s.typ != api.TypeSub && s.typ != api.TypeXSub {
			return engineErr("setsockopt", int(syscall.EINVAL))
		}
		s.subs = append(s.subs, clone(v))
	case api.OptUnsubscribe:
		for i, sub := range s.subs {
			if bytes.Equal(sub, v) {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	case api.OptType, api.OptRcvMore, api.OptEvents, api.OptFD, api.OptLastEndpoint:
		return engineErr("setsockopt", int(syscall.EINVAL))
	default:
		s.options[opt] = clone(v)
	}
	return nil
}

func int32Bytes(v int32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(v))
	return b
}

func boolInt(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// Option returns the stored value or the engine default.
func (s *Socket) Option(opt api.Option) ([]byte, error) {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return nil, engineErr("getsockopt", int(syscall.ENOTSOCK))
	}
	switch opt {
	case api.OptType:
		return int32Bytes(int32(s.typ)), nil
	case api.OptRcvMore:
		return int32Bytes(boolInt(s.more)), nil
	case api.OptEvents:
		return int32Bytes(int32(s.eventsLocked())), nil
	case api.OptFD:
		return int32Bytes(int32(s.fd)), nil
	case api.OptLastEndpoint:
		if len(s.bound) == 0 {
			return []byte{}, nil
		}
		return []byte(s.bound[len(s.bound)-1]), nil
	}
	if v, ok := s.options[opt]; ok {
		return clone(v), nil
	}
	switch opt {
	case api.OptLinger:
		return int32Bytes(-1), nil
	case api.OptSndHWM, api.OptRcvHWM:
		return int32Bytes(1000), nil
	case api.OptIdentity, api.OptSubscribe, api.OptUnsubscribe:
		return []byte{}, nil
	case api.OptAffinity, api.OptMaxMsgSize:
		return make([]byte, 8), nil
	}
	return int32Bytes(0), nil
}

func (s *Socket) identity() []byte {
	if id := s.options[api.OptIdentity]; len(id) > 0 {
		return id
	}
	return []byte("fake-" + strconv.FormatUint(uint64(s.fd), 10))
}

// Bind claims addr and links every socket already connecting to it.
func (s *Socket) Bind(addr string) error {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return engineErr("bind", int(syscall.ENOTSOCK))
	}
	if addr == "" {
		return engineErr("bind", int(syscall.EINVAL))
	}
	if _, taken := e.endpoints[addr]; taken {
		return engineErr("bind", int(syscall.EADDRINUSE))
	}
	e.endpoints[addr] = s
	s.bound = append(s.bound, addr)
	for _, p := range e.pending[addr] {
		connect(s, p, addr)
	}
	delete(e.pending, addr)
	e.broadcast()
	return nil
}

// Unbind releases addr. Connected peers wait for a new bind.
func (s *Socket) Unbind(addr string) error {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return engineErr("unbind", int(syscall.ENOTSOCK))
	}
	if e.endpoints[addr] != s {
		return engineErr("unbind", int(syscall.ENOENT))
	}
	delete(e.endpoints, addr)
	for i, b := range s.bound {
		if b == addr {
			s.bound = append(s.bound[:i], s.bound[i+1:]...)
			break
		}
	}
	for _, l := range s.dropLinks(addr) {
		e.pending[addr] = append(e.pending[addr], l.peer)
	}
	e.broadcast()
	return nil
}

// Connect links to the socket bound at addr, now or once it binds.
func (s *Socket) Connect(addr string) error {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return engineErr("connect", int(syscall.ENOTSOCK))
	}
	if addr == "" {
		return engineErr("connect", int(syscall.EINVAL))
	}
	if b, ok := e.endpoints[addr]; ok {
		if b == s {
			return engineErr("connect", int(syscall.EINVAL))
		}
		connect(b, s, addr)
		e.broadcast()
		return nil
	}
	e.pending[addr] = append(e.pending[addr], s)
	return nil
}

// Disconnect drops the link made by Connect(addr).
func (s *Socket) Disconnect(addr string) error {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return engineErr("disconnect", int(syscall.ENOTSOCK))
	}
	if removePending(e, addr, s) {
		return nil
	}
	if len(s.dropLinks(addr)) == 0 {
		return engineErr("disconnect", int(syscall.ENOENT))
	}
	e.broadcast()
	return nil
}

func connect(binder, peer *Socket, addr string) {
	binder.links = append(binder.links, link{peer: peer, addr: addr})
	peer.links = append(peer.links, link{peer: binder, addr: addr})
}

// dropLinks removes every link made through addr on both ends.
func (s *Socket) dropLinks(addr string) []link {
	var dropped []link
	kept := s.links[:0]
	for _, l := range s.links {
		if l.addr == addr {
			dropped = append(dropped, l)
			l.peer.unlink(s, addr)
			continue
		}
		kept = append(kept, l)
	}
	s.links = kept
	return dropped
}

func (s *Socket) unlink(peer *Socket, addr string) {
	for i, l := range s.links {
		if l.peer == peer && l.addr == addr {
			s.links = append(s.links[:i], s.links[i+1:]...)
			return
		}
	}
}

func removePending(e *Engine, addr string, s *Socket) bool {
	list := e.pending[addr]
	for i, p := range list {
		if p == s {
			e.pending[addr] = append(list[:i], list[i+1:]...)
			if len(e.pending[addr]) == 0 {
				delete(e.pending, addr)
			}
			return true
		}
	}
	return false
}

// FailSend makes the nth Send from now transfer nothing and return err. A
// nil err reports the frame as not sent, like a would-block.
func (s *Socket) FailSend(n int, err error) {
	s.e.mu.Lock()
	s.sendFault = fault{n: n, err: err}
	s.e.mu.Unlock()
}

// FailRecv makes the nth Recv from now return no frame and err. A nil err
// reports nothing queued.
func (s *Socket) FailRecv(n int, err error) {
	s.e.mu.Lock()
	s.recvFault = fault{n: n, err: err}
	s.e.mu.Unlock()
}

// Sends returns how many Send calls reached the socket.
func (s *Socket) Sends() int {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.sends
}

// Send queues one frame; the message is routed once its last frame arrives.
func (s *Socket) Send(frame []byte, flags api.Flag) (bool, error) {
	e := s.e
	e.mu.Lock()
	if s.closed {
		e.mu.Unlock()
		return false, engineErr("send", int(syscall.ENOTSOCK))
	}
	s.sends++
	if hit, err := s.sendFault.trip(); hit {
		e.mu.Unlock()
		return false, err
	}
	if len(s.out) == 0 {
		if err := s.checkSendLocked(); err != nil {
			e.mu.Unlock()
			return false, err
		}
		for !s.writableLocked() {
			if flags&api.FlagDontWait != 0 {
				e.mu.Unlock()
				return false, nil
			}
			e.wait(time.Time{})
			if s.closed {
				e.mu.Unlock()
				return false, engineErr("send", int(api.ErrnoETERM))
			}
		}
	}
	s.out = append(s.out, clone(frame))
	if flags&api.FlagSendMore != 0 {
		e.mu.Unlock()
		return true, nil
	}
	msg := s.out
	s.out = nil
	fds := s.routeLocked(msg)
	e.broadcast()
	e.mu.Unlock()
	e.fire(fds)
	return true, nil
}

func (s *Socket) checkSendLocked() error {
	switch s.typ {
	case api.TypeSub, api.TypePull:
		return engineErr("send", int(syscall.ENOTSUP))
	case api.TypeReq:
		if s.awaitingReply {
			return engineErr("send", api.ErrnoEFSM)
		}
	case api.TypeRep:
		if !s.replying {
			return engineErr("send", api.ErrnoEFSM)
		}
	}
	return nil
}

func (s *Socket) writableLocked() bool {
	if s.closed {
		return false
	}
	switch s.typ {
	case api.TypePub, api.TypeXPub, api.TypeRouter:
		return true
	case api.TypeSub, api.TypePull:
		return false
	case api.TypeReq:
		return !s.awaitingReply && len(s.links) > 0
	case api.TypeRep:
		return s.replying
	}
	return len(s.links) > 0
}

func (s *Socket) readableLocked() bool {
	return !s.closed && (s.cur != nil || len(s.inbox) > 0)
}

func (s *Socket) eventsLocked() api.Events {
	var ev api.Events
	if s.readableLocked() {
		ev |= api.EventReadable
	}
	if s.writableLocked() {
		ev |= api.EventWritable
	}
	return ev
}

func (s *Socket) nextPeer() *Socket {
	if len(s.links) == 0 {
		return nil
	}
	s.rr = (s.rr + 1) % len(s.links)
	return s.links[s.rr].peer
}

// routeLocked delivers msg and returns the descriptors that became readable.
func (s *Socket) routeLocked(msg [][]byte) []uintptr {
	var fds []uintptr
	deliver := func(to *Socket, frames [][]byte) {
		if to == nil || to.closed {
			return
		}
		if to.typ == api.TypeRouter {
			frames = append([][]byte{clone(s.identity())}, frames...)
		}
		to.inbox = append(to.inbox, envelope{from: s, frames: frames})
		fds = append(fds, to.fd)
	}

	switch s.typ {
	case api.TypePub, api.TypeXPub:
		for _, l := range s.links {
			if l.peer.typ == api.TypeXSub || (l.peer.typ == api.TypeSub && l.peer.matches(msg[0])) {
				deliver(l.peer, msg)
			}
		}
	case api.TypeReq:
		s.awaitingReply = true
		deliver(s.nextPeer(), append([][]byte{{}}, msg...))
	case api.TypeRep:
		to, env := s.replyTo, s.replyEnv
		s.replying, s.replyTo, s.replyEnv = false, nil, nil
		deliver(to, append(append([][]byte(nil), env...), msg...))
	case api.TypeRouter:
		id, rest := msg[0], msg[1:]
		for _, l := range s.links {
			if bytes.Equal(l.peer.identity(), id) {
				deliver(l.peer, rest)
				break
			}
		}
	default:
		deliver(s.nextPeer(), msg)
	}
	return fds
}

func (s *Socket) matches(topic []byte) bool {
	for _, sub := range s.subs {
		if bytes.HasPrefix(topic, sub) {
			return true
		}
	}
	return false
}

// Recv returns the next frame of the current message.
func (s *Socket) Recv(flags api.Flag) ([]byte, bool, error) {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if hit, err := s.recvFault.trip(); hit && !s.closed {
		return nil, false, err
	}
	for {
		if s.closed {
			return nil, false, engineErr("recv", int(syscall.ENOTSOCK))
		}
		if s.readableLocked() {
			break
		}
		if flags&api.FlagDontWait != 0 {
			return nil, false, nil
		}
		e.wait(time.Time{})
	}
	if s.cur == nil {
		s.openLocked()
	}
	frame := clone(s.cur[s.idx])
	s.idx++
	s.more = s.idx < len(s.cur)
	if !s.more {
		s.cur, s.idx = nil, 0
		if s.typ == api.TypeReq {
			s.awaitingReply = false
		}
	}
	return frame, true, nil
}

// openLocked pops the next envelope and strips routing frames the socket
// type hides from the application.
func (s *Socket) openLocked() {
	env := s.inbox[0]
	s.inbox[0] = envelope{}
	s.inbox = s.inbox[1:]

	body := env.frames
	switch s.typ {
	case api.TypeRep:
		var route [][]byte
		for i, f := range body {
			if len(f) == 0 {
				route, body = body[:i+1], body[i+1:]
				break
			}
		}
		s.replying, s.replyTo, s.replyEnv = true, env.from, route
	case api.TypeReq:
		for i, f := range body {
			if len(f) == 0 {
				body = body[i+1:]
				break
			}
		}
	}
	if len(body) == 0 {
		body = [][]byte{{}}
	}
	s.cur, s.idx = body, 0
}

// HasMore reports whether the message being read has unread frames.
func (s *Socket) HasMore() (bool, error) {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return false, engineErr("getsockopt", int(syscall.ENOTSOCK))
	}
	return s.more, nil
}

// Events returns the readiness mask.
func (s *Socket) Events() (api.Events, error) {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return 0, engineErr("getsockopt", int(syscall.ENOTSOCK))
	}
	return s.eventsLocked(), nil
}

// FD returns the fake descriptor. It is unique within the engine.
func (s *Socket) FD() (uintptr, error) {
	return s.fd, nil
}

// Close unlinks the socket and drops its queued messages.
func (s *Socket) Close() error {
	e := s.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, addr := range s.bound {
		delete(e.endpoints, addr)
	}
	for addr := range e.pending {
		removePending(e, addr, s)
	}
	for _, l := range s.links {
		l.peer.unlink(s, l.addr)
	}
	s.links, s.inbox, s.cur = nil, nil, nil
	delete(s.ctx.sockets, s)
	delete(e.byFD, s.fd)
	e.closes.Add(1)
	e.broadcast()
	return nil
}
