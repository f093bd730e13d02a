// File: api/engine.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Messaging engine boundary. Socket creation, option handling, framing and
// the multiplexed wait are delegated verbatim to an implementation of these
// interfaces (libzmq through pebbe/zmq4, or the in-memory fake).

package api

import "time"

// SocketType is fixed at socket creation. Values follow libzmq numbering.
type SocketType int

const (
	TypePair SocketType = iota
	TypePub
	TypeSub
	TypeReq
	TypeRep
	TypeDealer
	TypeRouter
	TypePull
	TypePush
	TypeXPub
	TypeXSub
)

var socketTypeNames = [...]string{"PAIR", "PUB", "SUB", "REQ", "REP", "DEALER", "ROUTER", "PULL", "PUSH", "XPUB", "XSUB"}

func (t SocketType) String() string {
	if t < 0 || int(t) >= len(socketTypeNames) {
		return "UNKNOWN"
	}
	return socketTypeNames[t]
}

// ParseSocketType maps a case-sensitive upper-case name back to its type.
func ParseSocketType(name string) (SocketType, error) {
	for i, n := range socketTypeNames {
		if n == name {
			return SocketType(i), nil
		}
	}
	return 0, ErrInvalidArgument
}

// Events is a readiness mask.
type Events uint32

const (
	EventReadable Events = 1 << iota
	EventWritable
	EventError
)

func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	add := func(flag Events, name string) {
		if e&flag == 0 {
			return
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	add(EventReadable, "in")
	add(EventWritable, "out")
	add(EventError, "err")
	return s
}

// Option is a raw engine option key. Values follow libzmq numbering.
type Option int

const (
	OptAffinity     Option = 4
	OptIdentity     Option = 5
	OptSubscribe    Option = 6
	OptUnsubscribe  Option = 7
	OptRate         Option = 8
	OptRecoveryIvl  Option = 9
	OptSndBuf       Option = 11
	OptRcvBuf       Option = 12
	OptRcvMore      Option = 13
	OptFD           Option = 14
	OptEvents       Option = 15
	OptType         Option = 16
	OptLinger       Option = 17
	OptReconnectIvl Option = 18
	OptBacklog      Option = 19
	OptMaxMsgSize   Option = 22
	OptSndHWM       Option = 23
	OptRcvHWM       Option = 24
	OptRcvTimeo     Option = 27
	OptSndTimeo     Option = 28
	OptLastEndpoint Option = 32
)

// Flag modifies a single send or receive.
type Flag int

const (
	FlagNone     Flag = 0
	FlagDontWait Flag = 1
	FlagSendMore Flag = 2
)

// Engine creates native contexts.
type Engine interface {
	NewContext(ioThreads int) (EngineContext, error)
	Version() (major, minor, patch int)
}

// EngineContext owns native sockets and the multiplexed wait.
type EngineContext interface {
	NewSocket(t SocketType) (EngineSocket, error)

	// Poll waits up to timeout for any item to match its Events mask and
	// stores the observed mask into Revents. A negative timeout blocks.
	// It returns the number of items with a non-zero Revents.
	Poll(items []PollItem, timeout time.Duration) (int, error)

	// Term blocks until every socket of the context has been closed.
	Term() error
}

// EngineSocket is one native endpoint. It is not safe for concurrent use.
type EngineSocket interface {
	SetOption(opt Option, value []byte) error
	Option(opt Option) ([]byte, error)

	Bind(addr string) error
	Unbind(addr string) error
	Connect(addr string) error
	Disconnect(addr string) error

	// Send queues one frame. It returns false without error when the
	// frame would block under FlagDontWait.
	Send(frame []byte, flags Flag) (bool, error)

	// Recv returns one frame, or ok=false when nothing is queued under
	// FlagDontWait.
	Recv(flags Flag) (frame []byte, ok bool, err error)

	Events() (Events, error)
	HasMore() (bool, error)

	// FD returns the notification descriptor, stable until Close.
	FD() (uintptr, error)

	Close() error
}

// PollItem pairs a native socket with the watched and observed masks.
type PollItem struct {
	Socket  EngineSocket
	Events  Events
	Revents Events
}
