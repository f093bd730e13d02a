//go:build zmq

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// zmq4 exposes typed option accessors only, so raw option bytes are decoded
// here by key. Integers use native byte order, as libzmq does.

package zmq

import (
	"encoding/binary"
	"syscall"
	"time"

	"github.com/momentics/hioload-mq/api"
)

func int32Of(v []byte) (int, error) {
	if len(v) < 4 {
		return 0, api.NewEngineError(int(syscall.EINVAL), "setsockopt")
	}
	return int(int32(binary.NativeEndian.Uint32(v))), nil
}

func uint64Of(v []byte) (uint64, error) {
	if len(v) < 8 {
		return 0, api.NewEngineError(int(syscall.EINVAL), "setsockopt")
	}
	return binary.NativeEndian.Uint64(v), nil
}

func millis(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

func fromMillis(d time.Duration) int32 {
	if d < 0 {
		return -1
	}
	return int32(d / time.Millisecond)
}

func int32Bytes(v int32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(v))
	return b
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, v)
	return b
}

func (s *socket) SetOption(opt api.Option, v []byte) error {
	switch opt {
	case api.OptIdentity:
		return wrap("identity", s.soc.SetIdentity(string(v)))
	case api.OptSubscribe:
		return wrap("subscribe", s.soc.SetSubscribe(string(v)))
	case api.OptUnsubscribe:
		return wrap("unsubscribe", s.soc.SetUnsubscribe(string(v)))
	case api.OptAffinity:
		n, err := uint64Of(v)
		if err != nil {
			return err
		}
		return wrap("affinity", s.soc.SetAffinity(n))
	case api.OptMaxMsgSize:
		n, err := uint64Of(v)
		if err != nil {
			return err
		}
		return wrap("maxmsgsize", s.soc.SetMaxmsgsize(int64(n)))
	}

	n, err := int32Of(v)
	if err != nil {
		return err
	}
	switch opt {
	case api.OptRate:
		return wrap("rate", s.soc.SetRate(n))
	case api.OptRecoveryIvl:
		return wrap("recovery_ivl", s.soc.SetRecoveryIvl(millis(n)))
	case api.OptSndBuf:
		return wrap("sndbuf", s.soc.SetSndbuf(n))
	case api.OptRcvBuf:
		return wrap("rcvbuf", s.soc.SetRcvbuf(n))
	case api.OptLinger:
		return wrap("linger", s.soc.SetLinger(millis(n)))
	case api.OptReconnectIvl:
		return wrap("reconnect_ivl", s.soc.SetReconnectIvl(millis(n)))
	case api.OptBacklog:
		return wrap("backlog", s.soc.SetBacklog(n))
	case api.OptSndHWM:
		return wrap("sndhwm", s.soc.SetSndhwm(n))
	case api.OptRcvHWM:
		return wrap("rcvhwm", s.soc.SetRcvhwm(n))
	case api.OptRcvTimeo:
		return wrap("rcvtimeo", s.soc.SetRcvtimeo(millis(n)))
	case api.OptSndTimeo:
		return wrap("sndtimeo", s.soc.SetSndtimeo(millis(n)))
	}
	return api.NewEngineError(int(syscall.EINVAL), "setsockopt").WithContext("option", int(opt))
}

func (s *socket) Option(opt api.Option) ([]byte, error) {
	var (
		i   int
		d   time.Duration
		err error
	)
	switch opt {
	case api.OptIdentity:
		id, err := s.soc.GetIdentity()
		return []byte(id), wrap("identity", err)
	case api.OptLastEndpoint:
		ep, err := s.soc.GetLastEndpoint()
		return []byte(ep), wrap("last_endpoint", err)
	case api.OptAffinity:
		n, err := s.soc.GetAffinity()
		return uint64Bytes(n), wrap("affinity", err)
	case api.OptMaxMsgSize:
		n, err := s.soc.GetMaxmsgsize()
		return uint64Bytes(uint64(n)), wrap("maxmsgsize", err)
	case api.OptRcvMore:
		more, err := s.soc.GetRcvmore()
		if more {
			i = 1
		}
		return int32Bytes(int32(i)), wrap("rcvmore", err)
	case api.OptEvents:
		st, err := s.soc.GetEvents()
		return int32Bytes(int32(st)), wrap("events", err)
	case api.OptType:
		t, err := s.soc.GetType()
		return int32Bytes(int32(t)), wrap("type", err)
	case api.OptFD:
		fd, err := s.soc.GetFd()
		return int32Bytes(int32(fd)), wrap("fd", err)
	case api.OptRate:
		i, err = s.soc.GetRate()
	case api.OptSndBuf:
		i, err = s.soc.GetSndbuf()
	case api.OptRcvBuf:
		i, err = s.soc.GetRcvbuf()
	case api.OptBacklog:
		i, err = s.soc.GetBacklog()
	case api.OptSndHWM:
		i, err = s.soc.GetSndhwm()
	case api.OptRcvHWM:
		i, err = s.soc.GetRcvhwm()
	case api.OptRecoveryIvl:
		d, err = s.soc.GetRecoveryIvl()
		i = int(fromMillis(d))
	case api.OptLinger:
		d, err = s.soc.GetLinger()
		i = int(fromMillis(d))
	case api.OptReconnectIvl:
		d, err = s.soc.GetReconnectIvl()
		i = int(fromMillis(d))
	case api.OptRcvTimeo:
		d, err = s.soc.GetRcvtimeo()
		i = int(fromMillis(d))
	case api.OptSndTimeo:
		d, err = s.soc.GetSndtimeo()
		i = int(fromMillis(d))
	default:
		return nil, api.NewEngineError(int(syscall.EINVAL), "getsockopt").WithContext("option", int(opt))
	}
	if err != nil {
		return nil, wrap("getsockopt", err)
	}
	return int32Bytes(int32(i)), nil
}
