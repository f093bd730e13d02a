// File: mq/sockopt.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/momentics/hioload-mq/api"
)

// SetOptionString sets a string-valued option.
func (s *Socket) SetOptionString(opt api.Option, v string) error {
	return s.SetOption(opt, []byte(v))
}

// SetOptionInt sets a 32-bit integer option.
func (s *Socket) SetOptionInt(opt api.Option, v int32) error {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(v))
	return s.SetOption(opt, b)
}

// SetOptionInt64 sets a signed 64-bit option.
func (s *Socket) SetOptionInt64(opt api.Option, v int64) error {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, uint64(v))
	return s.SetOption(opt, b)
}

// SetOptionUint64 sets an unsigned 64-bit option.
func (s *Socket) SetOptionUint64(opt api.Option, v uint64) error {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, v)
	return s.SetOption(opt, b)
}

// OptionString reads an option as a string.
func (s *Socket) OptionString(opt api.Option) (string, error) {
	b, err := s.Option(opt)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// OptionInt reads a 32-bit integer option.
func (s *Socket) OptionInt(opt api.Option) (int32, error) {
	b, err := s.Option(opt)
	if err != nil {
		return 0, err
	}
	if len(b) < 4 {
		return 0, fmt.Errorf("option %d: %d bytes, want 4: %w", opt, len(b), api.ErrInvalidArgument)
	}
	return int32(binary.NativeEndian.Uint32(b)), nil
}

// OptionInt64 reads a signed 64-bit option.
func (s *Socket) OptionInt64(opt api.Option) (int64, error) {
	v, err := s.OptionUint64(opt)
	return int64(v), err
}

// OptionUint64 reads an unsigned 64-bit option.
func (s *Socket) OptionUint64(opt api.Option) (uint64, error) {
	b, err := s.Option(opt)
	if err != nil {
		return 0, err
	}
	if len(b) < 8 {
		return 0, fmt.Errorf("option %d: %d bytes, want 8: %w", opt, len(b), api.ErrInvalidArgument)
	}
	return binary.NativeEndian.Uint64(b), nil
}

// SetIdentity sets the routing identity seen by ROUTER peers.
func (s *Socket) SetIdentity(id string) error {
	return s.SetOptionString(api.OptIdentity, id)
}

// Identity returns the routing identity.
func (s *Socket) Identity() (string, error) {
	return s.OptionString(api.OptIdentity)
}

// SetLinger sets how long Close keeps flushing unsent frames. A negative
// duration lingers forever.
func (s *Socket) SetLinger(d time.Duration) error {
	ms := int32(-1)
	if d >= 0 {
		ms = int32(d / time.Millisecond)
	}
	return s.SetOptionInt(api.OptLinger, ms)
}

// Linger returns the linger period, or -1 for infinite.
func (s *Socket) Linger() (time.Duration, error) {
	ms, err := s.OptionInt(api.OptLinger)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return -1, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// SetSendHWM sets the outbound high-water mark.
func (s *Socket) SetSendHWM(n int) error {
	return s.SetOptionInt(api.OptSndHWM, int32(n))
}

// SendHWM returns the outbound high-water mark.
func (s *Socket) SendHWM() (int, error) {
	v, err := s.OptionInt(api.OptSndHWM)
	return int(v), err
}

// SetReceiveHWM sets the inbound high-water mark.
func (s *Socket) SetReceiveHWM(n int) error {
	return s.SetOptionInt(api.OptRcvHWM, int32(n))
}

// ReceiveHWM returns the inbound high-water mark.
func (s *Socket) ReceiveHWM() (int, error) {
	v, err := s.OptionInt(api.OptRcvHWM)
	return int(v), err
}

// Subscribe adds a prefix filter on SUB sockets. An empty prefix matches
// everything.
func (s *Socket) Subscribe(prefix string) error {
	return s.SetOptionString(api.OptSubscribe, prefix)
}

// Unsubscribe removes one previously added prefix filter.
func (s *Socket) Unsubscribe(prefix string) error {
	return s.SetOptionString(api.OptUnsubscribe, prefix)
}
