// File: mq/message.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message is the owned unit of transfer for one frame.

package mq

import (
	"github.com/momentics/hioload-mq/pool"
)

// FreeFunc releases memory taken over by NewMessageTakeover.
type FreeFunc func(data []byte, hint any)

// Message owns one contiguous frame buffer. The zero value is an empty
// message. A Message is not safe for concurrent use.
type Message struct {
	data []byte
	free FreeFunc
	hint any
}

func poolFree(data []byte, _ any) {
	pool.Default.Put(data)
}

// NewMessage allocates a message of size bytes from the frame pool.
func NewMessage(size int) *Message {
	m := &Message{}
	m.Rebuild(size)
	return m
}

// NewMessageFrom copies b into a new message; later changes to b are not
// observed.
func NewMessageFrom(b []byte) *Message {
	m := NewMessage(len(b))
	copy(m.data, b)
	return m
}

// NewMessageTakeover adopts data without copying. free, if non-nil, is
// called exactly once with data and hint when the message releases it.
func NewMessageTakeover(data []byte, free FreeFunc, hint any) *Message {
	return &Message{data: data, free: free, hint: hint}
}

// Bytes returns the frame contents. The slice is owned by the message.
func (m *Message) Bytes() []byte { return m.data }

// Size returns the frame length.
func (m *Message) Size() int { return len(m.data) }

// Rebuild releases the current buffer and allocates size fresh bytes.
func (m *Message) Rebuild(size int) {
	m.release()
	if size <= 0 {
		return
	}
	m.data = pool.Default.Get(size)
	m.free = poolFree
}

// Move transfers ownership of src's buffer to m, leaving src empty.
func (m *Message) Move(src *Message) {
	if m == src {
		return
	}
	m.release()
	m.data, m.free, m.hint = src.data, src.free, src.hint
	src.data, src.free, src.hint = nil, nil, nil
}

// Copy replaces m's contents with a deep duplicate of src.
func (m *Message) Copy(src *Message) {
	if m == src {
		return
	}
	m.Rebuild(len(src.data))
	copy(m.data, src.data)
}

// Clone returns a deep duplicate of m.
func (m *Message) Clone() *Message {
	return NewMessageFrom(m.data)
}

// ToBytes returns a caller-owned copy of the frame.
func (m *Message) ToBytes() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Close releases the buffer. The message stays usable as an empty message.
func (m *Message) Close() {
	m.release()
}

func (m *Message) release() {
	if m.free != nil && m.data != nil {
		m.free(m.data, m.hint)
	}
	m.data, m.free, m.hint = nil, nil, nil
}
