// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
//
// Size-class byte pool backing message frames.

package pool

import (
	"math/bits"
	"sync/atomic"
)

// BytePool hands out slices from power-of-two size classes between minSize
// and maxSize. Larger requests are allocated directly and never pooled.
type BytePool struct {
	minShift int
	maxShift int
	classes  []*SyncPool[*[]byte]

	gets   atomic.Int64
	puts   atomic.Int64
	misses atomic.Int64
}

// Default is the process-wide pool used by messages.
var Default = NewBytePool(64, 1<<20)

// NewBytePool creates a pool; sizes are rounded up to powers of two.
func NewBytePool(minSize, maxSize int) *BytePool {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	b := &BytePool{
		minShift: shiftFor(minSize),
		maxShift: shiftFor(maxSize),
	}
	for s := b.minShift; s <= b.maxShift; s++ {
		size := 1 << s
		b.classes = append(b.classes, NewSyncPool(func() *[]byte {
			buf := make([]byte, size)
			return &buf
		}, nil))
	}
	return b
}

func shiftFor(size int) int {
	if size <= 1 {
		return 0
	}
	return bits.Len(uint(size - 1))
}

// Get returns a slice of length size. Contents are not zeroed.
func (b *BytePool) Get(size int) []byte {
	b.gets.Add(1)
	s := shiftFor(size)
	if s < b.minShift {
		s = b.minShift
	}
	if s > b.maxShift {
		b.misses.Add(1)
		return make([]byte, size)
	}
	buf := b.classes[s-b.minShift].Get()
	return (*buf)[:size]
}

// Put returns buf to its size class. Slices whose capacity is not an exact
// class size are dropped.
func (b *BytePool) Put(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	s := shiftFor(c)
	if s < b.minShift || s > b.maxShift {
		return
	}
	b.puts.Add(1)
	buf = buf[:c]
	b.classes[s-b.minShift].Put(&buf)
}

// Allocated returns how many class buffers have been built so far.
func (b *BytePool) Allocated() int64 {
	var n int64
	for _, c := range b.classes {
		n += c.Allocs()
	}
	return n
}

// Stats reports get/put/miss counters.
func (b *BytePool) Stats() (gets, puts, misses int64) {
	return b.gets.Load(), b.puts.Load(), b.misses.Load()
}
