// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"
	"sync/atomic"
)

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

var _ ObjectPool[*[]byte] = (*SyncPool[*[]byte])(nil)

// SyncPool is a typed sync.Pool. It counts fresh allocations so callers can
// tell how often reuse failed.
type SyncPool[T any] struct {
	pool   sync.Pool
	reset  func(T)
	allocs atomic.Int64
}

// NewSyncPool creates a pool filled by creator. reset, if not nil, runs on
// every object handed back through Put.
func NewSyncPool[T any](creator func() T, reset func(T)) *SyncPool[T] {
	sp := &SyncPool[T]{reset: reset}
	sp.pool.New = func() any {
		sp.allocs.Add(1)
		return creator()
	}
	return sp
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		sp.reset(obj)
	}
	sp.pool.Put(obj)
}

// Allocs returns how many objects creator has built.
func (sp *SyncPool[T]) Allocs() int64 { return sp.allocs.Load() }
