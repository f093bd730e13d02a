// File: api/loop.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Host event loop boundary. A Loop is the "thread" that owns a context or a
// socket: every operation on an owned socket, including its close, must run
// inside the owner's loop.

package api

// Loop is a single-goroutine cooperative event loop.
type Loop interface {
	Executor
	Scheduler

	// InLoop reports whether the caller runs on the loop goroutine.
	InLoop() bool
}
