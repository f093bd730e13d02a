// Package api
// Author: momentics
//
// Executor contract for cross-goroutine task dispatch.

package api

// Executor runs submitted tasks in submission order on its own goroutine.
type Executor interface {
	// Submit schedules task for execution. It fails with ErrLoopStopped
	// once the executor no longer accepts work.
	Submit(task func()) error
}
