// Package api
// Author: momentics
//
// Scheduler contract for timed job execution on a host loop.

package api

import "time"

// Scheduler abstracts one-shot timer scheduling.
type Scheduler interface {
	// Schedule runs fn on the loop after delay has elapsed.
	Schedule(delay time.Duration, fn func()) (Cancelable, error)
}

// Cancelable is a pending operation that may be withdrawn.
type Cancelable interface {
	// Cancel reports whether the operation was withdrawn before it ran.
	Cancel() bool
}
