// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for descriptor readiness.

package reactor

// FDEventType is a readiness bit set reported by the reactor.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// FDCallback receives readiness for a registered descriptor. It runs on the
// goroutine calling Poll.
type FDCallback func(fd uintptr, events FDEventType)

// Reactor defines basic edge-triggered reactor operations.
type Reactor interface {
	// Register adds fd with the given interest set.
	Register(fd uintptr, events FDEventType, cb FDCallback) error

	// Modify replaces the interest set of fd and re-arms the edge, so an
	// fd that is already ready is reported again. Zero disables fd.
	Modify(fd uintptr, events FDEventType) error

	// Unregister removes fd.
	Unregister(fd uintptr) error

	// Poll waits up to timeoutMs (< 0 blocks) and dispatches callbacks.
	Poll(timeoutMs int) error

	// Close releases the reactor.
	Close() error
}
