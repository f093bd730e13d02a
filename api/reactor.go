// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Descriptor readiness notification contract. Watches are delivered onto a
// Loop, never on the poller goroutine itself.

package api

// Watcher installs repeating low-level activity watches on descriptors.
type Watcher interface {
	// Watch arms a watch for one kind of activity (EventReadable or
	// EventWritable) on fd. The callback is submitted to loop each time
	// the descriptor becomes active while the watch is enabled.
	Watch(fd uintptr, kind Events, loop Loop, cb func()) (Watch, error)
}

// Watch is a single installed descriptor watch.
type Watch interface {
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}
